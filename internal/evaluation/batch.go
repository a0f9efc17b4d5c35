package evaluation

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ResultKeyPrefix = "result"
	workflowKey     = "arg1"
)

// Batch maps result keys to evaluation payloads.
type Batch map[string]map[string]any

// Keys returns the result keys in a stable order.
func (b Batch) Keys() []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UnwrapWorkflow returns the object under "arg1" when a workflow tool wrapped
// the batch in it, otherwise body itself.
func UnwrapWorkflow(body map[string]any) map[string]any {
	if inner, ok := body[workflowKey].(map[string]any); ok && len(inner) > 0 {
		return inner
	}
	return body
}

// SplitBatch collects every "result*" entry of body. When there is none, the
// whole body is one evaluation stored under fallbackKey.
func SplitBatch(body map[string]any, fallbackKey string) (Batch, error) {
	batch := make(Batch)
	for key, value := range body {
		if !strings.HasPrefix(key, ResultKeyPrefix) {
			continue
		}
		payload, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("evaluation %s must be a JSON object", key)
		}
		batch[key] = payload
	}

	if len(batch) == 0 {
		batch[fallbackKey] = body
	}
	return batch, nil
}
