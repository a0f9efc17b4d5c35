package utils

import (
	"crypto/md5"
	"fmt"
)

func HashString(input string) string {
	return HashBytes([]byte(input))
}

func HashBytes(input []byte) string {
	hash := md5.Sum(input)
	return fmt.Sprintf("%x", hash)
}

// ETag returns a strong entity tag for a response body.
func ETag(body []byte) string {
	return `"` + HashBytes(body) + `"`
}
