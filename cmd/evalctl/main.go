package main

import (
	"context"
	"fmt"
	"os"

	"github.com/eval-dashboard/backend/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "evalctl: %v\n", err)
		os.Exit(1)
	}
}
