package main

import (
	"fmt"
	"os"

	"github.com/zjy-dev/cfuzz/cmd/defuzz/app"
)

func main() {
	if err := app.NewDefuzzCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
