package main

import (
	"context"
	"fmt"
	"os"

	"github.com/GriffinCanCode/kcore/internal/cmd/kcored"
)

func main() {
	if err := kcored.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "kcored:", err)
		os.Exit(1)
	}
}
