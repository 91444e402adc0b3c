package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tphakala/fieldalias/cmd"
	"github.com/tphakala/fieldalias/internal/app"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	ctx := &app.Context{}
	rootCmd := cmd.RootCommand(ctx)

	err := rootCmd.ExecuteContext(context.Background())

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := ctx.Close(closeCtx); cerr != nil && err == nil {
		err = cerr
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
