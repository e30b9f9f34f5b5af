package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	devicectlcmd "github.com/telekom/devicectl/pkg/devicectl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := devicectlcmd.DefaultConfig()
	cfg.Context = ctx
	root := devicectlcmd.NewRootCommand(cfg)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
