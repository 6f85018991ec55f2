package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhle/inboxdigest/internal/model"
)

const usageText = `Usage: inboxdigest [-config path] <command> [args]

Commands:
  run                       start the sync loop with the terminal UI (default)
  serve [-addr host:port]   start the sync loop headless with the HTTP API
  sync                      run one sync cycle and print the result
  auth gmail                authorize Gmail read access and store the token
  auth imap                 store the IMAP password in the keyring
  auth key gemini|anthropic store a summarizer API key in the keyring
`

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "config file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usageText) }
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot load config: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	command := "run"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		err = runTUI(ctx, cfg, *configPath)
	case "serve":
		err = serve(ctx, cfg, *configPath, args)
	case "sync":
		err = syncOnce(ctx, cfg)
	case "auth":
		err = auth(ctx, cfg, args)
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
