package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/inboxdigest/internal/app"
	"github.com/nhle/inboxdigest/internal/credential"
	"github.com/nhle/inboxdigest/internal/keys"
	"github.com/nhle/inboxdigest/internal/mail/gmail"
	"github.com/nhle/inboxdigest/internal/model"
	isync "github.com/nhle/inboxdigest/internal/sync"
	"github.com/nhle/inboxdigest/internal/ui/tui"
)

// runTUI runs the coordinator in the background and the terminal UI in the
// foreground. Logs go to a file so they do not tear the screen.
func runTUI(ctx context.Context, cfg *model.AppConfig, configPath string) error {
	if err := os.MkdirAll(model.ConfigDir(), 0o755); err != nil {
		return err
	}
	logFile, err := tea.LogToFile(filepath.Join(model.ConfigDir(), "inboxdigest.log"), "")
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.WatchConfig(configPath)

	pushes, unsubscribe, err := a.Hub.Subscribe(0)
	if err != nil {
		return err
	}
	defer unsubscribe()

	initial, err := a.State.Recent(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(runCtx) }()

	p := tea.NewProgram(
		tui.New(a.Hub, pushes, keys.DefaultKeyMap(), initial),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err = p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		err = nil
	}

	cancel()
	if rerr := <-runErr; err == nil {
		err = rerr
	}
	return err
}

// serve runs headless with the HTTP API enabled.
func serve(ctx context.Context, cfg *model.AppConfig, configPath string, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", cfg.HTTP.Addr, "HTTP listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.HTTP.Enabled = true
	cfg.HTTP.Addr = *addr

	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.WatchConfig(configPath)
	return a.Run(ctx)
}

// syncOnce runs a single cycle and prints what it found.
func syncOnce(ctx context.Context, cfg *model.AppConfig) error {
	a, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}

	res, err := a.Coordinator.Orchestrator().SyncNow(ctx, isync.TriggerManual)
	if err != nil {
		return err
	}
	if res.Bootstrapped {
		fmt.Printf("Bootstrapped at cursor %s. New mail from now on will be summarized.\n", res.Cursor)
		return nil
	}

	fmt.Printf("%d new, %d skipped, %d failed (cursor %s)\n", len(res.Processed), res.Skipped, res.Failed, res.Cursor)
	for _, rec := range res.Processed {
		fmt.Printf("\n%s\n  from %s\n  %s\n", rec.Subject, rec.From, rec.Summary)
	}
	return nil
}

func auth(ctx context.Context, cfg *model.AppConfig, args []string) error {
	if len(args) == 0 {
		return errors.New("auth needs a target: gmail, imap or key")
	}

	creds, err := credential.Open()
	if err != nil {
		return err
	}

	switch args[0] {
	case "gmail":
		oauthCfg, err := gmail.LoadOAuthConfig(cfg.Gmail.CredentialsFile)
		if err != nil {
			return err
		}
		if err := gmail.Authorize(ctx, oauthCfg, creds, credential.KeyGmailToken, os.Stdin, os.Stdout); err != nil {
			return err
		}
		fmt.Println("Gmail token stored.")
		return nil

	case "imap":
		title := fmt.Sprintf("IMAP password for %s@%s", cfg.IMAP.Username, cfg.IMAP.Host)
		return promptSecret(creds, credential.KeyIMAPPassword, title)

	case "key":
		if len(args) < 2 {
			return errors.New("auth key needs gemini or anthropic")
		}
		switch args[1] {
		case "gemini":
			return promptSecret(creds, credential.KeyGeminiAPI, "Gemini API key")
		case "anthropic":
			return promptSecret(creds, credential.KeyAnthropicAPI, "Anthropic API key")
		default:
			return fmt.Errorf("unknown key %q", args[1])
		}

	default:
		return fmt.Errorf("unknown auth target %q", args[0])
	}
}

// promptSecret asks for a secret without echoing it and stores it under key.
func promptSecret(creds *credential.Store, key, title string) error {
	var value string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if s == "" {
				return errors.New("value is required")
			}
			return nil
		}).
		Value(&value).
		Run()
	if err != nil {
		return err
	}
	if err := creds.Set(key, value); err != nil {
		return err
	}
	fmt.Println("Stored.")
	return nil
}
