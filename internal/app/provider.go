package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/inboxdigest/internal/credential"
	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/mail/gmail"
	"github.com/nhle/inboxdigest/internal/mail/imap"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/summarizer"
)

// Environment variables that take precedence over the keyring.
const (
	EnvIMAPPassword = "INBOXDIGEST_IMAP_PASSWORD"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
)

// NewProvider builds the mail provider named by cfg.Provider, loading its
// secret from the environment or the keyring.
func NewProvider(ctx context.Context, cfg *model.AppConfig, creds *credential.Store) (mail.Provider, error) {
	switch cfg.Provider {
	case "", "gmail":
		if creds == nil {
			return nil, errors.New("gmail needs the keyring to hold its oauth token")
		}
		oauthCfg, err := gmail.LoadOAuthConfig(cfg.Gmail.CredentialsFile)
		if err != nil {
			return nil, err
		}
		svc, err := gmail.NewService(ctx, oauthCfg, creds, credential.KeyGmailToken)
		if err != nil {
			return nil, err
		}
		return gmail.New(svc, cfg.Gmail.Label), nil

	case "imap":
		if cfg.IMAP.Host == "" || cfg.IMAP.Username == "" {
			return nil, errors.New("imap provider needs imap.host and imap.username")
		}
		password, err := creds.Lookup(EnvIMAPPassword, credential.KeyIMAPPassword)
		if err != nil {
			return nil, fmt.Errorf("loading imap password: %w", err)
		}
		if password == "" {
			return nil, &mail.AuthError{Provider: "imap", Message: "no password; set " + EnvIMAPPassword + " or store it in the keyring"}
		}
		return imap.New(cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.Username, password, cfg.IMAP.TLS, cfg.IMAP.Mailbox), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// newCapability resolves API keys and builds the summarizer backend.
func newCapability(cfg model.SummarizerConfig, creds *credential.Store) (summarizer.Capability, error) {
	var keys summarizer.Keys
	var err error
	if keys.Gemini, err = creds.Lookup(EnvGeminiKey, credential.KeyGeminiAPI); err != nil {
		return nil, fmt.Errorf("loading gemini key: %w", err)
	}
	if keys.Anthropic, err = creds.Lookup(EnvAnthropicKey, credential.KeyAnthropicAPI); err != nil {
		return nil, fmt.Errorf("loading anthropic key: %w", err)
	}
	return summarizer.New(cfg, keys)
}
