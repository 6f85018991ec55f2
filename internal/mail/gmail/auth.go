package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nhle/inboxdigest/internal/mail"
)

// TokenStore persists the OAuth token JSON, usually in the keyring.
type TokenStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// redirectWait bounds the loopback wait before falling back to a pasted
// code.
const redirectWait = 120 * time.Second

// LoadOAuthConfig reads the client secret JSON downloaded from the Google
// Cloud console. Only read access is requested.
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credentialsFile, err)
	}
	cfg, err := google.ConfigFromJSON(b, gmailv1.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}
	return cfg, nil
}

// NewService builds a Gmail service from the stored token. Refreshed
// tokens are written back to tokens under key. A missing token is an
// auth error; run the auth command first.
func NewService(ctx context.Context, cfg *oauth2.Config, tokens TokenStore, key string) (*gmailv1.Service, error) {
	raw, err := tokens.Get(key)
	if err != nil || raw == "" {
		return nil, &mail.AuthError{Provider: providerName, Message: "no stored token; run `inboxdigest auth gmail`"}
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, &mail.AuthError{Provider: providerName, Message: fmt.Sprintf("stored token is unreadable: %v", err)}
	}

	src := &savingTokenSource{
		base:   cfg.TokenSource(ctx, &tok),
		tokens: tokens,
		key:    key,
		last:   tok.AccessToken,
	}
	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(&tok, src))

	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// savingTokenSource persists every token it hands out that differs from
// the previous one.
type savingTokenSource struct {
	base   oauth2.TokenSource
	tokens TokenStore
	key    string

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := saveToken(s.tokens, s.key, tok); err != nil {
			log.Printf("[gmail] persisting refreshed token: %v", err)
		}
	}
	return tok, nil
}

func saveToken(tokens TokenStore, key string, tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return tokens.Set(key, string(b))
}

// Authorize runs the installed-app OAuth flow and stores the resulting
// token. It listens on a loopback port for the redirect; if that fails or
// times out, the user pastes the code or the full redirect URL into in.
func Authorize(ctx context.Context, cfg *oauth2.Config, tokens TokenStore, key string, in io.Reader, out io.Writer) error {
	tok, err := tokenFromWeb(ctx, cfg, in, out)
	if err != nil {
		return err
	}
	if err := saveToken(tokens, key, tok); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	fmt.Fprintln(out, "Authentication successful.")
	return nil
}

func tokenFromWeb(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	conf := *cfg

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err == nil {
		conf.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", ln.Addr().(*net.TCPAddr).Port)
		codes := make(chan string, 1)
		srv := &http.Server{
			ReadHeaderTimeout: 5 * time.Second,
			Handler:           redirectHandler(codes),
		}
		go func() { _ = srv.Serve(ln) }()
		defer func() { _ = srv.Shutdown(context.Background()) }()

		fmt.Fprintln(out, "Open this URL in your browser to authorize inboxdigest:")
		fmt.Fprintln(out, conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce))
		fmt.Fprintf(out, "Waiting for redirect on %s …\n", conf.RedirectURL)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case code := <-codes:
			return exchange(ctx, &conf, code)
		case <-time.After(redirectWait):
			fmt.Fprintln(out, "Timeout waiting for redirect; falling back to manual paste.")
		}
	}

	conf.RedirectURL = cfg.RedirectURL
	fmt.Fprintln(out, "Open this URL in your browser to authorize inboxdigest:")
	fmt.Fprintln(out, conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce))
	fmt.Fprintln(out, "Paste the AUTH CODE itself or the FULL redirect URL here, then press Enter.")
	fmt.Fprint(out, "> ")

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read auth code: %w", err)
		}
		return nil, errors.New("empty authorization code")
	}
	code, err := codeFromInput(sc.Text())
	if err != nil {
		return nil, err
	}
	return exchange(ctx, &conf, code)
}

func redirectHandler(codes chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})
}

// codeFromInput accepts a bare authorization code or a pasted redirect URL.
func codeFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", errors.New("no 'code' parameter found in pasted URL")
	}
	return code, nil
}

func exchange(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	return tok, nil
}
