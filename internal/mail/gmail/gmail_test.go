package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/nhle/inboxdigest/internal/mail"
)

func newTestProvider(t *testing.T, h http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	svc, err := gmailv1.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatal(err)
	}
	return New(svc, "")
}

func TestCurrentCursor(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/profile" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"emailAddress":"me@example.com","historyId":"4711"}`)
	}))

	got, err := p.CurrentCursor(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "4711" {
		t.Errorf("CurrentCursor = %q", got)
	}
}

func TestChangesSincePagesAndDedups(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/history" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("startHistoryId"); got != "100" {
			t.Errorf("startHistoryId = %q", got)
		}
		switch r.URL.Query().Get("pageToken") {
		case "":
			fmt.Fprint(w, `{"history":[
				{"id":"101","messagesAdded":[{"message":{"id":"a","labelIds":["INBOX"]}}]},
				{"id":"102","messagesAdded":[{"message":{"id":"spam","labelIds":["SPAM"]}}]}
			],"historyId":"110","nextPageToken":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"history":[
				{"id":"103","messagesAdded":[{"message":{"id":"b","labelIds":["INBOX","UNREAD"]}},{"message":{"id":"a","labelIds":["INBOX"]}}]}
			],"historyId":"112"}`)
		}
	}))

	changes, err := p.ChangesSince(context.Background(), "100")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(changes.AddedIDs, []string{"a", "b"}) {
		t.Errorf("AddedIDs = %v", changes.AddedIDs)
	}
	if changes.NewCursor != "112" {
		t.Errorf("NewCursor = %q", changes.NewCursor)
	}
}

func TestChangesSinceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"expired history", http.StatusNotFound, func(err error) bool { return errors.Is(err, mail.ErrCursorExpired) }},
		{"revoked token", http.StatusUnauthorized, mail.IsAuthError},
		{"forbidden", http.StatusForbidden, func(err error) bool {
			return err != nil && !mail.IsAuthError(err) && !errors.Is(err, mail.ErrCursorExpired)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tt.status)
			}))
			_, err := p.ChangesSince(context.Background(), "100")
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}

	p := newTestProvider(t, http.NotFoundHandler())
	if _, err := p.ChangesSince(context.Background(), "not-a-number"); err == nil {
		t.Error("expected error for malformed cursor")
	}
}

func b64(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func TestGetMessage(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gmail/v1/users/me/messages/m1" {
			http.NotFound(w, r)
			return
		}
		if got := r.URL.Query().Get("format"); got != "full" {
			t.Errorf("format = %q", got)
		}
		fmt.Fprintf(w, `{"id":"m1","threadId":"t1","snippet":"Please review","labelIds":["INBOX"],
			"payload":{"mimeType":"multipart/alternative",
				"headers":[{"name":"Subject","value":"Headcount"},{"name":"From","value":"Sarah <s@example.com>"}],
				"parts":[
					{"mimeType":"text/html","body":{"data":%q}},
					{"mimeType":"text/plain","body":{"data":%q}}
				]}}`, b64("<p>Please review</p>"), b64("Please review"))
	}))

	msg, err := p.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ThreadID != "t1" || msg.Header("subject") != "Headcount" {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.Body != "Please review" || msg.HTMLBody != "<p>Please review</p>" {
		t.Errorf("Body = %q, HTMLBody = %q", msg.Body, msg.HTMLBody)
	}
}

func TestDecodeBase64URLPadding(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte("hi?"))
	if got := decodeBase64URL(padded); got != "hi?" {
		t.Errorf("padded = %q", got)
	}
	if got := decodeBase64URL(b64("hello")); got != "hello" {
		t.Errorf("raw = %q", got)
	}
	if got := decodeBase64URL("***"); got != "" {
		t.Errorf("garbage = %q", got)
	}
}

func TestCodeFromInput(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  4/abc  ", "4/abc", false},
		{"http://127.0.0.1:5555/?state=x&code=4%2Fxyz", "4/xyz", false},
		{"https://example.com/?state=x", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := codeFromInput(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("codeFromInput(%q) = %q, %v", tt.in, got, err)
		}
	}
}

type mapTokens map[string]string

func (m mapTokens) Get(k string) (string, error) { return m[k], nil }
func (m mapTokens) Set(k, v string) error       { m[k] = v; return nil }

func TestNewServiceWithoutTokenIsAuthError(t *testing.T) {
	_, err := NewService(context.Background(), nil, mapTokens{}, "tok")
	if !mail.IsAuthError(err) {
		t.Errorf("err = %v, want auth error", err)
	}
}
