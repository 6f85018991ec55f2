// Package mail defines the mailbox provider contract the sync orchestrator
// polls, and the errors providers report through it.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Header is one message header as delivered by the provider.
type Header struct {
	Name  string
	Value string
}

// Message is a fetched mailbox message.
type Message struct {
	ID       string
	ThreadID string
	Headers  []Header

	// Body is the text/plain body. HTMLBody is set when the message has a
	// text/html part; callers fall back to it when Body is empty.
	Body     string
	HTMLBody string

	Snippet string
	Labels  []string
}

// Header returns the value of the first header named name, compared
// case-insensitively, or "".
func (m *Message) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// Text returns the plain body, or the HTML body when there is none.
func (m *Message) Text() string {
	if strings.TrimSpace(m.Body) != "" {
		return m.Body
	}
	return m.HTMLBody
}

// Changes is the result of an incremental fetch. NewCursor is empty when
// the provider did not report one.
type Changes struct {
	AddedIDs  []string
	NewCursor string
}

// Provider is an incrementally pollable mailbox.
type Provider interface {
	// CurrentCursor returns the mailbox position as of now. It is used to
	// bootstrap without processing history.
	CurrentCursor(ctx context.Context) (string, error)

	// ChangesSince lists messages added after cursor, in provider order.
	ChangesSince(ctx context.Context, cursor string) (Changes, error)

	// GetMessage fetches one message by id.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// CursorAdvances reports whether next is strictly ahead of prev.
	CursorAdvances(prev, next string) bool
}

// ErrCursorExpired is returned by ChangesSince when the provider no longer
// has history for the cursor. The caller should bootstrap again.
var ErrCursorExpired = errors.New("sync cursor expired")

// AuthError indicates that authentication has failed or expired for a
// provider.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Provider, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// NumericCursorAdvances compares two decimal cursors. Unparseable values
// never advance.
func NumericCursorAdvances(prev, next string) bool {
	n, err := strconv.ParseUint(next, 10, 64)
	if err != nil {
		return false
	}
	if prev == "" {
		return true
	}
	p, err := strconv.ParseUint(prev, 10, 64)
	if err != nil {
		return true
	}
	return n > p
}
