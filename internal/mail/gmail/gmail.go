// Package gmail implements mail.Provider over the Gmail API. The sync
// cursor is the mailbox historyId.
package gmail

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/nhle/inboxdigest/internal/mail"
)

const (
	providerName = "gmail"
	user         = "me"
	pageSize     = 500
)

// Provider polls one label of a Gmail mailbox.
type Provider struct {
	svc   *gmailv1.Service
	label string
}

// New creates a provider for label, INBOX when empty.
func New(svc *gmailv1.Service, label string) *Provider {
	if label == "" {
		label = "INBOX"
	}
	return &Provider{svc: svc, label: label}
}

// CurrentCursor implements mail.Provider.
func (p *Provider) CurrentCursor(ctx context.Context) (string, error) {
	profile, err := p.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", classify("get profile", err)
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// ChangesSince implements mail.Provider. Added ids are returned oldest
// first, each once.
func (p *Provider) ChangesSince(ctx context.Context, cursor string) (mail.Changes, error) {
	startID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return mail.Changes{}, fmt.Errorf("invalid history id %q: %w", cursor, err)
	}

	call := p.svc.Users.History.List(user).
		StartHistoryId(startID).
		LabelId(p.label).
		HistoryTypes("messageAdded").
		MaxResults(pageSize)

	var changes mail.Changes
	seen := make(map[string]bool)

	for {
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return mail.Changes{}, classify("history list", err)
		}
		if resp.HistoryId != 0 {
			changes.NewCursor = strconv.FormatUint(resp.HistoryId, 10)
		}
		for _, h := range resp.History {
			for _, ma := range h.MessagesAdded {
				if ma.Message == nil || seen[ma.Message.Id] {
					continue
				}
				if len(ma.Message.LabelIds) > 0 && !contains(ma.Message.LabelIds, p.label) {
					continue
				}
				seen[ma.Message.Id] = true
				changes.AddedIDs = append(changes.AddedIDs, ma.Message.Id)
			}
		}
		if resp.NextPageToken == "" {
			break
		}
		call = call.PageToken(resp.NextPageToken)
	}
	return changes, nil
}

// GetMessage implements mail.Provider.
func (p *Provider) GetMessage(ctx context.Context, id string) (*mail.Message, error) {
	msg, err := p.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, classify("get message "+id, err)
	}

	out := &mail.Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			out.Headers = append(out.Headers, mail.Header{Name: h.Name, Value: h.Value})
		}
		out.Body = extractPlainText(msg.Payload)
		out.HTMLBody = extractHTML(msg.Payload)
	}
	return out, nil
}

// CursorAdvances implements mail.Provider.
func (p *Provider) CursorAdvances(prev, next string) bool {
	return mail.NumericCursorAdvances(prev, next)
}

// classify maps API failures onto the mail error taxonomy: 401 and token
// refresh failures are auth errors, 404 on history means the start id
// has aged out.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return &mail.AuthError{Provider: providerName, Message: fmt.Sprintf("%s: %s", op, gerr.Message)}
		case http.StatusNotFound:
			if op == "history list" {
				return fmt.Errorf("%s: %w", op, mail.ErrCursorExpired)
			}
		}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return &mail.AuthError{Provider: providerName, Message: fmt.Sprintf("%s: token refresh: %v", op, rerr)}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func contains[T comparable](arr []T, v T) bool {
	for _, x := range arr {
		if x == v {
			return true
		}
	}
	return false
}
