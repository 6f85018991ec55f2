// Package imap implements mail.Provider over IMAP. The sync cursor is
// "uidvalidity:uidnext" for the selected mailbox, and message ids are
// "uidvalidity-uid" so they stay unique across a mailbox reset.
package imap

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/inboxdigest/internal/mail"
)

const providerName = "imap"

// Provider wraps go-imap v2. Each call opens its own connection; a poll
// every minute does not justify keeping an idle session alive.
type Provider struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string
}

// New creates an IMAP provider for one mailbox, INBOX when empty.
func New(host, port, username, password string, tls bool, mailbox string) *Provider {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &Provider{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      tls,
		mailbox:  mailbox,
	}
}

// connect establishes a connection, authenticates and selects the mailbox.
// The caller is responsible for logging out.
func (p *Provider) connect(_ context.Context) (*imapclient.Client, *imap.SelectData, error) {
	addr := p.host + ":" + p.port

	var client *imapclient.Client
	var err error

	if p.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(p.username, p.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, nil, &mail.AuthError{
			Provider: providerName,
			Message:  fmt.Sprintf("authentication failed for %s: %v", p.username, err),
		}
	}

	sel, err := client.Select(p.mailbox, nil).Wait()
	if err != nil {
		_ = client.Logout().Wait()
		return nil, nil, fmt.Errorf("selecting %s: %w", p.mailbox, err)
	}
	return client, sel, nil
}

// CurrentCursor implements mail.Provider.
func (p *Provider) CurrentCursor(ctx context.Context) (string, error) {
	client, sel, err := p.connect(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Logout().Wait() }()

	return formatCursor(sel.UIDValidity, uint32(sel.UIDNext)), nil
}

// ChangesSince implements mail.Provider. A changed UIDVALIDITY means the
// server renumbered the mailbox, which is reported as mail.ErrCursorExpired.
func (p *Provider) ChangesSince(ctx context.Context, cursor string) (mail.Changes, error) {
	validity, next, err := parseCursor(cursor)
	if err != nil {
		return mail.Changes{}, err
	}

	client, sel, err := p.connect(ctx)
	if err != nil {
		return mail.Changes{}, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if sel.UIDValidity != validity {
		return mail.Changes{}, fmt.Errorf("uidvalidity changed from %d to %d: %w",
			validity, sel.UIDValidity, mail.ErrCursorExpired)
	}

	changes := mail.Changes{NewCursor: formatCursor(sel.UIDValidity, uint32(sel.UIDNext))}
	if uint32(sel.UIDNext) <= next {
		return changes, nil
	}

	var set imap.UIDSet
	set.AddRange(imap.UID(next), 0)
	data, err := client.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{set}}, nil).Wait()
	if err != nil {
		return mail.Changes{}, fmt.Errorf("searching from uid %d: %w", next, err)
	}

	for _, uid := range newUIDs(data.AllUIDs(), next) {
		changes.AddedIDs = append(changes.AddedIDs, formatID(validity, uint32(uid)))
	}
	return changes, nil
}

// newUIDs drops uids below start. "n:*" always matches the highest uid,
// even when it is below n.
func newUIDs(uids []imap.UID, start uint32) []imap.UID {
	out := make([]imap.UID, 0, len(uids))
	for _, u := range uids {
		if uint32(u) >= start {
			out = append(out, u)
		}
	}
	return out
}

// GetMessage implements mail.Provider.
func (p *Provider) GetMessage(ctx context.Context, id string) (*mail.Message, error) {
	validity, uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	client, sel, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if sel.UIDValidity != validity {
		return nil, fmt.Errorf("message %s belongs to uidvalidity %d, mailbox has %d",
			id, validity, sel.UIDValidity)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		Flags:       true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message data: %w", err)
	}

	parsed := parseMessage(buf.FindBodySection(bodySection))
	parsed.ID = id
	for _, flag := range buf.Flags {
		parsed.Labels = append(parsed.Labels, string(flag))
	}

	if err := fetchCmd.Close(); err != nil {
		return parsed, fmt.Errorf("closing fetch: %w", err)
	}
	return parsed, nil
}

// CursorAdvances implements mail.Provider. A cursor from a different
// UIDVALIDITY always supersedes the old one.
func (p *Provider) CursorAdvances(prev, next string) bool {
	nv, nn, err := parseCursor(next)
	if err != nil {
		return false
	}
	pv, pn, err := parseCursor(prev)
	if err != nil {
		return true
	}
	if nv != pv {
		return true
	}
	return nn > pn
}

func formatCursor(validity, uidNext uint32) string {
	return fmt.Sprintf("%d:%d", validity, uidNext)
}

func parseCursor(cursor string) (validity, uidNext uint32, err error) {
	v, n, ok := strings.Cut(cursor, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid IMAP cursor %q", cursor)
	}
	if validity, err = parseUint32(v); err != nil {
		return 0, 0, fmt.Errorf("invalid IMAP cursor %q: %w", cursor, err)
	}
	if uidNext, err = parseUint32(n); err != nil {
		return 0, 0, fmt.Errorf("invalid IMAP cursor %q: %w", cursor, err)
	}
	return validity, uidNext, nil
}

func formatID(validity, uid uint32) string {
	return fmt.Sprintf("%d-%d", validity, uid)
}

func parseID(id string) (validity, uid uint32, err error) {
	v, u, ok := strings.Cut(id, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid IMAP message id %q", id)
	}
	if validity, err = parseUint32(v); err != nil {
		return 0, 0, fmt.Errorf("invalid IMAP message id %q: %w", id, err)
	}
	if uid, err = parseUint32(u); err != nil {
		return 0, 0, fmt.Errorf("invalid IMAP message id %q: %w", id, err)
	}
	return validity, uid, nil
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	return uint32(n), err
}
