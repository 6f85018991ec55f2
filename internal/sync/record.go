package sync

import (
	"strings"

	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/model"
)

// Placeholders for headers the provider did not send.
const (
	NoSubject        = "(No Subject)"
	UnknownSender    = "Unknown Sender"
	UnknownRecipient = "Unknown Recipient"
	UnknownDate      = "Unknown Date"
)

// RecordFromMessage maps a fetched message onto a record ready for the
// filter pipeline. The body is not carried; the pipeline receives it
// separately.
func RecordFromMessage(m *mail.Message) model.ProcessedMessageRecord {
	return model.ProcessedMessageRecord{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		Subject:  headerOr(m, "Subject", NoSubject),
		From:     headerOr(m, "From", UnknownSender),
		To:       headerOr(m, "To", UnknownRecipient),
		Date:     headerOr(m, "Date", UnknownDate),
		Snippet:  m.Snippet,
	}
}

func headerOr(m *mail.Message, name, fallback string) string {
	if v := strings.TrimSpace(m.Header(name)); v != "" {
		return v
	}
	return fallback
}
