package imap

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"

	inbox "github.com/nhle/inboxdigest/internal/mail"
)

const snippetRunes = 200

// parseMessage parses a raw RFC 2822 message with go-message, keeping the
// top-level headers and the first text/plain and text/html parts.
// Attachments are skipped.
func parseMessage(raw []byte) *inbox.Message {
	msg := &inbox.Message{}
	if raw == nil {
		return msg
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// If parsing fails, treat the whole thing as plain text.
		msg.Body = string(raw)
		msg.Snippet = snippet(msg.Body)
		return msg
	}
	defer mr.Close()

	fields := mr.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers = append(msg.Headers, inbox.Header{Name: fields.Key(), Value: value})
	}
	msg.ThreadID = threadID(msg)

	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain") && msg.Body == "":
			msg.Body = string(body)
		case strings.HasPrefix(contentType, "text/html") && msg.HTMLBody == "":
			msg.HTMLBody = string(body)
		}
	}

	msg.Snippet = snippet(msg.Body)
	return msg
}

// threadID picks the root of the References chain, then In-Reply-To, then
// the message's own Message-ID.
func threadID(m *inbox.Message) string {
	if refs := strings.Fields(m.Header("References")); len(refs) > 0 {
		return strings.Trim(refs[0], "<>")
	}
	if irt := strings.TrimSpace(m.Header("In-Reply-To")); irt != "" {
		return strings.Trim(irt, "<>")
	}
	return strings.Trim(strings.TrimSpace(m.Header("Message-Id")), "<>")
}

func snippet(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(s) <= snippetRunes {
		return s
	}
	return string([]rune(s)[:snippetRunes])
}
