package gmail

import (
	"encoding/base64"
	"strings"

	gmailv1 "google.golang.org/api/gmail/v1"
)

// extractPlainText walks a MIME part tree and returns the first
// text/plain body found. For multipart/alternative it prefers text/plain
// siblings before descending elsewhere.
func extractPlainText(part *gmailv1.MessagePart) string {
	if part == nil {
		return ""
	}

	if strings.EqualFold(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}

	for _, sub := range part.Parts {
		if strings.EqualFold(sub.MimeType, "text/plain") {
			if body := extractPlainText(sub); body != "" {
				return body
			}
		}
	}
	for _, sub := range part.Parts {
		if body := extractPlainText(sub); body != "" {
			return body
		}
	}
	return ""
}

// extractHTML returns the first text/html body in the tree.
func extractHTML(part *gmailv1.MessagePart) string {
	if part == nil {
		return ""
	}

	if strings.EqualFold(part.MimeType, "text/html") && part.Body != nil && part.Body.Data != "" {
		return decodeBase64URL(part.Body.Data)
	}

	for _, sub := range part.Parts {
		if body := extractHTML(sub); body != "" {
			return body
		}
	}
	return ""
}

// decodeBase64URL accepts padded and unpadded base64url; Gmail sends either.
func decodeBase64URL(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}
