package model

import "time"

// KeyPointRecord is the persisted form of a processed message, owned by the
// worker's embedded database.
type KeyPointRecord struct {
	// MessageID is the primary key; writes are upserts keyed on it.
	MessageID string `json:"messageId"`

	ThreadID string   `json:"threadId"`
	From     string   `json:"from"`
	Subject  string   `json:"subject"`
	Snippet  string   `json:"snippet"`
	Summary  string   `json:"summary"`
	Labels   []string `json:"labels"`

	// TokensUsed is the summarizer's reported or estimated token count.
	TokensUsed int `json:"tokensUsed"`

	// Timestamp is the message date as reported by the provider.
	Timestamp time.Time `json:"timestamp"`

	ProcessedAt time.Time `json:"processedAt"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// DeletedAt marks the row as soft deleted. The row stays on disk until
	// a retention sweep removes it.
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// RecentSummaries is the result of a "most recent N" listing.
type RecentSummaries struct {
	Items           []KeyPointRecord `json:"items"`
	TotalCount      int              `json:"totalCount"`
	LastProcessedAt *time.Time       `json:"lastProcessedAt,omitempty"`
}

// KeyPointFromRecord maps a processed message onto its persisted shape.
// The message date is parsed leniently; an unparseable date leaves
// Timestamp zero.
func KeyPointFromRecord(r ProcessedMessageRecord) KeyPointRecord {
	kp := KeyPointRecord{
		MessageID:   r.ID,
		ThreadID:    r.ThreadID,
		From:        r.From,
		Subject:     r.Subject,
		Snippet:     r.Snippet,
		Summary:     r.Summary,
		Labels:      r.Labels,
		TokensUsed:  r.TokensUsed,
		ProcessedAt: r.ProcessedAt,
	}
	if t, ok := ParseMessageDate(r.Date); ok {
		kp.Timestamp = t
	}
	return kp
}

var messageDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
}

// ParseMessageDate parses an RFC 2822 style Date header.
func ParseMessageDate(s string) (time.Time, bool) {
	for _, layout := range messageDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
