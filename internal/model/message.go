package model

import "time"

// SyncStatus is the state of the sync orchestrator as shown to the UI.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// Label values attached to processed messages.
const (
	LabelPossibleDeadline = "possible_deadline"
	LabelActionable       = "actionable"
	LabelTransactional    = "transactional"
	LabelNewsletter       = "newsletter"
)

// ProcessedMessageRecord is one mailbox message after it went through the
// filter pipeline. ID is the provider's message id and is the natural key
// everywhere: dedup, persistence, and UI keying.
type ProcessedMessageRecord struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	Subject  string   `json:"subject"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Date     string   `json:"date"`
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body,omitempty"`
	Labels   []string `json:"labels"`

	// Derived fields, set once by the pipeline.
	Summary     string    `json:"summary,omitempty"`
	TokensUsed  int       `json:"tokensUsed,omitempty"`
	ProcessedAt time.Time `json:"processedAt"`
}

// DroppedSpan is a sentence removed by the deterministic filter.
type DroppedSpan struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FilterResult is the output of the deterministic first stage.
type FilterResult struct {
	FilteredText string        `json:"filteredText"`
	Labels       []string      `json:"labels"`
	DroppedSpans []DroppedSpan `json:"droppedSpans"`
}

// SummaryResult is the output of the generative second stage.
// TokensUsed is nil when the backend did not report usage.
type SummaryResult struct {
	Text       string `json:"text"`
	TokensUsed *int   `json:"tokensUsed,omitempty"`
}

// Entity is a labelled span found by the language model or a custom
// span pattern.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}
