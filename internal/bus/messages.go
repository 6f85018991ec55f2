package bus

import (
	"encoding/json"
	"time"

	"github.com/nhle/inboxdigest/internal/model"
)

// Message is any payload that can travel in an envelope.
type Message interface {
	MessageType() MessageType
}

// CoordinatorToUI is the closed set of messages the coordinator sends the UI.
type CoordinatorToUI interface {
	Message
	coordinatorToUI()
}

// UIToCoordinator is the closed set of messages the UI sends the coordinator.
type UIToCoordinator interface {
	Message
	uiToCoordinator()
}

// CoordinatorToWorker is the closed set of requests the coordinator sends
// the worker.
type CoordinatorToWorker interface {
	Message
	coordinatorToWorker()
}

// WorkerToCoordinator is the closed set of replies the worker sends back.
type WorkerToCoordinator interface {
	Message
	workerToCoordinator()
}

// coordinator -> ui
const (
	TypeSyncStatus    MessageType = "SYNC_STATUS"
	TypeNewEmails     MessageType = "NEW_EMAILS"
	TypePrivacyStatus MessageType = "PRIVACY_STATUS"
	TypeNotice        MessageType = "NOTICE"
)

// ui -> coordinator
const (
	TypeTriggerSyncNow       MessageType = "TRIGGER_SYNC_NOW"
	TypeClearHistory         MessageType = "CLEAR_HISTORY"
	TypeRequestPrivacyStatus MessageType = "REQUEST_PRIVACY_STATUS"
	TypeToggleNLPStorage     MessageType = "TOGGLE_NLP_STORAGE"
	TypeDeleteAllLocalData   MessageType = "DELETE_ALL_LOCAL_DATA"
)

// coordinator -> worker
const (
	TypeProcessEmail        MessageType = "PROCESS_EMAIL"
	TypeInitializeDB        MessageType = "DB/INITIALIZE_DB"
	TypeQueueEmailMetadata  MessageType = "DB/QUEUE_EMAIL_METADATA"
	TypeStoreSummary        MessageType = "DB/STORE_SUMMARY"
	TypeListRecentSummaries MessageType = "DB/LIST_RECENT_SUMMARIES"
	TypeClearAllData        MessageType = "DB/CLEAR_ALL_DATA"
	TypePing                MessageType = "DB/PING"
	TypeDeleteEmailData     MessageType = "DB/DELETE_EMAIL_DATA"
	TypeSweepRetention      MessageType = "DB/SWEEP_RETENTION"
	TypeExportAuditLog      MessageType = "DB/EXPORT_AUDIT_LOG"
)

// worker -> coordinator
const (
	TypeProcessedEmailResult MessageType = "PROCESSED_EMAIL_RESULT"
	TypeDBResult             MessageType = "DB/RESULT"
)

// Per-route type tables. Tests walk these to prove every decode switch and
// every handler covers the whole table.
var (
	CoordinatorToUITypes = []MessageType{
		TypeSyncStatus, TypeNewEmails, TypePrivacyStatus, TypeNotice,
	}
	UIToCoordinatorTypes = []MessageType{
		TypeTriggerSyncNow, TypeClearHistory, TypeRequestPrivacyStatus,
		TypeToggleNLPStorage, TypeDeleteAllLocalData,
	}
	CoordinatorToWorkerTypes = []MessageType{
		TypeProcessEmail, TypeInitializeDB, TypeQueueEmailMetadata,
		TypeStoreSummary, TypeListRecentSummaries, TypeClearAllData,
		TypePing, TypeDeleteEmailData, TypeSweepRetention, TypeExportAuditLog,
	}
	WorkerToCoordinatorTypes = []MessageType{
		TypeProcessedEmailResult, TypeDBResult,
	}
)

// --- coordinator -> ui ---

type SyncStatusMsg struct {
	Status    model.SyncStatus `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
}

type NewEmailsMsg struct {
	Data []model.ProcessedMessageRecord `json:"data"`
}

type PrivacyStatusMsg struct {
	Enabled         bool       `json:"enabled"`
	Health          string     `json:"health"`
	TotalStored     int        `json:"totalStored"`
	LastProcessedAt *time.Time `json:"lastProcessedAt,omitempty"`
}

// NoticeMsg is a user-visible notice: new-mail notifications and failures
// of explicit user actions.
type NoticeMsg struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func (SyncStatusMsg) MessageType() MessageType    { return TypeSyncStatus }
func (NewEmailsMsg) MessageType() MessageType     { return TypeNewEmails }
func (PrivacyStatusMsg) MessageType() MessageType { return TypePrivacyStatus }
func (NoticeMsg) MessageType() MessageType        { return TypeNotice }

func (SyncStatusMsg) coordinatorToUI()    {}
func (NewEmailsMsg) coordinatorToUI()     {}
func (PrivacyStatusMsg) coordinatorToUI() {}
func (NoticeMsg) coordinatorToUI()        {}

// --- ui -> coordinator ---

type TriggerSyncNowMsg struct{}

type ClearHistoryMsg struct{}

type RequestPrivacyStatusMsg struct{}

type ToggleNLPStorageMsg struct {
	Enabled bool `json:"enabled"`
}

type DeleteAllLocalDataMsg struct{}

func (TriggerSyncNowMsg) MessageType() MessageType       { return TypeTriggerSyncNow }
func (ClearHistoryMsg) MessageType() MessageType         { return TypeClearHistory }
func (RequestPrivacyStatusMsg) MessageType() MessageType { return TypeRequestPrivacyStatus }
func (ToggleNLPStorageMsg) MessageType() MessageType     { return TypeToggleNLPStorage }
func (DeleteAllLocalDataMsg) MessageType() MessageType   { return TypeDeleteAllLocalData }

func (TriggerSyncNowMsg) uiToCoordinator()       {}
func (ClearHistoryMsg) uiToCoordinator()         {}
func (RequestPrivacyStatusMsg) uiToCoordinator() {}
func (ToggleNLPStorageMsg) uiToCoordinator()     {}
func (DeleteAllLocalDataMsg) uiToCoordinator()   {}

// --- coordinator -> worker ---

type ProcessEmailMsg struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type InitializeDBMsg struct{}

type QueueEmailMetadataMsg struct {
	Record model.KeyPointRecord `json:"record"`
}

type StoreSummaryMsg struct {
	MessageID  string   `json:"messageId"`
	Summary    string   `json:"summary"`
	TokensUsed int      `json:"tokensUsed"`
	Labels     []string `json:"labels,omitempty"`
}

type ListRecentSummariesMsg struct {
	Limit int `json:"limit"`
}

type ClearAllDataMsg struct{}

type PingMsg struct{}

type DeleteEmailDataMsg struct {
	MessageID string `json:"messageId"`
}

type SweepRetentionMsg struct {
	OlderThan time.Duration `json:"olderThan"`
}

type ExportAuditLogMsg struct{}

func (ProcessEmailMsg) MessageType() MessageType        { return TypeProcessEmail }
func (InitializeDBMsg) MessageType() MessageType        { return TypeInitializeDB }
func (QueueEmailMetadataMsg) MessageType() MessageType  { return TypeQueueEmailMetadata }
func (StoreSummaryMsg) MessageType() MessageType        { return TypeStoreSummary }
func (ListRecentSummariesMsg) MessageType() MessageType { return TypeListRecentSummaries }
func (ClearAllDataMsg) MessageType() MessageType        { return TypeClearAllData }
func (PingMsg) MessageType() MessageType                { return TypePing }
func (DeleteEmailDataMsg) MessageType() MessageType     { return TypeDeleteEmailData }
func (SweepRetentionMsg) MessageType() MessageType      { return TypeSweepRetention }
func (ExportAuditLogMsg) MessageType() MessageType      { return TypeExportAuditLog }

func (ProcessEmailMsg) coordinatorToWorker()        {}
func (InitializeDBMsg) coordinatorToWorker()        {}
func (QueueEmailMetadataMsg) coordinatorToWorker()  {}
func (StoreSummaryMsg) coordinatorToWorker()        {}
func (ListRecentSummariesMsg) coordinatorToWorker() {}
func (ClearAllDataMsg) coordinatorToWorker()        {}
func (PingMsg) coordinatorToWorker()                {}
func (DeleteEmailDataMsg) coordinatorToWorker()     {}
func (SweepRetentionMsg) coordinatorToWorker()      {}
func (ExportAuditLogMsg) coordinatorToWorker()      {}

// --- worker -> coordinator ---

type ProcessedEmailResultMsg struct {
	ID       string             `json:"id"`
	Tokens   []string           `json:"tokens"`
	Entities []model.Entity     `json:"entities"`
	POS      []string           `json:"pos"`
	Filter   model.FilterResult `json:"filter"`
}

// DBResultMsg is the tagged result of every DB/* request. On failure Code
// holds a stable error code.
type DBResultMsg struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

func (ProcessedEmailResultMsg) MessageType() MessageType { return TypeProcessedEmailResult }
func (DBResultMsg) MessageType() MessageType             { return TypeDBResult }

func (ProcessedEmailResultMsg) workerToCoordinator() {}
func (DBResultMsg) workerToCoordinator()             {}
