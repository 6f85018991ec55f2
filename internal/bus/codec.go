package bus

import (
	"encoding/json"
	"fmt"
)

func payload[M any](data json.RawMessage) (M, error) {
	var m M
	if len(data) == 0 || string(data) == "null" {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %T payload: %v", ErrContractViolation, m, err)
	}
	return m, nil
}

func unknownType(t MessageType, from, to Actor) error {
	return fmt.Errorf("%w: %q is not a %s->%s message", ErrContractViolation, t, from, to)
}

func decodeCoordinatorToUI(t MessageType, data json.RawMessage) (CoordinatorToUI, error) {
	switch t {
	case TypeSyncStatus:
		return payload[SyncStatusMsg](data)
	case TypeNewEmails:
		return payload[NewEmailsMsg](data)
	case TypePrivacyStatus:
		return payload[PrivacyStatusMsg](data)
	case TypeNotice:
		return payload[NoticeMsg](data)
	default:
		return nil, unknownType(t, ActorCoordinator, ActorUI)
	}
}

func decodeUIToCoordinator(t MessageType, data json.RawMessage) (UIToCoordinator, error) {
	switch t {
	case TypeTriggerSyncNow:
		return payload[TriggerSyncNowMsg](data)
	case TypeClearHistory:
		return payload[ClearHistoryMsg](data)
	case TypeRequestPrivacyStatus:
		return payload[RequestPrivacyStatusMsg](data)
	case TypeToggleNLPStorage:
		return payload[ToggleNLPStorageMsg](data)
	case TypeDeleteAllLocalData:
		return payload[DeleteAllLocalDataMsg](data)
	default:
		return nil, unknownType(t, ActorUI, ActorCoordinator)
	}
}

func decodeCoordinatorToWorker(t MessageType, data json.RawMessage) (CoordinatorToWorker, error) {
	switch t {
	case TypeProcessEmail:
		return payload[ProcessEmailMsg](data)
	case TypeInitializeDB:
		return payload[InitializeDBMsg](data)
	case TypeQueueEmailMetadata:
		return payload[QueueEmailMetadataMsg](data)
	case TypeStoreSummary:
		return payload[StoreSummaryMsg](data)
	case TypeListRecentSummaries:
		return payload[ListRecentSummariesMsg](data)
	case TypeClearAllData:
		return payload[ClearAllDataMsg](data)
	case TypePing:
		return payload[PingMsg](data)
	case TypeDeleteEmailData:
		return payload[DeleteEmailDataMsg](data)
	case TypeSweepRetention:
		return payload[SweepRetentionMsg](data)
	case TypeExportAuditLog:
		return payload[ExportAuditLogMsg](data)
	default:
		return nil, unknownType(t, ActorCoordinator, ActorWorker)
	}
}

func decodeWorkerToCoordinator(t MessageType, data json.RawMessage) (WorkerToCoordinator, error) {
	switch t {
	case TypeProcessedEmailResult:
		return payload[ProcessedEmailResultMsg](data)
	case TypeDBResult:
		return payload[DBResultMsg](data)
	default:
		return nil, unknownType(t, ActorWorker, ActorCoordinator)
	}
}
