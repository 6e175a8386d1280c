package driven

import (
	"context"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// LanguageModel completes single-turn prompts. Implementations return
// model.ErrModelUnavailable (wrapped) for transport and provider failures.
type LanguageModel interface {
	Complete(ctx context.Context, req model.CompletionRequest) (model.Completion, error)
}

// AuditLog records credential and pipeline state transitions.
type AuditLog interface {
	Record(ctx context.Context, event model.AuditEvent) error
}

// JournalSink is the journal-entry storage collaborator. CreateEntry must be
// idempotent per draft ID.
type JournalSink interface {
	CreateEntry(ctx context.Context, userID string, draft model.EntryDraft) (entryID string, err error)
}
