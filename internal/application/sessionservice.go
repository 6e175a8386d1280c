package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// ErrInvalidRequest marks caller input the service rejects before doing any work.
var ErrInvalidRequest = errors.New("invalid request")

// ActivityGatherer fetches activity from providers. *FetchOrchestrator
// implements it.
type ActivityGatherer interface {
	FetchAll(ctx context.Context, userID string, providers []model.ProviderType, window model.TimeRange) FetchResult
}

// SessionStatus is the caller-facing summary of a processing session.
type SessionStatus struct {
	ID            string
	Stage         model.Stage
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Providers     map[model.ProviderType]model.ProviderStatus
	ActivityCount int
	NoActivity    bool
	Usage         model.Usage
	Artifacts     map[model.Stage]model.StageArtifact
}

// FinalizeResult reports the outcome of handing drafts to the journal.
type FinalizeResult struct {
	Drafts []model.EntryDraft
	// EntryIDs maps draft id to the journal entry id for every draft handed
	// off successfully.
	EntryIDs map[string]string
	// Delivered is true when every draft was handed off and the session was
	// deleted.
	Delivered bool
}

// SessionService drives one fetch-through-generate run per session. Every
// operation is scoped to the session's owner; other users get
// model.ErrSessionNotFound.
type SessionService struct {
	sessions driven.SessionStore
	gatherer ActivityGatherer
	pipeline *Pipeline
	journal  driven.JournalSink
	audit    driven.AuditLog
	now      func() time.Time
}

// NewSessionService creates a SessionService. journal may be nil, in which
// case Finalize returns drafts without handing them off.
func NewSessionService(
	sessions driven.SessionStore,
	gatherer ActivityGatherer,
	pipeline *Pipeline,
	journal driven.JournalSink,
	audit driven.AuditLog,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		gatherer: gatherer,
		pipeline: pipeline,
		journal:  journal,
		audit:    audit,
		now:      time.Now,
	}
}

// InitiateFetch creates a session and fills it with activity fetched from
// providers (every provider when empty). Provider failures are reported in
// the status and never fail the call; a batch that found nothing still
// yields a session, flagged NoActivity.
func (s *SessionService) InitiateFetch(ctx context.Context, userID string, providers []model.ProviderType, window model.TimeRange) (*SessionStatus, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for _, p := range providers {
		if !p.Valid() {
			return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidRequest, p)
		}
	}
	if len(providers) == 0 {
		providers = model.AllProviders()
	}

	sess, err := s.sessions.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	result := s.gatherer.FetchAll(ctx, userID, providers, window)

	if err := s.sessions.AppendActivities(ctx, sess.ID, result.Activities); err != nil {
		return nil, fmt.Errorf("store activities: %w", err)
	}
	if err := s.sessions.SealActivities(ctx, sess.ID, result.Status); err != nil {
		return nil, fmt.Errorf("seal activities: %w", err)
	}

	slog.Info("session fetched", "session_id", sess.ID, "user_id", userID,
		"providers", len(providers), "activities", len(result.Activities))
	return s.Status(ctx, userID, sess.ID)
}

// Status returns the session's stage, per-provider fetch status, activity
// count and model cost so far.
func (s *SessionService) Status(ctx context.Context, userID, sessionID string) (*SessionStatus, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionStatus{
		ID:            sess.ID,
		Stage:         sess.Stage,
		CreatedAt:     sess.CreatedAt,
		ExpiresAt:     sess.ExpiresAt,
		Providers:     sess.ProviderStatus,
		ActivityCount: len(sess.Activities),
		NoActivity:    sess.Stage.Ordinal() >= model.StageFetched.Ordinal() && len(sess.Activities) == 0,
		Usage:         sess.TotalUsage(),
		Artifacts:     sess.Artifacts,
	}, nil
}

// RunStage computes one pipeline stage from the settled artifacts of the
// session's earlier stages and stores it. Re-running a stage replaces its
// artifact and discards later ones; a failed stage leaves the session as it
// was.
func (s *SessionService) RunStage(ctx context.Context, userID, sessionID string, stage model.Stage, quality model.QualityLevel) (model.StageArtifact, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	var artifact model.StageArtifact
	switch stage {
	case model.StageAnalyzed:
		if sess.Stage.Ordinal() < model.StageFetched.Ordinal() {
			return nil, model.ErrStageOrder
		}
		artifact, err = s.pipeline.Analyze(ctx, sess.Activities, quality)
	case model.StageCorrelated:
		analysis := sess.Analysis()
		if analysis == nil {
			return nil, model.ErrStageOrder
		}
		artifact, err = s.pipeline.Correlate(ctx, sess.Activities, analysis, quality)
	case model.StageGenerated:
		analysis, correlation := sess.Analysis(), sess.Correlation()
		if analysis == nil || correlation == nil {
			return nil, model.ErrStageOrder
		}
		artifact, err = s.pipeline.Generate(ctx, sess.Activities, analysis, correlation, quality)
	default:
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidRequest, stage)
	}
	if err != nil {
		s.record(ctx, model.AuditEvent{UserID: userID, SessionID: sessionID, Action: model.AuditStage,
			Outcome: stageReason(err), Detail: string(stage)})
		return nil, err
	}

	if err := s.sessions.SetStageArtifact(ctx, sessionID, artifact, sess.Revision(stage.Predecessor())); err != nil {
		return nil, fmt.Errorf("store %s artifact: %w", stage, err)
	}

	u := artifact.StageUsage()
	slog.Info("stage complete", "session_id", sessionID, "stage", stage, "quality", quality,
		"model", u.Model, "calls", u.Calls, "cost_usd", u.CostUSD)
	s.record(ctx, model.AuditEvent{UserID: userID, SessionID: sessionID, Action: model.AuditStage, Outcome: "ok",
		Detail: fmt.Sprintf("%s model=%s calls=%d cost_usd=%.6f", stage, u.Model, u.Calls, u.CostUSD)})
	return artifact, nil
}

// Finalize hands every generated draft to the journal. The draft id is the
// idempotency key, so a retried Finalize never duplicates entries. The
// session is deleted only when every draft was delivered; without a
// journal the drafts are returned and the session is left to expire.
func (s *SessionService) Finalize(ctx context.Context, userID, sessionID string) (*FinalizeResult, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	gen := sess.Generation()
	if gen == nil {
		return nil, model.ErrStageOrder
	}

	result := &FinalizeResult{Drafts: gen.Drafts, EntryIDs: make(map[string]string, len(gen.Drafts))}
	if s.journal == nil {
		return result, nil
	}

	var failed []error
	for _, d := range gen.Drafts {
		entryID, err := s.journal.CreateEntry(ctx, userID, d)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		result.EntryIDs[d.ID] = entryID
	}

	if len(failed) > 0 {
		s.record(ctx, model.AuditEvent{UserID: userID, SessionID: sessionID, Action: model.AuditHandoff, Outcome: "failed",
			Detail: fmt.Sprintf("delivered %d of %d drafts", len(result.EntryIDs), len(gen.Drafts))})
		return result, fmt.Errorf("hand off drafts: %w", errors.Join(failed...))
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		slog.Warn("delete finalized session failed", "session_id", sessionID, "error", err)
	}
	result.Delivered = true
	s.record(ctx, model.AuditEvent{UserID: userID, SessionID: sessionID, Action: model.AuditHandoff, Outcome: "ok",
		Detail: fmt.Sprintf("delivered %d drafts", len(gen.Drafts))})
	slog.Info("session finalized", "session_id", sessionID, "drafts", len(gen.Drafts))
	return result, nil
}

// owned loads a session and hides it from anyone but its owner.
func (s *SessionService) owned(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, model.ErrSessionNotFound
	}
	return sess, nil
}

func (s *SessionService) record(ctx context.Context, event model.AuditEvent) {
	if s.audit == nil {
		return
	}
	event.At = s.now()
	if err := s.audit.Record(ctx, event); err != nil {
		slog.Error("audit record failed", "action", event.Action, "session_id", event.SessionID, "error", err)
	}
}

func stageReason(err error) string {
	switch {
	case errors.Is(err, model.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, model.ErrInvalidArtifact):
		return "invalid_artifact"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
