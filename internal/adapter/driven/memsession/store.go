// Package memsession implements the SessionStore port in memory. Sessions
// are erased when their fixed TTL elapses; a single background sweeper
// drives expiry from a min-heap of deadlines.
package memsession

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ericfisherdev/worklog/internal/domain/model"
	"github.com/ericfisherdev/worklog/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionStore = (*Store)(nil)

// maxTombstones bounds how many expired session IDs are remembered so late
// writers can be told the session expired rather than never existed.
const maxTombstones = 16384

type entry struct {
	session *model.Session
	keys    map[model.ActivityKey]struct{}
	sealed  bool
	rev     int
}

// Store is an in-memory, TTL-bounded session store.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*entry
	expiry   expiryHeap

	// tombstones holds IDs (never data) of sessions erased by expiry.
	tombstones *expirable.LRU[string, struct{}]

	wake chan struct{}
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store. Call Run to start the expiry sweeper.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:   make(map[string]*entry),
		tombstones: expirable.NewLRU[string, struct{}](maxTombstones, nil, model.SessionTTL),
		wake:       make(chan struct{}, 1),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts a new empty session owned by userID.
func (s *Store) Create(_ context.Context, userID string) (*model.Session, error) {
	now := s.now()
	sess := &model.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(model.SessionTTL),
		Stage:          model.StageCreated,
		Activities:     []model.Activity{},
		ProviderStatus: map[model.ProviderType]model.ProviderStatus{},
		Artifacts:      map[model.Stage]model.StageArtifact{},
		Revisions:      map[model.Stage]int{},
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{session: sess, keys: make(map[model.ActivityKey]struct{})}
	heap.Push(&s.expiry, deadline{id: sess.ID, at: sess.ExpiresAt})
	s.mu.Unlock()

	s.signal()
	return sess.Clone(), nil
}

// AppendActivities adds activities whose key is not yet present.
func (s *Store) AppendActivities(_ context.Context, sessionID string, activities []model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	if e.sealed {
		return model.ErrActivitiesSealed
	}

	for _, a := range activities {
		k := a.Key()
		if _, dup := e.keys[k]; dup {
			continue
		}
		e.keys[k] = struct{}{}
		e.session.Activities = append(e.session.Activities, a)
	}
	return nil
}

// SealActivities records fetch status and freezes the activity set.
func (s *Store) SealActivities(_ context.Context, sessionID string, status map[model.ProviderType]model.ProviderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}
	if e.sealed {
		return model.ErrActivitiesSealed
	}

	for p, st := range status {
		e.session.ProviderStatus[p] = st
	}
	e.sealed = true
	e.rev++
	e.session.Revisions[model.StageFetched] = e.rev
	e.session.Stage = model.StageFetched
	return nil
}

// SetStageArtifact stores the artifact for its stage. The predecessor stage
// must be complete and still at revision basedOn; artifacts of later stages
// are discarded because they were computed from the artifact being replaced.
func (s *Store) SetStageArtifact(_ context.Context, sessionID string, artifact model.StageArtifact, basedOn int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	stage := artifact.Stage()
	pred := stage.Predecessor()
	if !e.sealed {
		return model.ErrStageOrder
	}
	if pred != model.StageFetched {
		if _, ok := e.session.Artifacts[pred]; !ok {
			return model.ErrStageOrder
		}
	}
	// A predecessor re-run while this artifact was computed makes it stale.
	if e.session.Revisions[pred] != basedOn {
		return model.ErrStageOrder
	}

	for st := range e.session.Artifacts {
		if st.Ordinal() > stage.Ordinal() {
			delete(e.session.Artifacts, st)
			delete(e.session.Revisions, st)
		}
	}
	e.rev++
	e.session.Artifacts[stage] = artifact
	e.session.Revisions[stage] = e.rev
	e.session.Stage = stage
	return nil
}

// Get returns a deep copy of the session.
func (s *Store) Get(_ context.Context, sessionID string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return e.session.Clone(), nil
}

// Delete erases the session immediately. Deleting an unknown session is not an error.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps expired sessions until ctx is canceled. The sweeper sleeps
// until the earliest deadline in the heap, so each session is visited once.
func (s *Store) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := s.sweep()
		wait := time.Hour
		if ok {
			wait = max(next.Sub(s.now()), 0)
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
	}
}

// sweep erases every session whose deadline has passed and returns the
// next pending deadline.
func (s *Store) sweep() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var erased int
	for s.expiry.Len() > 0 {
		top := s.expiry[0]
		if now.Before(top.at) {
			if erased > 0 {
				slog.Debug("expired sessions erased", "count", erased, "live", len(s.sessions))
			}
			return top.at, true
		}
		heap.Pop(&s.expiry)
		if _, ok := s.sessions[top.id]; ok {
			s.expire(top.id)
			erased++
		}
	}
	if erased > 0 {
		slog.Debug("expired sessions erased", "count", erased, "live", 0)
	}
	return time.Time{}, false
}

// lookup returns the live entry or the appropriate session error. Callers
// hold s.mu. An entry found past its deadline is erased on the spot.
func (s *Store) lookup(sessionID string) (*entry, error) {
	e, ok := s.sessions[sessionID]
	if !ok {
		if s.tombstones.Contains(sessionID) {
			return nil, model.ErrSessionExpired
		}
		return nil, model.ErrSessionNotFound
	}
	if e.session.Expired(s.now()) {
		s.expire(sessionID)
		return nil, model.ErrSessionExpired
	}
	return e, nil
}

func (s *Store) expire(sessionID string) {
	delete(s.sessions, sessionID)
	s.tombstones.Add(sessionID, struct{}{})
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
