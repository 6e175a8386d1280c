package memsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock
}

func activity(p model.ProviderType, id string) model.Activity {
	return model.Activity{
		Provider:    p,
		ExternalID:  id,
		Kind:        model.KindCommit,
		Title:       "change " + id,
		Timestamp:   time.Date(2026, 5, 30, 9, 0, 0, 0, time.UTC),
		RawMetadata: map[string]string{"repo": "acme/api"},
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, model.StageCreated, sess.Stage)
	assert.Equal(t, clock.Now().Add(model.SessionTTL), sess.ExpiresAt)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestStore_GetUnknown(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
	assert.NotErrorIs(t, err, model.ErrSessionExpired)
}

func TestStore_AppendDeduplicatesByKey(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, s.AppendActivities(ctx, sess.ID, []model.Activity{
		activity(model.ProviderGitHub, "a"),
		activity(model.ProviderGitHub, "b"),
	}))
	require.NoError(t, s.AppendActivities(ctx, sess.ID, []model.Activity{
		activity(model.ProviderGitHub, "a"),
		activity(model.ProviderJira, "a"),
	}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Activities, 3)
}

func TestStore_SealIsWriteOnce(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	status := map[model.ProviderType]model.ProviderStatus{
		model.ProviderGitHub: {Provider: model.ProviderGitHub, OK: true, ItemCount: 1, Attempts: 1},
	}
	require.NoError(t, s.AppendActivities(ctx, sess.ID, []model.Activity{activity(model.ProviderGitHub, "a")}))
	require.NoError(t, s.SealActivities(ctx, sess.ID, status))

	err = s.AppendActivities(ctx, sess.ID, []model.Activity{activity(model.ProviderGitHub, "b")})
	assert.ErrorIs(t, err, model.ErrActivitiesSealed)
	assert.ErrorIs(t, s.SealActivities(ctx, sess.ID, status), model.ErrActivitiesSealed)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFetched, got.Stage)
	assert.True(t, got.ProviderStatus[model.ProviderGitHub].OK)
}

// setArtifact stores a computed from the session's current predecessor.
func setArtifact(t *testing.T, s *Store, id string, a model.StageArtifact) error {
	t.Helper()
	sess, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return s.SetStageArtifact(context.Background(), id, a, sess.Revision(a.Stage().Predecessor()))
}

func TestStore_StageOrder(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, setArtifact(t, s, sess.ID, &model.Analysis{}), model.ErrStageOrder, "fetch must complete first")

	require.NoError(t, s.SealActivities(ctx, sess.ID, nil))
	assert.ErrorIs(t, setArtifact(t, s, sess.ID, &model.Correlation{}), model.ErrStageOrder)

	require.NoError(t, setArtifact(t, s, sess.ID, &model.Analysis{}))
	require.NoError(t, setArtifact(t, s, sess.ID, &model.Correlation{}))
	require.NoError(t, setArtifact(t, s, sess.ID, &model.Generation{}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageGenerated, got.Stage)
	assert.NotNil(t, got.Generation())
}

func TestStore_RerunDiscardsLaterArtifacts(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.SealActivities(ctx, sess.ID, nil))
	require.NoError(t, setArtifact(t, s, sess.ID, &model.Analysis{}))
	require.NoError(t, setArtifact(t, s, sess.ID, &model.Correlation{}))

	require.NoError(t, setArtifact(t, s, sess.ID, &model.Analysis{
		Items: []model.Categorization{{ActivityID: "github:a", Category: "bugfix", Importance: model.ImportanceHigh}},
	}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageAnalyzed, got.Stage)
	assert.Nil(t, got.Correlation())
	require.NotNil(t, got.Analysis())
	assert.Len(t, got.Analysis().Items, 1)
}

func TestStore_StaleArtifactRejected(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.SealActivities(ctx, sess.ID, nil))
	require.NoError(t, setArtifact(t, s, sess.ID, &model.Analysis{
		Items: []model.Categorization{{ActivityID: "github:a", Category: "bugfix"}},
	}))

	// A correlate run reads analysis v1, then analyze is re-run before it commits.
	read, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NoError(t, setArtifact(t, s, sess.ID, &model.Analysis{
		Items: []model.Categorization{{ActivityID: "github:a", Category: "feature"}},
	}))

	stale := &model.Correlation{Groups: []model.CorrelationGroup{{ID: "g1", Label: "bugfix", ActivityIDs: []string{"github:a"}}}}
	err = s.SetStageArtifact(ctx, sess.ID, stale, read.Revision(model.StageAnalyzed))
	assert.ErrorIs(t, err, model.ErrStageOrder)

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageAnalyzed, got.Stage)
	assert.Nil(t, got.Correlation())
	assert.Equal(t, "feature", got.Analysis().Items[0].Category)

	// Recomputed from the current analysis, it is accepted.
	require.NoError(t, setArtifact(t, s, sess.ID, stale))
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.AppendActivities(ctx, sess.ID, []model.Activity{activity(model.ProviderGitHub, "a")}))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	got.Activities[0].Title = "mutated"
	got.Activities[0].RawMetadata["repo"] = "mutated"
	got.Activities = append(got.Activities, activity(model.ProviderSlack, "x"))

	again, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, again.Activities, 1)
	assert.Equal(t, "change a", again.Activities[0].Title)
	assert.Equal(t, "acme/api", again.Activities[0].RawMetadata["repo"])
}

func TestStore_LazyExpiryOnAccess(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	clock.Advance(model.SessionTTL - time.Second)
	_, err = s.Get(ctx, sess.ID)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, model.ErrSessionExpired)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestStore_SweepErasesAndTombstones(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	old, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	young, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	clock.Advance(model.SessionTTL - 10*time.Minute)
	next, ok := s.sweep()
	require.True(t, ok)
	assert.Equal(t, young.ExpiresAt, next)
	assert.Equal(t, 1, s.Len())

	err = s.AppendActivities(ctx, old.ID, []model.Activity{activity(model.ProviderGitHub, "late")})
	assert.ErrorIs(t, err, model.ErrSessionExpired, "in-flight writer sees expiry, not resurrection")

	_, err = s.Get(ctx, young.ID)
	assert.NoError(t, err)
}

func TestStore_SweepSkipsDeleted(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, sess.ID))

	clock.Advance(model.SessionTTL)
	_, ok := s.sweep()
	assert.False(t, ok)

	_, err = s.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, model.ErrSessionNotFound)
	assert.NotErrorIs(t, err, model.ErrSessionExpired, "explicit delete leaves no tombstone")
}

func TestStore_RunStopsOnCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	_, err := s.Create(ctx, "u1")
	require.NoError(t, err)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	sess, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, p := range model.AllProviders() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendActivities(ctx, sess.ID, []model.Activity{activity(p, "a"), activity(p, "b")})
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Activities, 2*len(model.AllProviders()))
}
