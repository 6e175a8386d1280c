package model_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

func TestErrorFamilies(t *testing.T) {
	assert.ErrorIs(t, model.ErrInvalidGrant, model.ErrCredential)
	assert.ErrorIs(t, model.ErrRateLimited, model.ErrFetch)
	assert.ErrorIs(t, model.ErrStageOrder, model.ErrSession)
	assert.ErrorIs(t, model.ErrInvalidArtifact, model.ErrStage)

	// An expired session is also a missing one.
	assert.ErrorIs(t, model.ErrSessionExpired, model.ErrSessionNotFound)
	assert.NotErrorIs(t, model.ErrSessionNotFound, model.ErrSessionExpired)
}

func TestFetchError(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("fetch: %w", model.NewFetchError(model.ProviderJira, model.ErrUnreachable, cause))

	assert.ErrorIs(t, err, model.ErrUnreachable)
	assert.ErrorIs(t, err, model.ErrFetch)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "jira")

	var fe *model.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, model.ProviderJira, fe.Provider)
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{model.NewFetchError(model.ProviderSlack, model.ErrEndpointGone, nil), "endpoint_gone"},
		{model.NewFetchError(model.ProviderSlack, model.ErrUnauthorized, nil), "unauthorized"},
		{model.NewFetchError(model.ProviderSlack, model.ErrRateLimited, nil), "rate_limited"},
		{model.NewFetchError(model.ProviderSlack, model.ErrUnreachable, nil), "unreachable"},
		{fmt.Errorf("get token: %w", model.ErrNotConnected), "not_connected"},
		{model.ErrRefreshFailed, "refresh_failed"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, model.FailureReason(tt.err), fmt.Sprint(tt.err))
	}
}

func TestStageOrder(t *testing.T) {
	stages := []model.Stage{model.StageCreated, model.StageFetched, model.StageAnalyzed, model.StageCorrelated, model.StageGenerated}
	for i, s := range stages {
		assert.Equal(t, i, s.Ordinal(), s)
		if i > 0 {
			assert.Equal(t, stages[i-1], s.Predecessor(), s)
		}
	}
	assert.Equal(t, -1, model.Stage("published").Ordinal())
}

func TestParseStage(t *testing.T) {
	for in, want := range map[string]model.Stage{
		"analyze": model.StageAnalyzed, "analyzed": model.StageAnalyzed,
		"correlate": model.StageCorrelated, "generate": model.StageGenerated,
	} {
		got, err := model.ParseStage(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := model.ParseStage("fetched")
	assert.Error(t, err)
}

func TestParseProviderType(t *testing.T) {
	p, err := model.ParseProviderType("Tracker")
	require.NoError(t, err)
	assert.Equal(t, model.ProviderJira, p)

	p, err = model.ParseProviderType(" google_calendar ")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryCalendar, p.Category())

	_, err = model.ParseProviderType("myspace")
	assert.Error(t, err)
	assert.Len(t, model.AllProviders(), 7)
}

func TestTimeRangeValidate(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, model.TimeRange{From: from, To: from.Add(31 * 24 * time.Hour)}.Validate())
	assert.Error(t, model.TimeRange{From: from, To: from.Add(32 * 24 * time.Hour)}.Validate())
	assert.Error(t, model.TimeRange{From: from, To: from}.Validate())
	assert.Error(t, model.TimeRange{To: from}.Validate())

	r := model.TimeRange{From: from, To: from.Add(time.Hour)}
	assert.True(t, r.Contains(from))
	assert.False(t, r.Contains(from.Add(time.Hour)))
}

func TestUsageAndCost(t *testing.T) {
	h := model.ModelHandle{Name: "m", InputPricePerMTok: 3, OutputPricePerMTok: 15}
	assert.InDelta(t, 0.0045, h.Cost(1000, 100), 1e-9)

	u := model.Usage{Model: "a", Calls: 1, InputTokens: 10, CostUSD: 0.5}.Add(model.Usage{Model: "b", Calls: 2, OutputTokens: 5, CostUSD: 0.25})
	assert.Equal(t, "mixed", u.Model)
	assert.Equal(t, 3, u.Calls)
	assert.InDelta(t, 0.75, u.CostUSD, 1e-9)
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &model.Session{
		ID:         "s1",
		Stage:      model.StageAnalyzed,
		Activities: []model.Activity{{Provider: model.ProviderJira, ExternalID: "A-1", RawMetadata: map[string]string{"key": "A-1"}}},
		Artifacts: map[model.Stage]model.StageArtifact{
			model.StageAnalyzed: &model.Analysis{Items: []model.Categorization{{ActivityID: "jira:A-1", Category: "feature"}}},
		},
	}

	c := s.Clone()
	c.Activities[0].RawMetadata["key"] = "changed"
	c.Analysis().Items[0].Category = "changed"

	assert.Equal(t, "A-1", s.Activities[0].RawMetadata["key"])
	assert.Equal(t, "feature", s.Analysis().Items[0].Category)
	assert.Equal(t, "jira:A-1", s.Activities[0].ID())
}

func TestStageError(t *testing.T) {
	cause := errors.New("no json object in response")
	err := &model.StageError{Stage: model.StageCorrelated, Kind: model.ErrInvalidArtifact, Err: cause}

	assert.ErrorIs(t, err, model.ErrInvalidArtifact)
	assert.ErrorIs(t, err, model.ErrStage)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "correlated")
}

func TestParseQualityLevel(t *testing.T) {
	q, err := model.ParseQualityLevel("")
	require.NoError(t, err)
	assert.Equal(t, model.QualityBalanced, q)

	q, err = model.ParseQualityLevel("premium")
	require.NoError(t, err)
	assert.Equal(t, model.QualityPremium, q)

	_, err = model.ParseQualityLevel("ultra")
	assert.Error(t, err)
}
