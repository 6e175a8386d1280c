package httphandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ericfisherdev/worklog/internal/application"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// CreateSessionRequest is the request body for starting a session.
type CreateSessionRequest struct {
	Providers []string `json:"providers"`
	From      string   `json:"from"`
	To        string   `json:"to"`
}

func (r CreateSessionRequest) timeRange() (model.TimeRange, error) {
	from, err := time.Parse(time.RFC3339, r.From)
	if err != nil {
		return model.TimeRange{}, fmt.Errorf("from must be an RFC 3339 timestamp")
	}
	to, err := time.Parse(time.RFC3339, r.To)
	if err != nil {
		return model.TimeRange{}, fmt.Errorf("to must be an RFC 3339 timestamp")
	}
	return model.TimeRange{From: from, To: to}, nil
}

// RunStageRequest is the optional request body for running a stage.
type RunStageRequest struct {
	Quality string `json:"quality"`
}

// IntegrationResponse is the token-free JSON view of a provider connection.
type IntegrationResponse struct {
	Provider    string `json:"provider"`
	Category    string `json:"category"`
	Configured  bool   `json:"configured"`
	IsConnected bool   `json:"is_connected"`
	ConnectedAt string `json:"connected_at,omitempty"`
	ExpiresAt   string `json:"expires_at,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// AuthorizeResponse carries the provider authorization URL.
type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
}

// ProviderStatusResponse is one provider's fetch outcome.
type ProviderStatusResponse struct {
	Provider  string `json:"provider"`
	OK        bool   `json:"ok"`
	ItemCount int    `json:"item_count"`
	Reason    string `json:"reason,omitempty"`
	Attempts  int    `json:"attempts"`
}

// UsageResponse is model consumption and cost.
type UsageResponse struct {
	Model        string  `json:"model,omitempty"`
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// SessionResponse is the JSON representation of a session's status.
type SessionResponse struct {
	ID            string                   `json:"id"`
	Stage         string                   `json:"stage"`
	CreatedAt     string                   `json:"created_at"`
	ExpiresAt     string                   `json:"expires_at"`
	ActivityCount int                      `json:"activity_count"`
	NoActivity    bool                     `json:"no_activity"`
	Providers     []ProviderStatusResponse `json:"providers"`
	Usage         UsageResponse            `json:"usage"`
	StageUsage    map[string]UsageResponse `json:"stage_usage"`
}

// DraftResponse is a generated entry draft. HTML is the sanitized rendering
// of the Markdown narrative.
type DraftResponse struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	HTML        string   `json:"html"`
	EntryType   string   `json:"entry_type"`
	Skills      []string `json:"skills"`
	Project     string   `json:"project,omitempty"`
	Client      string   `json:"client,omitempty"`
	ActivityIDs []string `json:"activity_ids"`
	EntryID     string   `json:"entry_id,omitempty"`
}

// StageResponse carries the artifact of a stage run. Exactly one of
// Analysis, Groups and Drafts is set.
type StageResponse struct {
	SessionID string                   `json:"session_id"`
	Stage     string                   `json:"stage"`
	Quality   string                   `json:"quality"`
	Usage     UsageResponse            `json:"usage"`
	Analysis  []model.Categorization   `json:"analysis,omitempty"`
	Groups    []model.CorrelationGroup `json:"groups,omitempty"`
	Drafts    []DraftResponse          `json:"drafts,omitempty"`
}

// FinalizeResponse reports handed-off drafts.
type FinalizeResponse struct {
	Delivered bool            `json:"delivered"`
	Drafts    []DraftResponse `json:"drafts"`
	Error     string          `json:"error,omitempty"`
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toIntegrationResponse(s model.ConnectionStatus, configured bool) IntegrationResponse {
	return IntegrationResponse{
		Provider:    string(s.Provider),
		Category:    string(s.Provider.Category()),
		Configured:  configured,
		IsConnected: s.IsConnected,
		ConnectedAt: formatOptionalTime(s.ConnectedAt),
		ExpiresAt:   formatOptionalTime(s.ExpiresAt),
		Scope:       s.Scope,
	}
}

func toUsageResponse(u model.Usage) UsageResponse {
	return UsageResponse{
		Model:        u.Model,
		Calls:        u.Calls,
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		CostUSD:      u.CostUSD,
	}
}

func toSessionResponse(st *application.SessionStatus) SessionResponse {
	resp := SessionResponse{
		ID:            st.ID,
		Stage:         string(st.Stage),
		CreatedAt:     st.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt:     st.ExpiresAt.UTC().Format(time.RFC3339),
		ActivityCount: st.ActivityCount,
		NoActivity:    st.NoActivity,
		Providers:     make([]ProviderStatusResponse, 0, len(st.Providers)),
		Usage:         toUsageResponse(st.Usage),
		StageUsage:    make(map[string]UsageResponse, len(st.Artifacts)),
	}
	for _, ps := range st.Providers {
		resp.Providers = append(resp.Providers, ProviderStatusResponse{
			Provider:  string(ps.Provider),
			OK:        ps.OK,
			ItemCount: ps.ItemCount,
			Reason:    ps.Reason,
			Attempts:  ps.Attempts,
		})
	}
	sort.Slice(resp.Providers, func(i, j int) bool { return resp.Providers[i].Provider < resp.Providers[j].Provider })
	for stage, a := range st.Artifacts {
		resp.StageUsage[string(stage)] = toUsageResponse(a.StageUsage())
	}
	return resp
}

func toDraftResponse(d model.EntryDraft, entryID string) DraftResponse {
	return DraftResponse{
		ID:          d.ID,
		Text:        d.Text,
		HTML:        RenderMarkdown(d.Text),
		EntryType:   string(d.EntryType),
		Skills:      d.ExtractedSkills,
		Project:     d.SuggestedMetadata.Project,
		Client:      d.SuggestedMetadata.Client,
		ActivityIDs: d.ActivityIDs,
		EntryID:     entryID,
	}
}

func toStageResponse(sessionID string, quality model.QualityLevel, a model.StageArtifact) StageResponse {
	resp := StageResponse{
		SessionID: sessionID,
		Stage:     string(a.Stage()),
		Quality:   string(quality),
		Usage:     toUsageResponse(a.StageUsage()),
	}
	switch art := a.(type) {
	case *model.Analysis:
		resp.Analysis = art.Items
	case *model.Correlation:
		resp.Groups = art.Groups
	case *model.Generation:
		resp.Drafts = make([]DraftResponse, 0, len(art.Drafts))
		for _, d := range art.Drafts {
			resp.Drafts = append(resp.Drafts, toDraftResponse(d, ""))
		}
	}
	return resp
}

func toFinalizeResponse(res *application.FinalizeResult) FinalizeResponse {
	resp := FinalizeResponse{Delivered: res.Delivered, Drafts: make([]DraftResponse, 0, len(res.Drafts))}
	for _, d := range res.Drafts {
		resp.Drafts = append(resp.Drafts, toDraftResponse(d, res.EntryIDs[d.ID]))
	}
	return resp
}
