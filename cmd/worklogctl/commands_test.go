package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/domain/model"
)

func TestRenderConnections(t *testing.T) {
	var buf bytes.Buffer
	err := renderConnections(&buf, []model.ConnectionStatus{
		{Provider: model.ProviderJira, IsConnected: true, ConnectedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), Scope: "read:jira-work"},
		{Provider: model.ProviderSlack},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "jira")
	assert.Contains(t, out, "read:jira-work")
	assert.Contains(t, out, "not connected")
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestRenderAudit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderAudit(&buf, nil))
	assert.Contains(t, buf.String(), "no audit events")

	buf.Reset()
	require.NoError(t, renderAudit(&buf, []model.AuditEvent{
		{Action: model.AuditRefreshFailed, Provider: model.ProviderGitHub, Outcome: "invalid_grant", At: time.Now()},
		{Action: model.AuditStage, SessionID: "s1", Outcome: "ok", Detail: "analyzed model=claude-haiku-4-5"},
	}))
	out := buf.String()
	assert.Contains(t, out, "refresh_failed")
	assert.Contains(t, out, "invalid_grant")
	assert.Contains(t, out, "analyzed model=claude-haiku-4-5")
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		flags []string
	}{
		{credentialsCmd(), []string{"user"}},
		{disconnectCmd(), []string{"user", "provider"}},
		{auditCmd(), []string{"user", "limit"}},
	}
	for _, tt := range tests {
		for _, f := range tt.flags {
			assert.NotNil(t, tt.cmd.Flags().Lookup(f), tt.cmd.Name()+" --"+f)
		}
	}
}

func TestDisconnectRequiresFlags(t *testing.T) {
	cmd := disconnectCmd()
	cmd.SetArgs([]string{"--user", "u1"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}
