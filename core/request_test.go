package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatRequestValidate(t *testing.T) {
	req := &ChatRequest{RequestID: "r1", Message: "hello"}
	assert.NoError(t, req.Validate())

	var verr *ValidationError

	err := (&ChatRequest{Message: "hello"}).Validate()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "requestId", verr.Field)

	err = (&ChatRequest{RequestID: "r1"}).Validate()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "message", verr.Field)
}

func TestChatRequestAgentLookups(t *testing.T) {
	req := &ChatRequest{
		RequestID: "r1",
		Message:   "hi",
		AvailableAgents: []AgentDescriptor{
			{ID: "orchestrator", Provider: "anthropic", IsOrchestrator: true},
			{ID: "db-agent", Provider: "claude-cli", APIEndpoint: "http://peer"},
			{ID: "web-agent", Provider: "claude-cli", APIEndpoint: "http://peer2"},
		},
	}

	orch := req.Orchestrator()
	require.NotNil(t, orch)
	assert.Equal(t, "orchestrator", orch.ID)

	workers := req.Workers()
	require.Len(t, workers, 2)
	assert.Equal(t, "db-agent", workers[0].ID)
	assert.Equal(t, "web-agent", workers[1].ID)

	agent, ok := req.FindAgent("web-agent")
	require.True(t, ok)
	assert.Equal(t, "http://peer2", agent.APIEndpoint)

	_, ok = req.FindAgent("missing")
	assert.False(t, ok)
}

func TestCredentialBundleValid(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name   string
		bundle *CredentialBundle
		want   bool
	}{
		{name: "nil bundle", bundle: nil, want: false},
		{name: "empty bundle", bundle: &CredentialBundle{}, want: false},
		{
			name: "missing token",
			bundle: &CredentialBundle{ClaudeAiOauth: &OAuthCredentials{
				ExpiresAt: now.Add(time.Hour).UnixMilli(),
			}},
			want: false,
		},
		{
			name: "expired",
			bundle: &CredentialBundle{ClaudeAiOauth: &OAuthCredentials{
				AccessToken: "tok",
				ExpiresAt:   now.Add(-time.Hour).UnixMilli(),
			}},
			want: false,
		},
		{
			name: "expiring within slack window",
			bundle: &CredentialBundle{ClaudeAiOauth: &OAuthCredentials{
				AccessToken: "tok",
				ExpiresAt:   now.Add(2 * time.Minute).UnixMilli(),
			}},
			want: false,
		},
		{
			name: "valid",
			bundle: &CredentialBundle{ClaudeAiOauth: &OAuthCredentials{
				AccessToken: "tok",
				ExpiresAt:   now.Add(time.Hour).UnixMilli(),
			}},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bundle.Valid(now))
		})
	}
}
