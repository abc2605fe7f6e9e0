package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverity_Rank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Equal(t, 0, Severity("CRITICA").Rank())
	assert.Len(t, Severities, 3)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		input   string
		want    Severity
		wantErr bool
	}{
		{"BAIXA", SeverityLow, false},
		{"media", SeverityMedium, false},
		{" Alta ", SeverityHigh, false},
		{"", "", true},
		{"HIGH", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSeverity(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuditEvent_TableName(t *testing.T) {
	assert.Equal(t, "audit_events", AuditEvent{}.TableName())
}

func TestAuditEvent_JSONMarshaling(t *testing.T) {
	event := AuditEvent{
		ID:         uuid.New(),
		Action:     ActionLogin,
		Module:     ModuleAuth,
		Target:     TargetNone,
		Details:    "login ok",
		Severity:   SeverityLow,
		ActorID:    "user-1",
		ActorName:  "Maria",
		ActorRole:  "ADMIN",
		TenantID:   "t-1",
		TenantName: "Porto",
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "BAIXA", raw["severity"])
	assert.Equal(t, "Maria", raw["actorName"])
	assert.Equal(t, "Porto", raw["tenantName"])
	assert.Equal(t, "2026-01-02T03:04:05Z", raw["createdAt"])
}

func TestSeverityCounts_Total(t *testing.T) {
	counts := SeverityCounts{SeverityLow: 4, SeverityHigh: 1}
	assert.Equal(t, int64(5), counts.Total())
	assert.Equal(t, int64(0), SeverityCounts{}.Total())
}

func TestUserProfile_NoCredentials(t *testing.T) {
	data, err := json.Marshal(UserProfile{ID: "u", Name: "n", Role: "USER", Permissions: []string{}})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password")
}
