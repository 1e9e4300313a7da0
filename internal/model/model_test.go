package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_IsDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		ts := now.Add(d)
		return &ts
	}

	tests := []struct {
		name     string
		device   Device
		expected bool
	}{
		{"never polled", Device{IsActive: true, PollIntervalSeconds: 60}, true},
		{"inactive", Device{IsActive: false}, false},
		{"exactly due", Device{IsActive: true, PollIntervalSeconds: 60, LastPoll: at(-60 * time.Second)}, true},
		{"overdue", Device{IsActive: true, PollIntervalSeconds: 60, LastPoll: at(-65 * time.Second)}, true},
		{"not yet due", Device{IsActive: true, PollIntervalSeconds: 60, LastPoll: at(-59 * time.Second)}, false},
		{"default interval", Device{IsActive: true, LastPoll: at(-30 * time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.device.IsDue(now))
		})
	}
}

func TestDevice_Validate(t *testing.T) {
	cred := uuid.New()

	assert.ErrorIs(t, (&Device{}).Validate(), ErrNoProtocol)
	assert.ErrorIs(t, (&Device{PollSNMP: true}).Validate(), ErrMissingCredential)
	assert.NoError(t, (&Device{PollICMP: true}).Validate())
	assert.NoError(t, (&Device{PollSNMP: true, SNMPCredentialID: &cred}).Validate())
}

func TestCapabilities_Intersect(t *testing.T) {
	both := Capabilities{ICMP: true, SNMP: true}

	assert.Equal(t, both, both.Intersect(nil))
	assert.Equal(t, Capabilities{ICMP: true}, both.Intersect([]Protocol{ProtocolICMP}))
	assert.True(t, Capabilities{SNMP: true}.Intersect([]Protocol{ProtocolICMP}).Empty())
	assert.Equal(t, []Protocol{ProtocolICMP, ProtocolSNMP}, both.Protocols())
}

func TestSortAlerts(t *testing.T) {
	base := time.Now()
	alerts := []Alert{
		{Severity: SeverityInfo, TriggeredAt: base},
		{Severity: SeverityCritical, TriggeredAt: base.Add(-time.Minute)},
		{Severity: SeverityWarning, TriggeredAt: base},
		{Severity: SeverityCritical, TriggeredAt: base},
	}

	SortAlerts(alerts)

	require.Len(t, alerts, 4)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, base, alerts[0].TriggeredAt)
	assert.Equal(t, SeverityCritical, alerts[1].Severity)
	assert.Equal(t, SeverityWarning, alerts[2].Severity)
	assert.Equal(t, SeverityInfo, alerts[3].Severity)
}

func TestComparator_Holds(t *testing.T) {
	assert.True(t, CompareGT.Holds(5, 4))
	assert.False(t, CompareGT.Holds(4, 4))
	assert.True(t, CompareGTE.Holds(4, 4))
	assert.True(t, CompareLT.Holds(3, 4))
	assert.True(t, CompareLTE.Holds(4, 4))
	assert.True(t, CompareEQ.Holds(1, 1))
	assert.True(t, CompareNE.Holds(1, 0))
	assert.False(t, Comparator("bogus").Holds(1, 0))
}

func TestValidateStruct_SNMPv3Params(t *testing.T) {
	tests := []struct {
		name    string
		params  SNMPv3Params
		wantErr string
	}{
		{
			name:   "noAuthNoPriv",
			params: SNMPv3Params{Username: "monitor", SecurityLevel: NoAuthNoPriv},
		},
		{
			name:   "authPriv",
			params: SNMPv3Params{Username: "monitor", SecurityLevel: AuthPriv, AuthProtocol: "SHA", AuthPassword: "authpass1", PrivProtocol: "AES", PrivPassword: "privpass1"},
		},
		{
			name:    "missing username",
			params:  SNMPv3Params{SecurityLevel: NoAuthNoPriv},
			wantErr: "username is required",
		},
		{
			name:    "bad auth protocol",
			params:  SNMPv3Params{Username: "m", SecurityLevel: AuthNoPriv, AuthProtocol: "ROT13", AuthPassword: "authpass1"},
			wantErr: "auth_protocol must be one of",
		},
		{
			name:    "authPriv without priv protocol",
			params:  SNMPv3Params{Username: "m", SecurityLevel: AuthPriv, AuthProtocol: "SHA", AuthPassword: "authpass1"},
			wantErr: "priv_protocol is required",
		},
		{
			name:    "short auth password",
			params:  SNMPv3Params{Username: "m", SecurityLevel: AuthNoPriv, AuthProtocol: "MD5", AuthPassword: "short"},
			wantErr: "auth_password must be at least 8",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.params)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "snmp_port", toSnakeCase("SNMPPort"))
	assert.Equal(t, "ip_address", toSnakeCase("IPAddress"))
	assert.Equal(t, "poll_interval_seconds", toSnakeCase("PollIntervalSeconds"))
	assert.Equal(t, "username", toSnakeCase("Username"))
}
