package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
database:
  driver: memory
auth:
  admin_password: "s3cure-admin-pass"
  jwt_secret: "0123456789abcdef0123456789abcdef"
  encryption_key: "abcdefghijklmnopqrstuvwxyz012345"
poller:
  max_concurrent_polls: 8
  batch_size: 4
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Poller.MaxConcurrentPolls)
	assert.Equal(t, 4, cfg.Poller.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Poller.GetTickInterval())
	assert.Equal(t, 2*time.Second, cfg.Poller.GetICMPTimeout())
	assert.Equal(t, 5*time.Second, cfg.Poller.GetSNMPTimeout())
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "/metrics", cfg.Metrics.PrometheusPath)
	assert.NotEmpty(t, cfg.Discovery.EvidencePorts)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NETMON_POLLER_MAX_CONCURRENT_POLLS", "3")
	t.Setenv("NETMON_EVENTS_NATS_URL", "nats://broker:4222")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Poller.MaxConcurrentPolls)
	assert.Equal(t, "nats://broker:4222", cfg.Events.NATSURL)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "short jwt secret",
			body: `
database: {driver: memory}
auth: {admin_password: "pw-strong-1", jwt_secret: "short", encryption_key: "abcdefghijklmnopqrstuvwxyz012345"}
`,
			wantErr: "JWT_SECRET",
		},
		{
			name: "bad encryption key",
			body: `
database: {driver: memory}
auth: {admin_password: "pw-strong-1", jwt_secret: "0123456789abcdef0123456789abcdef", encryption_key: "tooshort"}
`,
			wantErr: "ENCRYPTION_KEY",
		},
		{
			name: "postgres without host",
			body: `
auth: {admin_password: "pw-strong-1", jwt_secret: "0123456789abcdef0123456789abcdef", encryption_key: "abcdefghijklmnopqrstuvwxyz012345"}
`,
			wantErr: "database host",
		},
		{
			name: "unknown driver",
			body: `
database: {driver: mysql}
auth: {admin_password: "pw-strong-1", jwt_secret: "0123456789abcdef0123456789abcdef", encryption_key: "abcdefghijklmnopqrstuvwxyz012345"}
`,
			wantErr: "Driver",
		},
		{
			name: "invalid log level",
			body: `
database: {driver: memory}
auth: {admin_password: "pw-strong-1", jwt_secret: "0123456789abcdef0123456789abcdef", encryption_key: "abcdefghijklmnopqrstuvwxyz012345"}
logging: {level: verbose}
`,
			wantErr: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
