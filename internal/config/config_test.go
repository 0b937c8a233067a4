package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := NewConfigManager("").WithEnvironment(map[string]string{}).LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 2775, cfg.Server.Port)
	assert.Equal(t, smpp.DefaultEnquireLinkInterval, cfg.Client.EnquireLinkInterval)
}

func TestLoadConfigFiles(t *testing.T) {
	cases := []struct {
		desc    string
		name    string
		content string
	}{
		{
			desc: "json file",
			name: "smpp.json",
			content: `{
  "server": {"port": 2776, "enquire_link_interval": "0s", "bind_timeout": "15s", "submit_rate": 50},
  "client": {"system_id": "esme", "bind_type": "tx", "transaction_timeout": "2m"},
  "logging": {"level": "debug", "format": "json", "output": "stderr"}
}`,
		},
		{
			desc: "yaml file",
			name: "smpp.yaml",
			content: `server:
  port: 2776
  enquire_link_interval: 0s
  bind_timeout: 15s
  submit_rate: 50
client:
  system_id: esme
  bind_type: tx
  transaction_timeout: 2m
logging:
  level: debug
  format: json
  output: stderr
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			path := writeFile(t, tc.name, tc.content)
			cfg, err := NewConfigManager(path).WithEnvironment(map[string]string{}).LoadConfig()
			require.NoError(t, err)

			assert.Equal(t, 2776, cfg.Server.Port)
			assert.Equal(t, time.Duration(0), cfg.Server.EnquireLinkInterval)
			assert.Equal(t, 15*time.Second, cfg.Server.BindTimeout)
			assert.Equal(t, 50.0, cfg.Server.SubmitRate)
			assert.Equal(t, "esme", cfg.Client.SystemID)
			assert.Equal(t, "tx", cfg.Client.BindType)
			assert.Equal(t, 2*time.Minute, cfg.Client.TransactionTimeout)
			assert.Equal(t, "debug", cfg.Logging.Level)

			// Fields absent from the file keep their defaults.
			assert.Equal(t, "localhost", cfg.Server.Host)
			assert.Equal(t, smpp.DefaultWindowSize, cfg.Server.WindowSize)
			assert.Equal(t, "test", cfg.Client.Password)
		})
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "smpp.json", `{"server": {"port": 2776}}`)
	environment := map[string]string{
		"SMPP_SERVER_PORT":                  "3000",
		"SMPP_SERVER_WINDOW_SIZE":           "10",
		"SMPP_CLIENT_ENQUIRE_LINK_INTERVAL": "45s",
		"SMPP_LOG_LEVEL":                    "warn",
		"SMPP_METRICS_ENABLED":              "true",
	}
	cfg, err := NewConfigManager(path).WithEnvironment(environment).LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Server.WindowSize)
	assert.Equal(t, 45*time.Second, cfg.Client.EnquireLinkInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		desc    string
		name    string
		content string
		env     map[string]string
	}{
		{
			desc:    "malformed json",
			name:    "bad.json",
			content: `{"server": `,
		},
		{
			desc:    "bad duration",
			name:    "bad.json",
			content: `{"server": {"read_timeout": "soon"}}`,
		},
		{
			desc:    "unknown bind type",
			name:    "bad.yml",
			content: "client:\n  bind_type: both\n",
		},
		{
			desc:    "system id too long",
			name:    "bad.json",
			content: `{"client": {"system_id": "abcdefghijklmnopq"}}`,
		},
		{
			desc:    "invalid log level",
			name:    "ok.json",
			content: `{}`,
			env:     map[string]string{"SMPP_LOG_LEVEL": "loud"},
		},
		{
			desc:    "unparsable environment value",
			name:    "ok.json",
			content: `{}`,
			env:     map[string]string{"SMPP_SERVER_PORT": "many"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			env := tc.env
			if env == nil {
				env = map[string]string{}
			}
			path := writeFile(t, tc.name, tc.content)
			_, err := NewConfigManager(path).WithEnvironment(env).LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "conf", name)
			require.NoError(t, CreateDefaultConfigFile(path))

			cm := NewConfigManager(path).WithEnvironment(map[string]string{})
			cfg, err := cm.LoadConfig()
			require.NoError(t, err)
			assert.Equal(t, DefaultConfig(), cfg)

			client := cm.GetClientConfig()
			client.SystemID = "changed"
			assert.Equal(t, DefaultConfig().Client.SystemID, cm.GetConfig().Client.SystemID)

			server := cm.GetServerConfig()
			server.Port = 2800
			require.NoError(t, cm.UpdateConfig(server))
			require.NoError(t, cm.SaveConfig())
			require.NoError(t, cm.Reload())
			assert.Equal(t, 2800, cm.GetConfig().Server.Port)
		})
	}
}

func TestUpdateConfigValidates(t *testing.T) {
	cm := NewConfigManager("")
	assert.Error(t, cm.UpdateConfig(&smpp.LoggingConfig{Level: "info", Format: "xml", Output: "stdout"}))
	assert.Error(t, cm.UpdateConfig("nope"))
	assert.NoError(t, cm.UpdateConfig(&smpp.MetricsConfig{Enabled: true, Port: 9100, Path: "/m"}))
	assert.Equal(t, 9100, cm.GetConfig().Metrics.Port)
}

func TestUpdateConfigKeepsPreviousOnError(t *testing.T) {
	cm := NewConfigManager("")
	require.NoError(t, cm.UpdateConfig(&smpp.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}))

	err := cm.UpdateConfig(&smpp.LoggingConfig{Level: "info", Format: "xml", Output: "stdout"})
	require.Error(t, err)
	assert.Equal(t, "json", cm.GetConfig().Logging.Format)
	assert.Equal(t, "debug", cm.GetConfig().Logging.Level)

	bad := cm.GetServerConfig()
	bad.Port = -1
	require.Error(t, cm.UpdateConfig(bad))
	assert.Equal(t, DefaultConfig().Server.Port, cm.GetConfig().Server.Port)

	require.NoError(t, cm.UpdateConfig(&smpp.MetricsConfig{Enabled: true, Port: 9100, Path: "/m"}))
}
