package logger_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/oarkflow/smpp-engine/internal/logger"
	"github.com/oarkflow/smpp-engine/pkg/smpp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logMsg struct {
	Level     string `json:"level"`
	Message   string `json:"msg"`
	SessionID string `json:"session_id,omitempty"`
	Sequence  int    `json:"sequence,omitempty"`
}

func TestLevels(t *testing.T) {
	cases := []struct {
		desc   string
		level  string
		log    func(l smpp.Logger)
		output *logMsg
	}{
		{
			desc:   "debug allowed at debug",
			level:  "debug",
			log:    func(l smpp.Logger) { l.Debug("pdu received") },
			output: &logMsg{Level: "DEBUG", Message: "pdu received"},
		},
		{
			desc:  "debug filtered at info",
			level: "info",
			log:   func(l smpp.Logger) { l.Debug("pdu received") },
		},
		{
			desc:   "warn allowed at warning",
			level:  "warning",
			log:    func(l smpp.Logger) { l.Warn("late response") },
			output: &logMsg{Level: "WARN", Message: "late response"},
		},
		{
			desc:  "info filtered at error",
			level: "error",
			log:   func(l smpp.Logger) { l.Info("session bound") },
		},
		{
			desc:   "unknown level falls back to info",
			level:  "verbose",
			log:    func(l smpp.Logger) { l.Info("session bound") },
			output: &logMsg{Level: "INFO", Message: "session bound"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			var buf bytes.Buffer
			tc.log(logger.New(&buf, tc.level, "json"))
			if tc.output == nil {
				assert.Empty(t, buf.String())
				return
			}
			var got logMsg
			require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
			assert.Equal(t, *tc.output, got)
		})
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(&buf, "debug", "json").WithFields(map[string]interface{}{"session_id": "01HX"})
	l.Info("PDU sent", "sequence", 7)

	var got logMsg
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, logMsg{Level: "INFO", Message: "PDU sent", SessionID: "01HX", Sequence: 7}, got)
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger.New(&buf, "info", "text").Error("write failed", "error", "broken pipe")
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), `msg="write failed"`)
	assert.Contains(t, buf.String(), `error="broken pipe"`)
}

func TestFromConfig(t *testing.T) {
	_, _, err := logger.FromConfig(smpp.LoggingConfig{Output: "file"})
	assert.Error(t, err)

	_, _, err = logger.FromConfig(smpp.LoggingConfig{Output: "syslog"})
	assert.Error(t, err)

	l, closer, err := logger.FromConfig(smpp.LoggingConfig{Level: "debug", Output: "stderr"})
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.NoError(t, closer.Close())
}

func TestNewDefaultLogger(t *testing.T) {
	l := logger.NewDefaultLogger("debug")
	require.NotNil(t, l)
	assert.NotPanics(t, func() { l.WithFields(map[string]interface{}{"role": "client"}).Debug("ready") })
}
