package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x4133/nan/pkg/logger"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var records []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestProductionLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewProductionLogger(logger.Options{
		Level:       "debug",
		Format:      "json",
		Output:      &buf,
		ServiceName: "nan-test",
	})

	log.Info("Bundle detached", map[string]interface{}{
		"operation": "agent_detach",
		"agent_id":  "1",
		"items":     2,
	})

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "INFO", rec["level"])
	assert.Equal(t, "Bundle detached", rec["msg"])
	assert.Equal(t, "nan-test", rec["service"])
	assert.Equal(t, "agent_detach", rec["operation"])
	assert.Equal(t, "1", rec["agent_id"])
	assert.EqualValues(t, 2, rec["items"])
}

func TestProductionLoggerErrorField(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewProductionLogger(logger.Options{Format: "json", Output: &buf})

	log.Error("Store write failed", map[string]interface{}{
		"error": errors.New("connection refused"),
	})

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "connection refused", records[0]["error"])
}

func TestProductionLoggerLevels(t *testing.T) {
	tests := []struct {
		level   string
		debug   bool
		info    bool
		warn    bool
		errored bool
	}{
		{"debug", true, true, true, true},
		{"info", false, true, true, true},
		{"", false, true, true, true},
		{"warn", false, false, true, true},
		{"error", false, false, false, true},
	}

	for _, tt := range tests {
		t.Run("level_"+tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewProductionLogger(logger.Options{Level: tt.level, Format: "json", Output: &buf})

			log.Debug("d", nil)
			log.Info("i", nil)
			log.Warn("w", nil)
			log.Error("e", nil)

			got := map[string]bool{}
			for _, rec := range decodeLines(t, &buf) {
				got[rec["msg"].(string)] = true
			}
			assert.Equal(t, tt.debug, got["d"])
			assert.Equal(t, tt.info, got["i"])
			assert.Equal(t, tt.warn, got["w"])
			assert.Equal(t, tt.errored, got["e"])
		})
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewProductionLogger(logger.Options{Format: "json", Output: &buf})

	child := logger.ForComponent(base, "memory/pool")
	child.Info("ready", nil)
	base.Info("base", nil)

	records := decodeLines(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "memory/pool", records[0]["component"])
	_, hasComponent := records[1]["component"]
	assert.False(t, hasComponent, "parent logger must not inherit child component")
}

func TestForComponentNil(t *testing.T) {
	l := logger.ForComponent(nil, "anything")
	require.NotNil(t, l)
	assert.IsType(t, &logger.NoOpLogger{}, l)
	l.Info("discarded", map[string]interface{}{"k": "v"})
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewProductionLogger(logger.Options{Format: "text", Output: &buf})
	log.Warn("lock contention", map[string]interface{}{"agent_id": "7"})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="lock contention"`)
	assert.Contains(t, out, "agent_id=7")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logger.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logger.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logger.ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, logger.ParseLevel("verbose"))
}

func TestDefaultFormat(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	assert.Equal(t, "text", logger.DefaultFormat())

	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	assert.Equal(t, "json", logger.DefaultFormat())
}

func BenchmarkProductionLogger(b *testing.B) {
	var buf bytes.Buffer
	log := logger.NewProductionLogger(logger.Options{Format: "json", Output: &buf})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		log.Info("benchmark message", map[string]interface{}{
			"iteration": i,
			"benchmark": true,
		})
	}
}
