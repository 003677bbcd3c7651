package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(zapcore.AddSync(&buf), DEBUG, false)

	l.Info("registered", "workshop", "go-101", "sent", 3, "err", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "registered", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "go-101", lines[0]["workshop"])
	assert.Equal(t, float64(3), lines[0]["sent"])
	assert.Equal(t, "boom", lines[0]["err"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(zapcore.AddSync(&buf), WARN, false)

	l.Info("hidden")
	l.Debug("hidden")
	l.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestLogger_RedactsEmails(t *testing.T) {
	var buf bytes.Buffer
	l := New(zapcore.AddSync(&buf), INFO, true)

	l.Info("sent", "recipient", "john.doe@example.com", "note", "cc ab@example.com")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "jo***@example.com", lines[0]["recipient"])
	assert.Equal(t, "cc ***@example.com", lines[0]["note"])
}

func TestLogger_KeepsFieldTypes(t *testing.T) {
	var buf bytes.Buffer
	l := New(zapcore.AddSync(&buf), INFO, true)

	l.Info("fan-out",
		"sent", 2,
		"duplicate", true,
		"delay", 1500*time.Millisecond,
		"recipients", []string{"john.doe@example.com"},
		"error", error(nil),
	)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(2), lines[0]["sent"])
	assert.Equal(t, true, lines[0]["duplicate"])
	assert.Equal(t, "1.5s", lines[0]["delay"])
	assert.Equal(t, []interface{}{"jo***@example.com"}, lines[0]["recipients"])
	assert.NotContains(t, lines[0], "error")
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
