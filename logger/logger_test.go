package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("QUERYKIT_LOG_LEVEL", "trace")
	assert.Equal(t, LevelTrace, GetLevelFromEnv())
	t.Setenv("QUERYKIT_LOG_LEVEL", "ERROR")
	assert.Equal(t, LevelError, GetLevelFromEnv())
	t.Setenv("QUERYKIT_LOG_LEVEL", "")
	assert.Equal(t, LevelWarn, GetLevelFromEnv())
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "TRACE", LevelTrace.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "NONE", LevelNone.String())
}

func TestTestLoggerCapturesEntries(t *testing.T) {
	l := NewTestLogger()
	l.Info("hello %s", "world")
	l.Error("boom")
	logs := l.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "INFO", logs[0].Severity)
	assert.Equal(t, "hello %s", logs[0].Message)
	assert.Equal(t, []interface{}{"world"}, logs[0].Arguments)
	assert.Equal(t, "ERROR", logs[1].Severity)
}

func TestTestLoggerSharedAcrossDerived(t *testing.T) {
	l := NewTestLogger()
	child := l.With(map[string]interface{}{"component": "cache"})
	child.Warn("stale")
	logs := l.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "WARN", logs[0].Severity)
}

func TestJSONLoggerWritesOneLinePerEntry(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, LevelDebug)
	l.Trace("dropped")
	l.WithPrefix("query").Info("fetched %d", 3)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry JSONLogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry.Severity)
	assert.Equal(t, "fetched 3", entry.Message)
	assert.Equal(t, "query", entry.Component)
}

func TestJSONLoggerMetadata(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, LevelInfo).With(map[string]interface{}{"hash": "abc"})
	l.Error("failed")
	var entry JSONLogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "abc", entry.Metadata["hash"])
}

func TestToZapBridges(t *testing.T) {
	l := NewTestLogger()
	z := ToZap(l)
	z.Info("from zap")
	logs := l.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "INFO", logs[0].Severity)
	assert.Equal(t, "from zap", logs[0].Message)
}
