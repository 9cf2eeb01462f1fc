package testutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/dbrotate/internal/logging"
)

// TestLogger captures the JSON output of a logging.Logger for assertions.
//
// Example usage:
//
//	logs := testutil.NewTestLogger(t)
//	tester := rotation.NewConnectionTester(dialer, 3, time.Millisecond, logs.Logger(), nil)
//	...
//	logs.AssertLevel(t, "Connection test attempt 1/3 failed", "warn")
//	logs.AssertNoSecretLeak(t, "s3cret")
type TestLogger struct {
	mu     sync.Mutex
	buffer bytes.Buffer
	logger *logging.Logger
}

// LogEntry is one decoded log line
type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

// NewTestLogger creates a TestLogger that records every level down to debug
func NewTestLogger(t *testing.T) *TestLogger {
	t.Helper()

	l := &TestLogger{}
	l.logger = logging.New(logging.Options{Level: "debug", Format: "json", Writer: l})
	return l
}

// Write implements io.Writer; it is safe for concurrent loggers
func (l *TestLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.Write(p)
}

// Logger returns the logger writing into this capture
func (l *TestLogger) Logger() *logging.Logger {
	return l.logger
}

// GetOutput returns the captured raw output
func (l *TestLogger) GetOutput() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buffer.String()
}

// Clear discards the captured output
func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buffer.Reset()
}

// Entries decodes the captured lines; lines that are not JSON are skipped
func (l *TestLogger) Entries() []LogEntry {
	var entries []LogEntry
	for _, line := range strings.Split(l.GetOutput(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			continue
		}
		entry := LogEntry{Fields: fields}
		entry.Level, _ = fields["level"].(string)
		entry.Message, _ = fields["message"].(string)
		entries = append(entries, entry)
	}
	return entries
}

// Find returns the first entry whose message contains substr
func (l *TestLogger) Find(substr string) (LogEntry, bool) {
	for _, e := range l.Entries() {
		if strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return LogEntry{}, false
}

// AssertContains asserts that some message contains substr
func (l *TestLogger) AssertContains(t *testing.T, substr string) {
	t.Helper()
	_, ok := l.Find(substr)
	assert.True(t, ok, "Expected a log message containing %q in:\n%s", substr, l.GetOutput())
}

// AssertNotContains asserts that substr appears nowhere in the output,
// fields included
func (l *TestLogger) AssertNotContains(t *testing.T, substr string) {
	t.Helper()
	assert.NotContains(t, l.GetOutput(), substr, "Expected log output to NOT contain %q", substr)
}

// AssertLevel asserts the level of the first message containing substr
func (l *TestLogger) AssertLevel(t *testing.T, substr, level string) {
	t.Helper()
	entry, ok := l.Find(substr)
	if !assert.True(t, ok, "Expected a log message containing %q in:\n%s", substr, l.GetOutput()) {
		return
	}
	assert.Equal(t, level, entry.Level, "level of %q", entry.Message)
}

// AssertLogCount asserts how many messages were logged at level
func (l *TestLogger) AssertLogCount(t *testing.T, level string, count int) {
	t.Helper()
	actual := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			actual++
		}
	}
	assert.Equal(t, count, actual, "Expected %d %s log messages, got %d", count, level, actual)
}

// AssertNoSecretLeak asserts that none of the secrets appear in the output
func (l *TestLogger) AssertNoSecretLeak(t *testing.T, secrets ...string) {
	t.Helper()
	output := l.GetOutput()
	for _, secret := range secrets {
		assert.NotContains(t, output, secret, "Secret %q should never be logged", secret)
	}
}
