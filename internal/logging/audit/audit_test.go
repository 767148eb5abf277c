package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(zerolog.New(&buf)), &buf
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogAuth(t *testing.T) {
	tests := []struct {
		name      string
		userID    string
		method    string
		result    string
		details   string
		sourceIP  string
		wantLevel string
	}{
		{
			name:      "valid bearer token",
			userID:    "alice",
			method:    "bearer",
			result:    ResultAllowed,
			sourceIP:  "192.168.1.100",
			wantLevel: "info",
		},
		{
			name:      "expired token",
			method:    "bearer",
			result:    ResultDenied,
			details:   "token has invalid claims: token is expired",
			sourceIP:  "10.0.0.50",
			wantLevel: "warn",
		},
		{
			name:      "blob link",
			userID:    "bob",
			method:    "blob_token",
			result:    ResultAllowed,
			sourceIP:  "172.16.0.1",
			wantLevel: "info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, buf := newTestLogger()
			l.LogAuth(tt.userID, tt.method, tt.result, tt.details, tt.sourceIP)

			entry := decode(t, buf)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "auth", entry["event_type"])
			assert.Equal(t, tt.userID, entry["user_id"])
			assert.Equal(t, tt.method, entry["method"])
			assert.Equal(t, tt.result, entry["result"])
			assert.Equal(t, tt.sourceIP, entry["source_ip"])
			if tt.details == "" {
				assert.NotContains(t, entry, "details")
			} else {
				assert.Equal(t, tt.details, entry["details"])
			}
		})
	}
}

func TestLogDriveOp(t *testing.T) {
	l, buf := newTestLogger()
	l.LogDriveOp("alice", "trash", "folder", "f-1", ResultOK, "4 folders, 9 files", "10.0.0.1")

	entry := decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "drive_operation", entry["event_type"])
	assert.Equal(t, "alice", entry["owner_id"])
	assert.Equal(t, "trash", entry["operation"])
	assert.Equal(t, "folder", entry["item_type"])
	assert.Equal(t, "f-1", entry["item_id"])
	assert.Equal(t, "4 folders, 9 files", entry["details"])
	assert.Equal(t, "10.0.0.1", entry["source_ip"])
}

func TestLogDriveOpFailureOmitsEmptyFields(t *testing.T) {
	l, buf := newTestLogger()
	l.LogDriveOp("alice", "upload", "", "", ResultFailed, "", "")

	entry := decode(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, ResultFailed, entry["result"])
	for _, key := range []string{"item_type", "item_id", "details", "source_ip"} {
		assert.NotContains(t, entry, key)
	}
}

func TestLogPurge(t *testing.T) {
	l, buf := newTestLogger()
	l.LogPurge("bob", "file", "x-9", ResultFailed, "blob store unavailable")

	entry := decode(t, buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "purge", entry["event_type"])
	assert.Equal(t, "bob", entry["owner_id"])
	assert.Equal(t, "file", entry["item_type"])
	assert.Equal(t, "x-9", entry["item_id"])
	assert.Equal(t, "blob store unavailable", entry["details"])

	buf.Reset()
	l.LogPurge("bob", "folder", "y-1", ResultOK, "")
	entry = decode(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.NotContains(t, entry, "details")
}

func TestLogPurgeSweep(t *testing.T) {
	l, buf := newTestLogger()
	l.LogPurgeSweep(2, 7, 4096, 1, 3)

	entry := decode(t, buf)
	assert.Equal(t, "purge_sweep", entry["event_type"])
	assert.EqualValues(t, 2, entry["folders"])
	assert.EqualValues(t, 7, entry["files"])
	assert.EqualValues(t, 4096, entry["bytes"])
	assert.EqualValues(t, 1, entry["failed"])
	assert.EqualValues(t, 3, entry["skipped"])
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.LogAuth("a", "bearer", ResultAllowed, "", "")
		l.LogDriveOp("a", "rename", "file", "1", ResultOK, "", "")
		l.LogPurge("a", "file", "1", ResultOK, "")
		l.LogPurgeSweep(0, 0, 0, 0, 0)
	})
}
