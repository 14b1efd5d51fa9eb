package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogAppendsNDJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	logger, err := New(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(Entry{RequestID: "req-1", Timestamp: time.Now(), Endpoint: "relay", Status: "SUCCESS", Txid: "0xabc"}))
	require.NoError(t, logger.Log(Entry{RequestID: "req-2", Timestamp: time.Now(), Endpoint: "relay", Status: "FAILURE", FailureReason: "InvalidRequest"}))

	entries, err := logger.ReadAll()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "req-1", entries[0].RequestID)
	require.Equal(t, "FAILURE", entries[1].Status)
}

func TestReadAllOnMissingFileReturnsEmpty(t *testing.T) {
	logger, err := New(filepath.Join(t.TempDir(), "nope", "audit.ndjson"))
	require.NoError(t, err)

	entries, err := logger.ReadAll()
	require.NoError(t, err)
	require.Empty(t, entries)
}
