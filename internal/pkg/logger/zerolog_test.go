package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	previous := log.Logger
	log.Logger = zerolog.New(buf)
	t.Cleanup(func() { log.Logger = previous })
	return buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestWithWorkflowIDTagsEntries(t *testing.T) {
	buf := captureLogs(t)

	l := WithWorkflowID("wf-orders")
	l.Info().Str("checksum", "abc123").Msg("draft saved")

	entry := lastEntry(t, buf)
	assert.Equal(t, "wf-orders", entry["workflow_id"])
	assert.Equal(t, "abc123", entry["checksum"])
	assert.Equal(t, "draft saved", entry["message"])
}

func TestWithExecutionIDTagsEntries(t *testing.T) {
	buf := captureLogs(t)

	l := WithExecutionID("3f6b")
	l.Warn().Msg("snapshot archive failed")

	entry := lastEntry(t, buf)
	assert.Equal(t, "3f6b", entry["execution_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestWithNodeTagsBothIDs(t *testing.T) {
	buf := captureLogs(t)

	l := WithNode("3f6b", "fetch")
	l.Debug().Msg("node dispatched")

	entry := lastEntry(t, buf)
	assert.Equal(t, "3f6b", entry["execution_id"])
	assert.Equal(t, "fetch", entry["node_id"])
}
