package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/feishu-go/internal/runlog"
)

func recordExecution(t *testing.T, store *runlog.Store, e runlog.Execution) string {
	t.Helper()

	require.NoError(t, store.Record(context.Background(), &e))

	return e.ID
}

func TestListHistory_Empty(t *testing.T) {
	store := openTestStore(t)

	var buf bytes.Buffer
	require.NoError(t, listHistory(context.Background(), &buf, store, 10, false))
	assert.Equal(t, "No executions recorded.\n", buf.String())

	buf.Reset()
	require.NoError(t, listHistory(context.Background(), &buf, store, 10, true))
	assert.Equal(t, "[]\n", buf.String())
}

func TestListHistory_Table(t *testing.T) {
	store := openTestStore(t)

	recordExecution(t, store, runlog.Execution{
		ID:        "0123456789abcdef",
		Operation: "message:send",
		Status:    runlog.StatusFailed,
		Rows:      3,
		Failed:    1,
		StartedAt: time.Now().Add(-time.Minute),
		Duration:  1500 * time.Millisecond,
	})

	var buf bytes.Buffer
	require.NoError(t, listHistory(context.Background(), &buf, store, 10, false))

	out := buf.String()
	assert.Contains(t, out, "OPERATION")
	assert.Contains(t, out, "01234567 ")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "message:send")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "1.5s")
}

func TestListHistory_LimitAndJSON(t *testing.T) {
	store := openTestStore(t)

	for i := range 3 {
		recordExecution(t, store, runlog.Execution{
			Operation: "user:get",
			Status:    runlog.StatusSucceeded,
			StartedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}

	var buf bytes.Buffer
	require.NoError(t, listHistory(context.Background(), &buf, store, 2, true))

	var list []runlog.Execution
	require.NoError(t, json.Unmarshal(buf.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestShowExecution(t *testing.T) {
	store := openTestStore(t)

	id := recordExecution(t, store, runlog.Execution{
		App:       "work",
		Operation: "chat:create",
		Source:    sourceServe,
		Mode:      "parallel",
		Status:    runlog.StatusFailed,
		Rows:      4,
		Failed:    0,
		Error:     "row 2: feishu: permission denied",
		StartedAt: time.Now(),
	})

	var buf bytes.Buffer
	require.NoError(t, showExecution(context.Background(), &buf, store, id, false))

	out := buf.String()
	assert.Contains(t, out, "App:       work")
	assert.Contains(t, out, "Source:    serve")
	assert.Contains(t, out, "Mode:      parallel")
	assert.Contains(t, out, "Rows:      4 (0 failed)")
	assert.Contains(t, out, "Error:     row 2: feishu: permission denied")

	err := showExecution(context.Background(), &buf, store, "missing", false)
	assert.True(t, errors.Is(err, runlog.ErrNotFound))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh", shortID("abcdefgh-1234"))
	assert.Equal(t, "abc", shortID("abc"))
}
