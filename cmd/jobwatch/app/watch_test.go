package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_FollowsPushedEvents(t *testing.T) {
	t.Parallel()

	store, srv := newTestAPI(t)
	id := createTestJob(t, store)

	publishOnceWatched(t, store, id,
		`{"type":"status","status":"RUNNING","progress":40}`,
		`{"type":"log","message":"downloading"}`,
		`{"type":"log","message":"transcribing"}`,
		`{"type":"result","result_url":"https://cdn.example.com/out.mp4"}`,
		`{"type":"status","status":"DONE","progress":100}`,
	)

	out, err := runCLI(t, "--api-url", srv.URL, "watch", id)
	require.NoError(t, err)

	assert.Contains(t, out, "status: QUEUED 0%")
	assert.Contains(t, out, "log: downloading")
	assert.Contains(t, out, "log: transcribing")
	assert.Contains(t, out, "result: https://cdn.example.com/out.mp4")
	assert.Contains(t, out, "status: DONE 100%")
	assert.Contains(t, out, id)
}

func TestWatch_FailedJob(t *testing.T) {
	t.Parallel()

	store, srv := newTestAPI(t)
	id := createTestJob(t, store)

	publishOnceWatched(t, store, id,
		`{"type":"status","status":"RUNNING","progress":10}`,
		`{"type":"status","status":"FAILED","error":"transcoder crashed"}`,
	)

	out, err := runCLI(t, "--api-url", srv.URL, "watch", id)
	require.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, out, "error: transcoder crashed")
	assert.Contains(t, out, "FAILED")
}

func TestWatch_AlreadyFinished(t *testing.T) {
	t.Parallel()

	store, srv := newTestAPI(t)
	id := createTestJob(t, store)
	publish(t, store, id,
		`{"type":"result","result_url":"https://cdn.example.com/done.mp4"}`,
		`{"type":"status","status":"DONE","progress":100}`,
	)

	out, err := runCLI(t, "--api-url", srv.URL, "watch", id)
	require.NoError(t, err)
	assert.Contains(t, out, "status: DONE 100%")
	assert.Contains(t, out, "https://cdn.example.com/done.mp4")
}

func TestWatch_UnknownJob(t *testing.T) {
	t.Parallel()

	_, srv := newTestAPI(t)

	_, err := runCLI(t, "--api-url", srv.URL, "watch", "missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "failed to watch job missing")
}

func TestWatch_RequiresJobID(t *testing.T) {
	t.Parallel()

	_, err := runCLI(t, "watch")
	require.Error(t, err)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	store, srv := newTestAPI(t)
	id := createTestJob(t, store)
	publish(t, store, id,
		`{"type":"status","status":"RUNNING","progress":40}`,
		`{"type":"log","message":"first line"}`,
		`{"type":"log","message":"second line"}`,
	)

	out, err := runCLI(t, "--api-url", srv.URL, "status", id, "--logs", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "40%")
	assert.Contains(t, out, "second line")
	assert.NotContains(t, out, "first line")

	_, err = runCLI(t, "--api-url", srv.URL, "status", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get job missing")
}
