package jobstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/jobwatch/database"
	"github.com/stacklok/jobwatch/internal/events"
	"github.com/stacklok/jobwatch/internal/job"
)

func TestCutPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload string
		wantID  string
		wantOK  bool
	}{
		{payload: `abc {"type":"log","message":"a b"}`, wantID: "abc", wantOK: true},
		{payload: `abc`},
		{payload: ` {"type":"log"}`},
		{payload: `abc `},
		{payload: ``},
	}

	for _, tt := range tests {
		id, frame, ok := cutPayload(tt.payload)
		assert.Equal(t, tt.wantOK, ok, tt.payload)
		assert.Equal(t, tt.wantID, id, tt.payload)
		if ok {
			assert.Equal(t, tt.payload[len(id)+1:], string(frame))
		}
	}
}

func TestNewPostgresStore_RequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewPostgresStore(context.Background(), nil)
	require.Error(t, err)
}

func newTestPostgresStore(t *testing.T, opts ...Option) *PostgresStore {
	t.Helper()

	pool := database.SetupTestPool(t)
	s, err := NewPostgresStore(context.Background(), pool, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func receiveFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case frame, ok := <-ch:
		require.True(t, ok, "channel closed")
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func TestPostgresStore(t *testing.T) {
	t.Parallel()

	s := newTestPostgresStore(t, WithMaxLogLines(5), WithSnapshotLogLines(3))
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		id, err := s.Create(ctx, job.CreateRequest{
			YoutubeURL: "https://www.youtube.com/watch?v=pg",
			Options:    map[string]any{"language": "en", "subtitles": true},
		})
		require.NoError(t, err)
		assert.Regexp(t, "^[0-9a-f]{32}$", id)

		snap, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusQueued, snap.Status)
		assert.Zero(t, snap.Progress)
		assert.Empty(t, snap.Logs)

		req, err := s.Request(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "https://www.youtube.com/watch?v=pg", req.YoutubeURL)
		assert.Equal(t, map[string]any{"language": "en", "subtitles": true}, req.Options)
	})

	t.Run("create without options", func(t *testing.T) {
		id, err := s.Create(ctx, job.CreateRequest{YoutubeURL: testURL})
		require.NoError(t, err)

		req, err := s.Request(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, req.Options)
	})

	t.Run("invalid request", func(t *testing.T) {
		_, err := s.Create(ctx, job.CreateRequest{YoutubeURL: "ftp://example.com/v"})
		require.ErrorIs(t, err, job.ErrInvalidURL)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := s.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Request(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.Publish(ctx, "missing", []byte(`{"type":"log","message":"x"}`))
		require.ErrorIs(t, err, ErrNotFound)
		_, _, err = s.Subscribe(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("publish applies events", func(t *testing.T) {
		id, err := s.Create(ctx, job.CreateRequest{YoutubeURL: testURL})
		require.NoError(t, err)

		for _, frame := range []string{
			`{"type":"status","status":"RUNNING","progress":250}`,
			`{"type":"result","result_url":"https://cdn.example.com/out.mp4"}`,
			`{"type":"status","status":"FAILED","error":"boom"}`,
		} {
			_, err := s.Publish(ctx, id, []byte(frame))
			require.NoError(t, err)
		}

		snap, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, snap.Status)
		assert.Equal(t, 100, snap.Progress)
		assert.Equal(t, "https://cdn.example.com/out.mp4", snap.ResultURL)
		assert.Equal(t, "boom", snap.Error)
	})

	t.Run("invalid frames", func(t *testing.T) {
		id, err := s.Create(ctx, job.CreateRequest{YoutubeURL: testURL})
		require.NoError(t, err)

		for _, frame := range []string{`not json`, `{"type":"bogus"}`} {
			_, err := s.Publish(ctx, id, []byte(frame))
			require.ErrorIs(t, err, ErrInvalidEvent, frame)
		}

		huge := fmt.Sprintf(`{"type":"log","message":%q}`, strings.Repeat("x", maxNotifyPayload))
		_, err = s.Publish(ctx, id, []byte(huge))
		require.ErrorIs(t, err, ErrInvalidEvent)
	})

	t.Run("log retention", func(t *testing.T) {
		id, err := s.Create(ctx, job.CreateRequest{YoutubeURL: testURL})
		require.NoError(t, err)

		for i := range 8 {
			_, err := s.Publish(ctx, id, fmt.Appendf(nil, `{"type":"log","message":"line %d"}`, i))
			require.NoError(t, err)
		}

		snap, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"line 5", "line 6", "line 7"}, snap.Logs)

		var kept int
		require.NoError(t, s.pool.QueryRow(ctx,
			`SELECT count(*) FROM job_logs WHERE job_id = $1`, id).Scan(&kept))
		assert.Equal(t, 5, kept)
	})

	t.Run("subscribers receive notified frames", func(t *testing.T) {
		id, err := s.Create(ctx, job.CreateRequest{YoutubeURL: testURL})
		require.NoError(t, err)

		ch, cancel, err := s.Subscribe(ctx, id)
		require.NoError(t, err)
		defer cancel()
		assert.Equal(t, 1, s.SubscriberCount(id))

		_, err = s.Publish(ctx, id, []byte(`{"type":"log","message":"hello"}`))
		require.NoError(t, err)

		ev, ok := events.Parse(receiveFrame(t, ch))
		require.True(t, ok)
		assert.Equal(t, events.LogEvent{Message: "hello"}, ev)

		cancel()
		assert.Equal(t, 0, s.SubscriberCount(id))
	})
}

func TestPostgresStore_SharedBetweenInstances(t *testing.T) {
	t.Parallel()

	pool := database.SetupTestPool(t)
	ctx := context.Background()

	writer, err := NewPostgresStore(ctx, pool)
	require.NoError(t, err)
	t.Cleanup(writer.Close)
	reader, err := NewPostgresStore(ctx, pool)
	require.NoError(t, err)
	t.Cleanup(reader.Close)

	id, err := writer.Create(ctx, job.CreateRequest{YoutubeURL: testURL})
	require.NoError(t, err)

	ch, cancel, err := reader.Subscribe(ctx, id)
	require.NoError(t, err)
	defer cancel()

	_, err = writer.Publish(ctx, id, []byte(`{"type":"status","status":"DONE","progress":100}`))
	require.NoError(t, err)

	ev, ok := events.Parse(receiveFrame(t, ch))
	require.True(t, ok)
	assert.Equal(t, events.KindStatus, ev.Kind())

	snap, err := reader.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDone, snap.Status)
}

func TestPostgresStore_CloseEndsSubscribers(t *testing.T) {
	t.Parallel()

	pool := database.SetupTestPool(t)
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, pool)
	require.NoError(t, err)

	id, err := s.Create(ctx, job.CreateRequest{YoutubeURL: testURL})
	require.NoError(t, err)
	ch, cancel, err := s.Subscribe(ctx, id)
	require.NoError(t, err)

	s.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, cancel)
}
