package jobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_BroadcastPerJob(t *testing.T) {
	t.Parallel()

	h := newHub(nil)
	a, cancelA := h.subscribe(context.Background(), "a")
	defer cancelA()
	b, cancelB := h.subscribe(context.Background(), "b")
	defer cancelB()

	h.broadcast("a", []byte("frame"))

	assert.Equal(t, []byte("frame"), <-a)
	assert.Empty(t, b)
}

func TestHub_CloseAll(t *testing.T) {
	t.Parallel()

	h := newHub(nil)
	a, cancelA := h.subscribe(context.Background(), "a")
	b, cancelB := h.subscribe(context.Background(), "a")

	h.closeAll()

	_, open := <-a
	assert.False(t, open)
	_, open = <-b
	assert.False(t, open)
	assert.Equal(t, 0, h.count("a"))

	// Cancelling after closeAll must not close twice
	assert.NotPanics(t, cancelA)
	assert.NotPanics(t, cancelB)

	// Broadcasting to a job without subscribers is a no-op
	h.broadcast("a", []byte("frame"))
}

func TestHub_CancelRemovesEmptyJob(t *testing.T) {
	t.Parallel()

	h := newHub(nil)
	_, cancel := h.subscribe(context.Background(), "a")
	assert.Equal(t, 1, h.count("a"))

	cancel()
	assert.Equal(t, 0, h.count("a"))
	assert.NotContains(t, h.subs, "a")
}
