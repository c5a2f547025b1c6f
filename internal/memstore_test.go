package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manim-server/internal/render"
)

func TestRecordRenderKeepsFinishedState(t *testing.T) {
	tests := []struct {
		name     string
		update   render.Status
		expected render.Status
	}{
		{name: "Late queued update", update: render.StatusQueued, expected: render.StatusDone},
		{name: "Late running update", update: render.StatusRunning, expected: render.StatusDone},
		{name: "Finished update", update: render.StatusFailed, expected: render.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore()
			require.NoError(t, store.CreateRender(ctx, &RenderRecord{ID: "job1", SceneID: "s1", Status: render.StatusQueued}))
			require.NoError(t, store.RecordRender(ctx, &render.Result{JobID: "job1", Status: render.StatusDone, Video: "/tmp/GenScene.mp4"}))

			require.NoError(t, store.RecordRender(ctx, &render.Result{JobID: "job1", Status: tt.update}))

			rec, err := store.GetRender(ctx, "job1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rec.Status)
		})
	}
}

func TestRecordRenderUnknownJob(t *testing.T) {
	store := NewMemoryStore()
	assert.NoError(t, store.RecordRender(context.Background(), &render.Result{JobID: "nope", Status: render.StatusDone}))
	_, err := store.GetRender(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
