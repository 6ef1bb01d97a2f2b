package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewListeningSession(t *testing.T) {
	ls := NewListeningSession("user-1", "item-1", "media-1", 120, 3600)

	assert.NotEmpty(t, ls.ID)
	assert.Equal(t, "user-1", ls.UserID)
	assert.Equal(t, 120.0, ls.StartTime)
	assert.Equal(t, 120.0, ls.CurrentTime, "position starts where the session starts")
	assert.Equal(t, 1.0, ls.PlaybackRate)
	assert.Equal(t, 1.0, ls.Volume)
	assert.False(t, ls.IsSynced)
	assert.Nil(t, ls.SessionEnd)

	other := NewListeningSession("user-1", "item-1", "media-1", 120, 3600)
	assert.NotEqual(t, ls.ID, other.ID)
}

func TestAdvance(t *testing.T) {
	ls := NewListeningSession("user-1", "item-1", "media-1", 0, 3600)

	ls.Advance(100, 30)
	ls.Advance(130, 30)
	assert.Equal(t, 130.0, ls.CurrentTime)
	assert.Equal(t, 60.0, ls.TimeListening)

	// A backwards seek moves the position but never shrinks listened time.
	ls.Advance(50, 0)
	assert.Equal(t, 50.0, ls.CurrentTime)
	assert.Equal(t, 60.0, ls.TimeListening)
}

func TestSyncBookkeeping(t *testing.T) {
	ls := NewListeningSession("user-1", "item-1", "media-1", 0, 3600)

	ls.MarkSyncFailed("timeout")
	ls.MarkSyncFailed("timeout")
	ls.MarkSyncFailed("timeout")
	assert.Equal(t, 3, ls.SyncAttempts)
	assert.Equal(t, "timeout", ls.SyncError)
	assert.False(t, ls.IsSynced)
	require.NotNil(t, ls.LastSyncAttempt)
	assert.Nil(t, ls.LastSyncTime)

	ls.MarkSynced("srv-1")
	assert.True(t, ls.IsSynced)
	assert.Equal(t, 0, ls.SyncAttempts)
	assert.Empty(t, ls.SyncError)
	assert.Equal(t, "srv-1", ls.ServerSessionID)
	require.NotNil(t, ls.LastSyncTime)
}

func TestMarkSyncedKeepsExistingServerID(t *testing.T) {
	ls := NewListeningSession("user-1", "item-1", "media-1", 0, 3600)
	ls.ServerSessionID = "srv-1"

	ls.MarkSynced("")
	assert.Equal(t, "srv-1", ls.ServerSessionID)
}

func TestCloseIsIdempotent(t *testing.T) {
	ls := NewListeningSession("user-1", "item-1", "media-1", 0, 3600)
	ls.CurrentTime = 250

	assert.False(t, ls.IsClosed())
	ls.Close()
	require.True(t, ls.IsClosed())
	assert.Equal(t, 250.0, ls.EndTime)
	first := *ls.SessionEnd

	ls.CurrentTime = 300
	ls.Close()
	assert.Equal(t, first, *ls.SessionEnd, "a second close changes nothing")
	assert.Equal(t, 250.0, ls.EndTime)
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name        string
		currentTime float64
		duration    float64
		want        float64
	}{
		{"start", 0, 3600, 0},
		{"midway", 1800, 3600, 0.5},
		{"finished", 3600, 3600, 1},
		{"past the end", 4000, 3600, 1},
		{"negative position", -5, 3600, 0},
		{"zero duration", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := NewListeningSession("user-1", "item-1", "media-1", 0, tt.duration)
			ls.CurrentTime = tt.currentTime
			assert.Equal(t, tt.want, ls.Progress())
		})
	}
}

func TestNewProgressSnapshot(t *testing.T) {
	ls := NewListeningSession("user-1", "item-1", "media-1", 0, 3600)
	ls.CurrentTime = 900
	ls.PlaybackRate = 1.25
	ls.Volume = 0.7

	snap := NewProgressSnapshot(ls, "ch-3", true)
	assert.Equal(t, ls.ID, snap.SessionID)
	assert.Equal(t, 900.0, snap.CurrentTime)
	assert.Equal(t, 0.25, snap.Progress)
	assert.Equal(t, 1.25, snap.PlaybackRate)
	assert.Equal(t, 0.7, snap.Volume)
	assert.Equal(t, "ch-3", snap.ChapterID)
	assert.True(t, snap.IsPlaying)
	assert.False(t, snap.Timestamp.IsZero())
}
