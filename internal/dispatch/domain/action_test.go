package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAction(t *testing.T) *Action {
	t.Helper()

	action, err := NewAction(
		"notify",
		json.RawMessage(`{"kind":"presence.record"}`),
		"notify:clinic-1:patient-9:token",
		uuid.Must(uuid.NewV7()),
		5,
		3,
		time.Hour,
		time.Now(),
	)
	require.NoError(t, err)
	return action
}

func TestNewAction(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		now := time.Now()
		action, err := NewAction("notify", nil, "k", uuid.Must(uuid.NewV7()), 0, 0, 0, now)

		require.NoError(t, err)
		assert.Equal(t, ActionStatusPending, action.Status)
		assert.Equal(t, json.RawMessage(`{}`), action.Payload)
		assert.Equal(t, 5, action.MaxRetries)
		assert.Equal(t, now.UTC().Add(24*time.Hour), action.ExpiresAt)
		assert.NotEqual(t, uuid.Nil, action.ID)
	})

	t.Run("Error_MissingActionType", func(t *testing.T) {
		_, err := NewAction("", nil, "k", uuid.Must(uuid.NewV7()), 0, 0, 0, time.Now())
		assert.Error(t, err)
	})

	t.Run("Error_MissingDedupeKey", func(t *testing.T) {
		_, err := NewAction("notify", nil, "", uuid.Must(uuid.NewV7()), 0, 0, 0, time.Now())
		assert.Error(t, err)
	})

	t.Run("Error_MissingTraceID", func(t *testing.T) {
		_, err := NewAction("notify", nil, "k", uuid.Nil, 0, 0, 0, time.Now())
		assert.Error(t, err)
	})

	t.Run("Error_PriorityOutOfRange", func(t *testing.T) {
		_, err := NewAction("notify", nil, "k", uuid.Must(uuid.NewV7()), 10, 0, 0, time.Now())
		assert.Error(t, err)
	})

	t.Run("Error_InvalidPayload", func(t *testing.T) {
		_, err := NewAction("notify", json.RawMessage(`{not json`), "k", uuid.Must(uuid.NewV7()), 0, 0, 0, time.Now())
		assert.Error(t, err)
	})
}

func TestAction_StateMachine(t *testing.T) {
	t.Run("PendingToProcessingToCompleted", func(t *testing.T) {
		action := newTestAction(t)
		now := time.Now()

		require.NoError(t, action.MarkProcessing(now))
		assert.Equal(t, ActionStatusProcessing, action.Status)

		result := `{"delivered":true}`
		require.NoError(t, action.MarkCompleted(&result, now))
		assert.Equal(t, ActionStatusCompleted, action.Status)
		assert.NotNil(t, action.ProcessedAt)
		assert.True(t, action.IsTerminal())
	})

	t.Run("FailedWithRetriesLeftIsClaimable", func(t *testing.T) {
		action := newTestAction(t)
		now := time.Now()

		require.NoError(t, action.MarkProcessing(now))
		require.NoError(t, action.MarkFailed("timeout", now, now))

		assert.Equal(t, ActionStatusFailed, action.Status)
		assert.Equal(t, 1, action.RetryCount)
		assert.False(t, action.IsTerminal())
		assert.True(t, action.IsClaimable(now.Add(time.Second)))
	})

	t.Run("FailedWithExhaustedRetriesIsTerminal", func(t *testing.T) {
		action := newTestAction(t)
		now := time.Now()

		for i := 0; i < action.MaxRetries; i++ {
			require.NoError(t, action.MarkProcessing(now))
			require.NoError(t, action.MarkFailed("timeout", now, now))
		}

		assert.True(t, action.IsTerminal())
		assert.False(t, action.IsClaimable(now.Add(time.Second)))
		assert.Error(t, action.MarkProcessing(now.Add(time.Second)))
	})

	t.Run("FutureRetryTimeBlocksClaim", func(t *testing.T) {
		action := newTestAction(t)
		now := time.Now()

		require.NoError(t, action.MarkProcessing(now))
		require.NoError(t, action.MarkFailed("timeout", now.Add(time.Minute), now))

		assert.False(t, action.IsClaimable(now.Add(time.Second)))
		assert.True(t, action.IsClaimable(now.Add(2*time.Minute)))
	})

	t.Run("ExpiredActionIsNotClaimable", func(t *testing.T) {
		action := newTestAction(t)
		afterTTL := action.ExpiresAt.Add(time.Second)

		assert.True(t, action.IsExpired(afterTTL))
		assert.False(t, action.IsClaimable(afterTTL))

		require.NoError(t, action.MarkExpired(afterTTL))
		assert.Equal(t, ActionStatusExpired, action.Status)
		assert.True(t, action.IsTerminal())
	})

	t.Run("CompletedActionCannotExpire", func(t *testing.T) {
		action := newTestAction(t)
		now := time.Now()

		require.NoError(t, action.MarkProcessing(now))
		require.NoError(t, action.MarkCompleted(nil, now))

		assert.Error(t, action.MarkExpired(now))
	})

	t.Run("CompletionRequiresProcessing", func(t *testing.T) {
		action := newTestAction(t)

		assert.Error(t, action.MarkCompleted(nil, time.Now()))
		assert.Error(t, action.MarkFailed("x", time.Now(), time.Now()))
	})
}
