// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Concurrent access tests for the session layer. A session is shared between
// the request handler, the streaming goroutine, and the eviction sweep, so
// every method must hold up under racing callers.
package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ephemeral/internal/model"
)

// TestStore_ConcurrentGetOrCreate tests that racing lookups for the same ID
// resolve to a single session.
func TestStore_ConcurrentGetOrCreate(t *testing.T) {
	store := NewStore(StoreConfig{})
	defer store.Close()

	seed := store.Create()

	results := make([]*Session, 100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.GetOrCreate(seed.ID())
		}(i)
	}
	wg.Wait()

	for _, sess := range results {
		require.Same(t, seed, sess, "all callers must share one session")
	}
	require.Equal(t, 1, store.Len())
}

// TestSession_ConcurrentDeltasAndSnapshots tests that streaming deltas do not
// race with transcript reads.
func TestSession_ConcurrentDeltasAndSnapshots(t *testing.T) {
	sess := New(time.Minute)
	require.NoError(t, sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi")))

	_, err := sess.BeginAssistantTurn(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.AppendAssistantDelta("x")
			_ = sess.Snapshot()
			_, _ = sess.Streaming()
			_ = sess.Signature()
		}()
	}
	wg.Wait()

	msg, err := sess.FinalizeAssistantTurn()
	require.NoError(t, err)
	require.Len(t, msg.Text(), 50)
}

// TestSession_ClearDuringStream tests that Clear racing a stream leaves the
// session empty and usable.
func TestSession_ClearDuringStream(t *testing.T) {
	sess := New(time.Minute)

	_, err := sess.BeginAssistantTurn(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = sess.AppendAssistantDelta("y")
		}()
		go func() {
			defer wg.Done()
			sess.Clear()
		}()
	}
	wg.Wait()

	sess.Clear()
	require.Equal(t, 0, sess.Len())
	_, streaming := sess.Streaming()
	require.False(t, streaming)

	// A fresh turn still works after the churn.
	require.NoError(t, sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "again")))
	require.Equal(t, 1, sess.Len())
}
