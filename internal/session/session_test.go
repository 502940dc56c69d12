// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"testing"
	"time"

	"github.com/jeranaias/ephemeral/internal/model"
)

func TestAppendUserTurn(t *testing.T) {
	sess := New(time.Minute)

	err := sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hello"))
	if err != nil {
		t.Fatalf("AppendUserTurn failed: %v", err)
	}
	if sess.Len() != 1 {
		t.Errorf("Expected 1 message, got %d", sess.Len())
	}
}

func TestAssistantTurnLifecycle(t *testing.T) {
	sess := New(time.Minute)
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hi"))

	msg, err := sess.BeginAssistantTurn(nil)
	if err != nil {
		t.Fatalf("BeginAssistantTurn failed: %v", err)
	}
	if msg == nil {
		t.Fatal("Expected in-flight message")
	}

	// In-flight message is not part of the conversation yet.
	if sess.Len() != 1 {
		t.Errorf("Expected streaming message outside conversation, len=%d", sess.Len())
	}

	sess.AppendAssistantDelta("Hello")
	sess.AppendAssistantDelta(", world")

	final, err := sess.FinalizeAssistantTurn()
	if err != nil {
		t.Fatalf("FinalizeAssistantTurn failed: %v", err)
	}
	if final.Text() != "Hello, world" {
		t.Errorf("Expected accumulated text, got %q", final.Text())
	}
	if sess.Len() != 2 {
		t.Errorf("Expected 2 messages after finalize, got %d", sess.Len())
	}
	if final.IsStreaming {
		t.Error("Finalized message should not be streaming")
	}
}

func TestConcurrentTurnRejected(t *testing.T) {
	sess := New(time.Minute)

	if _, err := sess.BeginAssistantTurn(nil); err != nil {
		t.Fatalf("First turn failed: %v", err)
	}
	if _, err := sess.BeginAssistantTurn(nil); err != ErrTurnInFlight {
		t.Errorf("Expected ErrTurnInFlight, got %v", err)
	}
	if err := sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "x")); err != ErrTurnInFlight {
		t.Errorf("Expected ErrTurnInFlight for user turn mid-stream, got %v", err)
	}
}

func TestAbortDiscardsPartialResponse(t *testing.T) {
	sess := New(time.Minute)
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "question"))
	sigBefore := sess.Signature()

	cancelled := false
	sess.BeginAssistantTurn(func() { cancelled = true })
	sess.AppendAssistantDelta("partial answ")

	sess.AbortAssistantTurn()

	if !cancelled {
		t.Error("Expected stream cancel function invoked")
	}
	if sess.Len() != 1 {
		t.Errorf("Expected partial response discarded, len=%d", sess.Len())
	}
	if sess.Signature() != sigBefore {
		t.Error("Expected conversation unchanged after abort")
	}
	if _, ok := sess.Streaming(); ok {
		t.Error("Expected no in-flight turn after abort")
	}
}

func TestDeltaWithoutTurn(t *testing.T) {
	sess := New(time.Minute)
	if err := sess.AppendAssistantDelta("x"); err != ErrNoTurnInFlight {
		t.Errorf("Expected ErrNoTurnInFlight, got %v", err)
	}
	if _, err := sess.FinalizeAssistantTurn(); err != ErrNoTurnInFlight {
		t.Errorf("Expected ErrNoTurnInFlight, got %v", err)
	}
}

func TestClearDestroysEverything(t *testing.T) {
	sess := New(time.Minute)
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "secret"))
	sess.BeginAssistantTurn(nil)
	sess.AppendAssistantDelta("partial")
	sess.ParseCache().Put("key", nil)

	sess.Clear()

	if sess.Len() != 0 {
		t.Errorf("Expected empty conversation, got %d messages", sess.Len())
	}
	if _, ok := sess.Streaming(); ok {
		t.Error("Expected in-flight turn dropped")
	}
	if sess.ParseCache().Len() != 0 {
		t.Error("Expected parse cache emptied")
	}

	// Session remains usable after clearing.
	if err := sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "fresh start")); err != nil {
		t.Fatalf("Session unusable after Clear: %v", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	sess := New(time.Minute)
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "one"))

	snap := sess.Snapshot()
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "two"))

	if len(snap) != 1 {
		t.Errorf("Snapshot should not grow with the conversation, len=%d", len(snap))
	}
}

func TestResultCacheInvalidatesOnSignatureChange(t *testing.T) {
	sess := New(time.Minute)
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hello"))

	computes := 0
	render := func() string {
		computes++
		return "render"
	}

	sess.ExportCache().GetOrCompute("markdown", sess.Signature(), render)
	sess.ExportCache().GetOrCompute("markdown", sess.Signature(), render)
	if computes != 1 {
		t.Errorf("Expected 1 compute for unchanged signature, got %d", computes)
	}

	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "more"))
	sess.ExportCache().GetOrCompute("markdown", sess.Signature(), render)
	if computes != 2 {
		t.Errorf("Expected recompute after signature change, got %d", computes)
	}

	// Formats are cached independently.
	sess.ExportCache().GetOrCompute("html", sess.Signature(), render)
	if computes != 3 {
		t.Errorf("Expected separate compute per format, got %d", computes)
	}
}

func TestStoreGetOrCreate(t *testing.T) {
	store := NewStore(StoreConfig{IdleTimeout: time.Hour, SweepInterval: time.Hour})
	defer store.Close()

	a := store.GetOrCreate("")
	if a == nil {
		t.Fatal("Expected new session")
	}
	b := store.GetOrCreate(a.ID())
	if a != b {
		t.Error("Expected same session for known ID")
	}
	c := store.GetOrCreate("unknown-id")
	if c == a {
		t.Error("Expected fresh session for unknown ID")
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 sessions, got %d", store.Len())
	}
}

func TestStoreEvictsIdleSessions(t *testing.T) {
	store := NewStore(StoreConfig{
		IdleTimeout:   30 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})
	defer store.Close()

	sess := store.Create()
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "hello"))

	deadline := time.Now().Add(time.Second)
	for store.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if store.Len() != 0 {
		t.Fatal("Expected idle session evicted")
	}
	if sess.Len() != 0 {
		t.Error("Expected evicted session cleared, not just unreferenced")
	}
}

func TestStoreRemoveClears(t *testing.T) {
	store := NewStore(StoreConfig{IdleTimeout: time.Hour, SweepInterval: time.Hour})
	defer store.Close()

	sess := store.Create()
	sess.AppendUserTurn(model.NewTextMessage(model.RoleUser, "bye"))

	store.Remove(sess.ID())

	if store.Get(sess.ID()) != nil {
		t.Error("Expected session gone from store")
	}
	if sess.Len() != 0 {
		t.Error("Expected removed session cleared")
	}
}
