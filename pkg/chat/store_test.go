package chat

import (
	"testing"
)

func TestNewSession(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")

	if sess.LocalID == "" {
		t.Fatal("expected a local id")
	}
	if sess.SessionID != "" {
		t.Errorf("expected empty session id, got %q", sess.SessionID)
	}
	if sess.ActiveCharacter != "aria" {
		t.Errorf("expected character 'aria', got %q", sess.ActiveCharacter)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("expected 0 messages, got %d", len(sess.Messages))
	}
}

func TestAppendTurn(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")

	user := NewUserMessage("Hello", nil, nil)
	placeholder := NewPlaceholder("aria")
	if err := store.AppendTurn(sess.LocalID, user, &placeholder); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	got, _ := store.Session(sess.LocalID)
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if !got.Messages[0].FromUser || got.Messages[0].Text != "Hello" {
		t.Errorf("unexpected user message: %+v", got.Messages[0])
	}
	if got.Messages[1].FromUser || got.Messages[1].Text != "" {
		t.Errorf("unexpected placeholder: %+v", got.Messages[1])
	}
}

func TestAppendTurnWithoutPlaceholder(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("scribe")

	if err := store.AppendTurn(sess.LocalID, NewUserMessage("note", nil, nil), nil); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	got, _ := store.Session(sess.LocalID)
	if len(got.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got.Messages))
	}
}

func TestReplaceTurnAtTruncates(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")

	for i := 0; i < 3; i++ {
		user := NewUserMessage("q", nil, nil)
		ai := NewPlaceholder("aria")
		ai.Text = "a"
		if err := store.AppendTurn(sess.LocalID, user, &ai); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	// Edit the second user turn (position 2 in a list of 6).
	edited := NewUserMessage("edited", nil, nil)
	placeholder := NewPlaceholder("aria")
	if err := store.ReplaceTurnAt(sess.LocalID, 2, edited, &placeholder); err != nil {
		t.Fatalf("ReplaceTurnAt failed: %v", err)
	}

	got, _ := store.Session(sess.LocalID)
	if len(got.Messages) != 4 {
		t.Fatalf("expected k+2 = 4 messages, got %d", len(got.Messages))
	}
	if got.Messages[2].Text != "edited" {
		t.Errorf("expected edited text at position 2, got %q", got.Messages[2].Text)
	}
	if got.Messages[3].FromUser || got.Messages[3].Text != "" {
		t.Errorf("expected fresh placeholder at the end, got %+v", got.Messages[3])
	}
}

func TestReplaceTurnAtOutOfRange(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")
	if err := store.ReplaceTurnAt(sess.LocalID, 0, NewUserMessage("x", nil, nil), nil); err == nil {
		t.Fatal("expected error for out-of-range position")
	}
}

func TestAssignSessionIDSingleTransition(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")

	if err := store.AssignSessionID(sess.LocalID, "sess-1"); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	// Same value again is a no-op.
	if err := store.AssignSessionID(sess.LocalID, "sess-1"); err != nil {
		t.Fatalf("re-assignment of same value failed: %v", err)
	}
	// A different value is a conflict; the first writer wins.
	if err := store.AssignSessionID(sess.LocalID, "sess-2"); err != ErrSessionIDConflict {
		t.Fatalf("expected ErrSessionIDConflict, got %v", err)
	}

	got, _ := store.Session(sess.LocalID)
	if got.SessionID != "sess-1" {
		t.Errorf("expected session id to stay 'sess-1', got %q", got.SessionID)
	}
}

func TestAssignSessionIDEmptyIsNoop(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")
	if err := store.AssignSessionID(sess.LocalID, ""); err != nil {
		t.Fatalf("empty assignment should be a no-op, got %v", err)
	}
}

func TestSetServerIDMonotonic(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")
	msg := NewPlaceholder("aria")
	if err := store.AppendTurn(sess.LocalID, NewUserMessage("hi", nil, nil), &msg); err != nil {
		t.Fatal(err)
	}

	if err := store.SetServerID(sess.LocalID, msg.LocalID, 42); err != nil {
		t.Fatalf("SetServerID failed: %v", err)
	}
	// A second delivery with a different id must not change anything.
	if err := store.SetServerID(sess.LocalID, msg.LocalID, 99); err != nil {
		t.Fatalf("SetServerID failed: %v", err)
	}

	got, _ := store.Session(sess.LocalID)
	if got.Messages[1].ServerID != 42 {
		t.Errorf("expected server id 42, got %d", got.Messages[1].ServerID)
	}
}

func TestUpdateLastAssistantResolvesFresh(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")
	first := NewPlaceholder("aria")
	if err := store.AppendTurn(sess.LocalID, NewUserMessage("one", nil, nil), &first); err != nil {
		t.Fatal(err)
	}

	// A second turn supersedes the first target.
	second := NewPlaceholder("aria")
	if err := store.AppendTurn(sess.LocalID, NewUserMessage("two", nil, nil), &second); err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateLastAssistant(sess.LocalID, func(m *Message) {
		m.Text += "delta"
	}); err != nil {
		t.Fatalf("UpdateLastAssistant failed: %v", err)
	}

	got, _ := store.Session(sess.LocalID)
	if got.Messages[1].Text != "" {
		t.Errorf("superseded message was mutated: %q", got.Messages[1].Text)
	}
	if got.Messages[3].Text != "delta" {
		t.Errorf("expected last assistant to receive the delta, got %q", got.Messages[3].Text)
	}
}

func TestUpdateLastAssistantRequiresAssistantTail(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("scribe")
	if err := store.AppendTurn(sess.LocalID, NewUserMessage("note", nil, nil), nil); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateLastAssistant(sess.LocalID, func(*Message) {}); err != ErrNoTarget {
		t.Fatalf("expected ErrNoTarget, got %v", err)
	}
}

func TestResolveSessionID(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")
	if _, ok := store.ResolveSessionID("sess-9"); ok {
		t.Fatal("unexpected resolution before assignment")
	}
	if err := store.AssignSessionID(sess.LocalID, "sess-9"); err != nil {
		t.Fatal(err)
	}
	localID, ok := store.ResolveSessionID("sess-9")
	if !ok || localID != sess.LocalID {
		t.Fatalf("expected %q, got %q (ok=%v)", sess.LocalID, localID, ok)
	}
}

func TestSnapshotsDoNotAliasLiveState(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")
	msg := NewPlaceholder("aria")
	if err := store.AppendTurn(sess.LocalID, NewUserMessage("hi", nil, nil), &msg); err != nil {
		t.Fatal(err)
	}

	snap, _ := store.Session(sess.LocalID)
	snap.Messages[1].Text = "tampered"

	got, _ := store.Session(sess.LocalID)
	if got.Messages[1].Text != "" {
		t.Error("mutating a snapshot leaked into the store")
	}
}

func TestChartBannerLifecycle(t *testing.T) {
	store := NewStore()
	sess := store.NewSession("aria")

	if err := store.SetChartBanner(sess.LocalID, ChartBanner{State: ChartBannerLoading, Title: "Sleep"}); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearChartBanner(sess.LocalID); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Session(sess.LocalID)
	if got.ChartBanner != nil {
		t.Fatal("loading banner should clear")
	}

	// The error banner survives ClearChartBanner and needs a dismiss.
	if err := store.SetChartBanner(sess.LocalID, ChartBanner{State: ChartBannerError, Error: "boom"}); err != nil {
		t.Fatal(err)
	}
	if err := store.ClearChartBanner(sess.LocalID); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Session(sess.LocalID)
	if got.ChartBanner == nil {
		t.Fatal("error banner must survive a clear")
	}
	if err := store.DismissChartBanner(sess.LocalID); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Session(sess.LocalID)
	if got.ChartBanner != nil {
		t.Fatal("error banner should dismiss explicitly")
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	store := NewStore()
	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()

	sess := store.NewSession("aria")

	select {
	case change := <-changes:
		if change.SessionLocalID != sess.LocalID {
			t.Errorf("expected change for %q, got %q", sess.LocalID, change.SessionLocalID)
		}
	default:
		t.Fatal("expected a change notification")
	}
}
