package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

func TestTracker_CountsAndResets(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(3, nil, discardLogger())
	now := time.Now()

	for i := 1; i <= 3; i++ {
		if !tr.CanAttempt(ctx, "W1", domain.TradingModeLive) {
			t.Fatalf("attempt %d: CanAttempt = false before cap", i)
		}
		st := tr.RecordAttempt(ctx, "W1", domain.TradingModeLive, 2, now)
		if st.AttemptCount != i {
			t.Fatalf("attempt %d: count = %d", i, st.AttemptCount)
		}
		if st.LastOutcome != domain.OutcomeGhostsFound {
			t.Fatalf("attempt %d: outcome = %s", i, st.LastOutcome)
		}
	}
	if tr.CanAttempt(ctx, "W1", domain.TradingModeLive) {
		t.Fatal("CanAttempt = true at cap")
	}

	st := tr.RecordAttempt(ctx, "W1", domain.TradingModeLive, 0, now)
	if st.AttemptCount != 0 || st.LastOutcome != domain.OutcomeClean {
		t.Fatalf("after clean pass: %+v", st)
	}
}

func TestTracker_FailureKeepsCount(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(3, nil, discardLogger())
	tr.RecordAttempt(ctx, "W1", domain.TradingModePaper, 1, time.Now())
	st := tr.RecordFailure(ctx, "W1", domain.TradingModePaper, time.Now())
	if st.AttemptCount != 1 || st.LastOutcome != domain.OutcomeFailed {
		t.Fatalf("after failure: %+v", st)
	}
}

func TestTracker_KeysArePartitioned(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(1, nil, discardLogger())
	tr.RecordAttempt(ctx, "W1", domain.TradingModeLive, 1, time.Now())

	if tr.CanAttempt(ctx, "W1", domain.TradingModeLive) {
		t.Error("W1/live should be capped")
	}
	if !tr.CanAttempt(ctx, "W1", domain.TradingModePaper) {
		t.Error("W1/paper should be unaffected")
	}
	if !tr.CanAttempt(ctx, "W2", domain.TradingModeLive) {
		t.Error("W2/live should be unaffected")
	}

	tr.Reset(ctx, "W1", domain.TradingModeLive)
	if !tr.CanAttempt(ctx, "W1", domain.TradingModeLive) {
		t.Error("reset should clear the cap")
	}
}

func TestTracker_WriteThroughAndLazyLoad(t *testing.T) {
	ctx := context.Background()
	store := &fakeAttemptStore{}
	store.Put(ctx, domain.AttemptState{WalletID: "W1", TradingMode: domain.TradingModeLive, AttemptCount: 3})

	tr := NewTracker(3, store, discardLogger())
	if tr.CanAttempt(ctx, "W1", domain.TradingModeLive) {
		t.Fatal("persisted count should be loaded and capped")
	}

	tr.Reset(ctx, "W1", domain.TradingModeLive)
	st, err := store.Get(ctx, "W1", domain.TradingModeLive)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.AttemptCount != 0 {
		t.Errorf("persisted count = %d after reset, want 0", st.AttemptCount)
	}

	tr.RecordAttempt(ctx, "W2", domain.TradingModeLive, 1, time.Now())
	if st, _ := store.Get(ctx, "W2", domain.TradingModeLive); st.AttemptCount != 1 {
		t.Errorf("W2 persisted count = %d, want 1", st.AttemptCount)
	}
}

func TestTracker_UnreadableStoreFailsClosed(t *testing.T) {
	ctx := context.Background()
	store := &fakeAttemptStore{}
	store.Put(ctx, domain.AttemptState{WalletID: "W1", TradingMode: domain.TradingModeLive, AttemptCount: 3})
	store.getFails = 2

	tr := NewTracker(3, store, discardLogger())
	if tr.CanAttempt(ctx, "W1", domain.TradingModeLive) {
		t.Error("CanAttempt should be false while the stored count is unreadable")
	}
	tr.RecordAttempt(ctx, "W1", domain.TradingModeLive, 1, time.Now())
	if st, _ := store.Get(ctx, "W1", domain.TradingModeLive); st.AttemptCount != 3 {
		t.Fatalf("stored count = %d, want 3 untouched", st.AttemptCount)
	}

	// The read now succeeds and the stored count wins.
	if tr.CanAttempt(ctx, "W1", domain.TradingModeLive) {
		t.Error("stored count of 3 should cap the account")
	}
	if got := tr.State(ctx, "W1", domain.TradingModeLive).AttemptCount; got != 3 {
		t.Errorf("count = %d, want 3", got)
	}
}
