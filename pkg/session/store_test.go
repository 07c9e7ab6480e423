package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sw33tLie/wascope/pkg/phone"
	"github.com/sw33tLie/wascope/pkg/wadata"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecords() []phone.Record {
	return []phone.Record{
		{Original: "+1 202-555-0102", Canonical: "+12025550102", Region: "US", CountryCode: "1", Valid: true},
		{Original: "+44 20 7946 0958", Canonical: "+442079460958", Region: "GB", CountryCode: "44", Valid: true},
		{Original: "garbage", Canonical: "garbage", Valid: false, ValidationError: "no digits in input"},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sess := New("input.csv", testRecords(), DefaultSettings())
	sess.Settings.APIKey = "key"
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	checkedAt := time.Now().UTC().Truncate(time.Millisecond)
	sess.Record(wadata.Result{
		Number:    "+12025550102",
		Profile:   &wadata.Profile{Number: "+12025550102", Name: "Alice", IsWAContact: true},
		RateLimit: &wadata.RateLimitInfo{Remaining: 10, Limit: 100, Reset: checkedAt.Unix() + 60, Used: 90},
		CheckedAt: checkedAt,
	})
	sess.Record(wadata.Result{
		Number:    "+442079460958",
		Err:       "unexpected status 500",
		CheckedAt: checkedAt,
	})
	sess.Status = StatusCompleted
	end := time.Now().UTC()
	sess.EndTime = &end
	if err := store.Update(ctx, sess); err != nil {
		t.Fatalf("Update: %v", err)
	}
	preSaveCompleted := sess.CompletedNumbers
	preSaveSuccessful := sess.SuccessfulChecks
	preSaveFailed := sess.FailedChecks

	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded == nil {
		t.Fatalf("session not found after save")
	}

	if loaded.ID != sess.ID || loaded.Status != StatusCompleted {
		t.Fatalf("identity mismatch: %s/%s", loaded.ID, loaded.Status)
	}
	if len(loaded.Numbers) != 3 {
		t.Fatalf("expected 3 numbers, got %d", len(loaded.Numbers))
	}
	if len(loaded.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(loaded.Results))
	}

	got := loaded.Results[0]
	if got.Number != "+12025550102" || got.Profile == nil || got.Profile.Name != "Alice" || !got.Profile.IsWAContact {
		t.Fatalf("first result did not round-trip: %#v", got)
	}
	if got.RateLimit == nil || got.RateLimit.Remaining != 10 || got.RateLimit.Limit != 100 {
		t.Fatalf("rate limit did not round-trip: %#v", got.RateLimit)
	}
	if !got.CheckedAt.Equal(checkedAt) {
		t.Fatalf("checkedAt mismatch: %v vs %v", got.CheckedAt, checkedAt)
	}
	if loaded.Results[1].Err != "unexpected status 500" {
		t.Fatalf("error did not round-trip: %#v", loaded.Results[1])
	}

	// Counters recomputed on load path must equal the pre-save ones.
	loaded.Recount()
	if loaded.CompletedNumbers != preSaveCompleted ||
		loaded.SuccessfulChecks != preSaveSuccessful ||
		loaded.FailedChecks != preSaveFailed {
		t.Fatalf("counters drifted: %d/%d/%d vs %d/%d/%d",
			loaded.CompletedNumbers, loaded.SuccessfulChecks, loaded.FailedChecks,
			preSaveCompleted, preSaveSuccessful, preSaveFailed)
	}

	if loaded.Settings.APIKey != "key" || loaded.Settings.MaxRetries != 3 {
		t.Fatalf("settings did not round-trip: %#v", loaded.Settings)
	}
}

func TestStore_ListOrderAndDelete(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	older := New("old.csv", testRecords(), DefaultSettings())
	older.StartTime = time.Now().UTC().Add(-time.Hour)
	newer := New("new.csv", testRecords(), DefaultSettings())

	if err := store.Create(ctx, older); err != nil {
		t.Fatalf("Create older: %v", err)
	}
	if err := store.Create(ctx, newer); err != nil {
		t.Fatalf("Create newer: %v", err)
	}

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != newer.ID {
		t.Fatalf("expected most recent first, got %s", sessions[0].ID)
	}

	deleted, err := store.Delete(ctx, older.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report true")
	}
	deleted, err = store.Delete(ctx, older.ID)
	if err != nil {
		t.Fatalf("Delete again: %v", err)
	}
	if deleted {
		t.Fatalf("expected delete of missing session to report false")
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	sessions, err = store.List(ctx)
	if err != nil {
		t.Fatalf("List after clear: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after clear, got %d", len(sessions))
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := testStore(t)
	sess, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess != nil {
		t.Fatalf("expected nil for missing session")
	}
}

func TestStore_GetCorruptStartTime(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sess := New("bad.csv", testRecords(), DefaultSettings())
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.sql.ExecContext(ctx, `UPDATE sessions SET start_time = 'garbage' WHERE id = ?`, sess.ID); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	if _, err := store.Get(ctx, sess.ID); err == nil {
		t.Fatalf("expected an error for an unparseable start time")
	}
}

func TestStore_SetStarred(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sess := New("starme.csv", testRecords(), DefaultSettings())
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.SetStarred(ctx, sess.ID, true); err != nil {
		t.Fatalf("SetStarred: %v", err)
	}
	loaded, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !loaded.Starred {
		t.Fatalf("expected starred session")
	}
	if err := store.SetStarred(ctx, "missing", true); err == nil {
		t.Fatalf("expected error for missing session")
	}
}

func TestSession_PendingAndRecord(t *testing.T) {
	sess := New("x.csv", testRecords(), DefaultSettings())
	if sess.TotalNumbers != 2 {
		t.Fatalf("expected 2 valid numbers, got %d", sess.TotalNumbers)
	}

	pending := sess.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	sess.Record(wadata.Result{Number: "+12025550102", Profile: &wadata.Profile{IsWAContact: true}})
	pending = sess.Pending()
	if len(pending) != 1 || pending[0].Canonical != "+442079460958" {
		t.Fatalf("unexpected pending set: %#v", pending)
	}

	// A later result for the same number replaces, never appends.
	sess.Record(wadata.Result{Number: "+12025550102", Profile: &wadata.Profile{IsWAContact: false}})
	if len(sess.Results) != 1 {
		t.Fatalf("expected replace-not-append, got %d results", len(sess.Results))
	}

	sess.Recount()
	if sess.CompletedNumbers != 1 || sess.SuccessfulChecks != 0 {
		t.Fatalf("unexpected counters: %d completed, %d successful", sess.CompletedNumbers, sess.SuccessfulChecks)
	}
}

func TestStore_GetStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	a := New("a.csv", testRecords(), DefaultSettings())
	a.Record(wadata.Result{Number: "+12025550102", Profile: &wadata.Profile{IsWAContact: true}})
	b := New("b.csv", testRecords(), DefaultSettings())

	if err := store.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalSessions != 2 {
		t.Fatalf("expected 2 sessions, got %d", stats.TotalSessions)
	}
	if stats.TotalNumbers != 4 {
		t.Fatalf("expected 4 total numbers, got %d", stats.TotalNumbers)
	}
	if stats.TotalSuccessful != 1 {
		t.Fatalf("expected 1 successful, got %d", stats.TotalSuccessful)
	}
	if stats.LastCheck.IsZero() {
		t.Fatalf("expected a last-check timestamp")
	}
}
