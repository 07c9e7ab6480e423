package bulkcheck

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sw33tLie/wascope/pkg/phone"
	"github.com/sw33tLie/wascope/pkg/session"
	"github.com/sw33tLie/wascope/pkg/wadata"
)

// stubClient scripts lookup outcomes per number and records call order.
type stubClient struct {
	mu       sync.Mutex
	calls    []string
	callTime map[string][]time.Time
	delay    time.Duration
	respond  func(number string, attempt int) wadata.Result
}

func newStubClient(respond func(number string, attempt int) wadata.Result) *stubClient {
	return &stubClient{
		callTime: make(map[string][]time.Time),
		respond:  respond,
	}
}

func (s *stubClient) Lookup(ctx context.Context, number string) (wadata.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, number)
	s.callTime[number] = append(s.callTime[number], time.Now())
	attempt := len(s.callTime[number]) - 1
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return wadata.Result{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}

	res := s.respond(number, attempt)
	res.Number = number
	res.CheckedAt = time.Now().UTC()
	return res, nil
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func activeResult(number string, attempt int) wadata.Result {
	return wadata.Result{Profile: &wadata.Profile{Number: number, IsWAContact: true}}
}

func testNumbers(n int) []phone.Record {
	records := make([]phone.Record, n)
	for i := range records {
		num := fmt.Sprintf("+1202555%04d", 100+i)
		records[i] = phone.Record{Original: num, Canonical: num, Region: "US", Valid: true}
	}
	return records
}

func testSettings() session.Settings {
	s := session.DefaultSettings()
	s.APIKey = "test-key"
	s.RetryDelay = time.Millisecond
	return s
}

func TestRun_AllSucceed(t *testing.T) {
	const n = 5
	sess := session.New("test", testNumbers(n), testSettings())

	var progress []Progress
	cfg := Config{
		Client:     newStubClient(activeResult),
		OnProgress: func(p Progress) { progress = append(progress, p) },
	}

	got, err := Run(context.Background(), cfg, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if len(got.Results) != n {
		t.Fatalf("expected %d results, got %d", n, len(got.Results))
	}
	if got.CompletedNumbers != n || got.SuccessfulChecks != n || got.FailedChecks != 0 {
		t.Fatalf("unexpected counters: %d/%d/%d", got.CompletedNumbers, got.SuccessfulChecks, got.FailedChecks)
	}
	if got.EndTime == nil {
		t.Fatalf("expected an end time")
	}

	if len(progress) != n {
		t.Fatalf("expected %d progress events, got %d", n, len(progress))
	}
	for i, p := range progress {
		if p.Completed != i+1 {
			t.Fatalf("progress %d: expected completed %d, got %d", i, i+1, p.Completed)
		}
		if p.Total != n {
			t.Fatalf("progress %d: expected total %d, got %d", i, n, p.Total)
		}
		if want := (i + 1) * 100 / n; p.Percentage != want {
			t.Fatalf("progress %d: expected %d%%, got %d%%", i, want, p.Percentage)
		}
	}

	// With concurrency 1 completion order equals input order.
	for i, res := range got.Results {
		if res.Number != sess.Numbers[i].Canonical {
			t.Fatalf("result %d out of order: %s", i, res.Number)
		}
	}
}

func TestRun_MissingAPIKey(t *testing.T) {
	settings := testSettings()
	settings.APIKey = ""
	sess := session.New("test", testNumbers(3), settings)

	client := newStubClient(activeResult)
	_, err := Run(context.Background(), Config{Client: client}, sess)
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if sess.Status != session.StatusError {
		t.Fatalf("expected error status, got %s", sess.Status)
	}
	if len(sess.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(sess.Results))
	}
	if client.callCount() != 0 {
		t.Fatalf("expected no lookups, got %d", client.callCount())
	}
}

func TestRun_NilClient(t *testing.T) {
	sess := session.New("test", testNumbers(3), testSettings())

	_, err := Run(context.Background(), Config{}, sess)
	if !errors.Is(err, ErrMissingClient) {
		t.Fatalf("expected ErrMissingClient, got %v", err)
	}
	if sess.Status != session.StatusError {
		t.Fatalf("expected error status, got %s", sess.Status)
	}
	if len(sess.Results) != 0 {
		t.Fatalf("expected no results, got %d", len(sess.Results))
	}
}

func TestRun_NoValidNumbers(t *testing.T) {
	records := []phone.Record{{Original: "junk", Canonical: "junk", Valid: false}}
	sess := session.New("test", records, testSettings())

	_, err := Run(context.Background(), Config{Client: newStubClient(activeResult)}, sess)
	if !errors.Is(err, ErrNoValidNumbers) {
		t.Fatalf("expected ErrNoValidNumbers, got %v", err)
	}
	if sess.Status != session.StatusError {
		t.Fatalf("expected error status, got %s", sess.Status)
	}
}

func TestRun_RetryAbsorbsTransientFailures(t *testing.T) {
	settings := testSettings()
	settings.MaxRetries = 3

	sess := session.New("test", testNumbers(1), settings)
	client := newStubClient(func(number string, attempt int) wadata.Result {
		if attempt < 3 {
			return wadata.Result{Err: "unexpected status 500"}
		}
		return activeResult(number, attempt)
	})

	got, err := Run(context.Background(), Config{Client: client}, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.FailedChecks != 0 {
		t.Fatalf("retries absorbed the failures, failed count must be 0, got %d", got.FailedChecks)
	}
	if got.SuccessfulChecks != 1 {
		t.Fatalf("expected 1 successful check, got %d", got.SuccessfulChecks)
	}
	if client.callCount() != 4 {
		t.Fatalf("expected 4 attempts, got %d", client.callCount())
	}
}

func TestRun_RetryExhaustionIsTerminalError(t *testing.T) {
	settings := testSettings()
	settings.MaxRetries = 2

	sess := session.New("test", testNumbers(1), settings)
	client := newStubClient(func(string, int) wadata.Result {
		return wadata.Result{Err: "unexpected status 500"}
	})

	got, err := Run(context.Background(), Config{Client: client}, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.FailedChecks != 1 {
		t.Fatalf("expected 1 failed check, got %d", got.FailedChecks)
	}
	if client.callCount() != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", client.callCount())
	}
}

func TestRun_CancelAndResume(t *testing.T) {
	const n, cancelAfter = 5, 2

	store, err := session.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	sess := session.New("test", testNumbers(n), testSettings())
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newStubClient(activeResult)
	client.delay = 5 * time.Millisecond

	completed := 0
	cfg := Config{
		Client: client,
		Store:  store,
		OnProgress: func(p Progress) {
			completed = p.Completed
			if completed == cancelAfter {
				cancel()
			}
		},
	}

	got, err := Run(ctx, cfg, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if len(got.Results) != cancelAfter {
		t.Fatalf("expected %d results after cancel, got %d", cancelAfter, len(got.Results))
	}
	if got.PausedAt == nil {
		t.Fatalf("expected pausedAt to be stamped")
	}

	// Resume processes only what is left, against the persisted state.
	reloaded, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(reloaded.Pending()) != n-cancelAfter {
		t.Fatalf("expected %d pending, got %d", n-cancelAfter, len(reloaded.Pending()))
	}

	resumeClient := newStubClient(activeResult)
	got, err = Run(context.Background(), Config{Client: resumeClient, Store: store}, reloaded)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed after resume, got %s", got.Status)
	}
	if got.LastResumedAt == nil {
		t.Fatalf("expected lastResumedAt to be stamped")
	}
	if resumeClient.callCount() != n-cancelAfter {
		t.Fatalf("resume must only check the remaining %d numbers, checked %d", n-cancelAfter, resumeClient.callCount())
	}

	if len(got.Results) != n {
		t.Fatalf("expected %d total results, got %d", n, len(got.Results))
	}
	seen := map[string]bool{}
	for _, r := range got.Results {
		if seen[r.Number] {
			t.Fatalf("duplicate result for %s after resume", r.Number)
		}
		seen[r.Number] = true
	}
	if got.CompletedNumbers != n {
		t.Fatalf("expected %d completed, got %d", n, got.CompletedNumbers)
	}
}

func TestRun_ConcurrentProgressOrdered(t *testing.T) {
	const n = 40
	settings := testSettings()
	settings.Concurrency = 8
	sess := session.New("test", testNumbers(n), settings)

	client := newStubClient(activeResult)
	client.delay = time.Millisecond

	var inFlight, overlaps int32
	var completed []int
	cfg := Config{
		Client: client,
		OnProgress: func(p Progress) {
			if atomic.AddInt32(&inFlight, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			completed = append(completed, p.Completed)
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&inFlight, -1)
		},
	}

	got, err := Run(context.Background(), cfg, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if overlaps != 0 {
		t.Fatalf("progress callbacks overlapped %d times", overlaps)
	}
	if len(completed) != n {
		t.Fatalf("expected %d progress events, got %d", n, len(completed))
	}
	for i, c := range completed {
		if c != i+1 {
			t.Fatalf("event %d out of order: completed=%d", i, c)
		}
	}
}

func TestRun_PersistsDuringRun(t *testing.T) {
	const n = 25

	store, err := session.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	sess := session.New("test", testNumbers(n), testSettings())
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Snapshot the stored state mid-run, right after an intermediate
	// persist is due.
	var midRun *session.Session
	cfg := Config{
		Client: newStubClient(activeResult),
		Store:  store,
		OnProgress: func(p Progress) {
			if p.Completed == persistEvery {
				loaded, err := store.Get(context.Background(), sess.ID)
				if err != nil {
					t.Errorf("Get mid-run: %v", err)
					return
				}
				midRun = loaded
			}
		},
	}

	got, err := Run(context.Background(), cfg, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}

	if midRun == nil {
		t.Fatalf("expected a mid-run snapshot")
	}
	if midRun.Status != session.StatusRunning {
		t.Fatalf("expected the stored session to be running mid-batch, got %s", midRun.Status)
	}
	if len(midRun.Results) != persistEvery {
		t.Fatalf("expected %d results persisted mid-batch, got %d", persistEvery, len(midRun.Results))
	}
}

func TestRun_RateLimitPausesDispatch(t *testing.T) {
	sess := session.New("test", testNumbers(2), testSettings())

	// Unix() truncates to whole seconds, so the effective pause is
	// anywhere between one and two seconds from now.
	reset := time.Now().Add(2 * time.Second).Unix()
	client := newStubClient(func(number string, attempt int) wadata.Result {
		res := activeResult(number, attempt)
		if number == "+12025550100" {
			res.RateLimit = &wadata.RateLimitInfo{Remaining: 0, Limit: 100, Reset: reset, Used: 100}
		}
		return res
	})

	rateLimitSeen := false
	cfg := Config{
		Client:      client,
		OnRateLimit: func(wadata.RateLimitInfo) { rateLimitSeen = true },
	}

	start := time.Now()
	got, err := Run(context.Background(), cfg, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if !rateLimitSeen {
		t.Fatalf("expected the rate limit callback to fire")
	}

	client.mu.Lock()
	secondCall := client.callTime["+12025550101"][0]
	client.mu.Unlock()
	if waited := secondCall.Sub(start); waited < 900*time.Millisecond {
		t.Fatalf("second lookup dispatched after %s, expected a pause until the reset", waited)
	}
}

func TestRun_CancelDuringRateLimitPause(t *testing.T) {
	sess := session.New("test", testNumbers(3), testSettings())

	reset := time.Now().Add(30 * time.Second).Unix()
	client := newStubClient(func(number string, attempt int) wadata.Result {
		res := activeResult(number, attempt)
		res.RateLimit = &wadata.RateLimitInfo{Remaining: 0, Limit: 100, Reset: reset, Used: 100}
		return res
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := Config{
		Client:     client,
		OnProgress: func(p Progress) { cancel() },
	}

	start := time.Now()
	got, err := Run(ctx, cfg, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation during the pause took %s", elapsed)
	}
	if got.Status != session.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if client.callCount() != 1 {
		t.Fatalf("expected no further lookups after cancel, got %d", client.callCount())
	}
}

func TestRun_ThrowOnLimit(t *testing.T) {
	settings := testSettings()
	settings.ThrowOnLimit = true
	sess := session.New("test", testNumbers(3), settings)

	client := newStubClient(func(number string, attempt int) wadata.Result {
		res := activeResult(number, attempt)
		res.RateLimit = &wadata.RateLimitInfo{Remaining: 0, Limit: 100, Reset: time.Now().Add(time.Hour).Unix(), Used: 100}
		return res
	})

	got, err := Run(context.Background(), Config{Client: client}, sess)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got.Status != session.StatusCancelled {
		t.Fatalf("expected cancelled so the batch stays resumable, got %s", got.Status)
	}
	if len(got.Pending()) != 2 {
		t.Fatalf("expected 2 numbers left pending, got %d", len(got.Pending()))
	}
}

func TestRun_StopOnError(t *testing.T) {
	settings := testSettings()
	settings.StopOnError = true
	settings.MaxRetries = 0
	sess := session.New("test", testNumbers(4), settings)

	client := newStubClient(func(number string, attempt int) wadata.Result {
		if number == "+12025550100" {
			return wadata.Result{Err: "unexpected status 500"}
		}
		return activeResult(number, attempt)
	})

	got, err := Run(context.Background(), Config{Client: client}, sess)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != session.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if len(got.Results) != 1 {
		t.Fatalf("expected dispatch to stop after the first error, got %d results", len(got.Results))
	}
}

func TestRun_AlreadyFinished(t *testing.T) {
	sess := session.New("test", testNumbers(1), testSettings())
	sess.Status = session.StatusCompleted

	_, err := Run(context.Background(), Config{Client: newStubClient(activeResult)}, sess)
	if !errors.Is(err, ErrAlreadyFinished) {
		t.Fatalf("expected ErrAlreadyFinished, got %v", err)
	}
}
