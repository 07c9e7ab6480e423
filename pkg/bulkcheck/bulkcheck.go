package bulkcheck

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sw33tLie/wascope/pkg/phone"
	"github.com/sw33tLie/wascope/pkg/session"
	"github.com/sw33tLie/wascope/pkg/wadata"
)

var (
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrMissingClient   = errors.New("no lookup client configured")
	ErrNoValidNumbers  = errors.New("no valid numbers to check")
	ErrAlreadyFinished = errors.New("session already finished")
	ErrRateLimited     = errors.New("rate limit exhausted")
)

// persistEvery is how many completed lookups pass between intermediate
// store updates, so a crash mid-batch loses at most that much progress.
const persistEvery = 10

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Progress is emitted once per completed lookup. Counts are running
// totals for the whole session, including results carried over from a
// previous run when resuming.
type Progress struct {
	SessionID     string
	Completed     int
	Total         int
	Percentage    int
	Successful    int
	Failed        int
	RateLimited   int
	CurrentNumber string
	Result        wadata.Result
}

// Config holds everything Run needs for a single session.
type Config struct {
	Client wadata.Client
	Store  *session.Store // optional; nil = in-memory only
	Log    Logger         // optional; nil = no logging

	// OnProgress is called after every completed lookup (from worker
	// goroutines, serialized). Nil = no callback.
	OnProgress func(Progress)

	// OnRateLimit is called whenever a lookup triggers a rate-limit
	// pause. Nil = no callback.
	OnRateLimit func(wadata.RateLimitInfo)
}

// Run drives lookups for every pending valid number of the session,
// respecting the concurrency, retry, and rate-limit policy snapshotted
// in the session settings. It returns the terminal session. The context
// cancels dispatch cooperatively: lookups already in flight finish and
// record their result.
func Run(ctx context.Context, cfg Config, sess *session.Session) (*session.Session, error) {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}

	if sess.Status.Terminal() {
		return sess, ErrAlreadyFinished
	}

	// Configuration failures abort before any lookup and leave no
	// partial results behind.
	if sess.Settings.APIKey == "" {
		sess.Status = session.StatusError
		now := time.Now().UTC()
		sess.EndTime = &now
		persist(ctx, cfg.Store, sess, log)
		return sess, ErrMissingAPIKey
	}
	if cfg.Client == nil {
		sess.Status = session.StatusError
		now := time.Now().UTC()
		sess.EndTime = &now
		persist(ctx, cfg.Store, sess, log)
		return sess, ErrMissingClient
	}
	pending := sess.Pending()
	if len(pending) == 0 && len(sess.Results) == 0 {
		sess.Status = session.StatusError
		now := time.Now().UTC()
		sess.EndTime = &now
		persist(ctx, cfg.Store, sess, log)
		return sess, ErrNoValidNumbers
	}

	resumed := sess.Status == session.StatusCancelled
	sess.Status = session.StatusRunning
	if resumed {
		now := time.Now().UTC()
		sess.LastResumedAt = &now
		sess.PausedAt = nil
		log.Infof("Resuming session %s: %d of %d numbers left", sess.ID, len(pending), sess.TotalNumbers)
	}
	persist(ctx, cfg.Store, sess, log)

	r := &runner{
		cfg:     cfg,
		log:     log,
		sess:    sess,
		ctx:     ctx,
		limiter: newRateGate(),
	}
	r.sess.Recount()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancelDispatch = cancel

	concurrency := sess.Settings.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	jobs := make(chan phone.Record)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				r.checkOne(runCtx, rec)
			}
		}()
	}

dispatch:
	for _, rec := range pending {
		select {
		case <-runCtx.Done():
			break dispatch
		case jobs <- rec:
		}
	}
	close(jobs)
	wg.Wait()

	now := time.Now().UTC()
	switch {
	case r.aborted():
		// ThrowOnLimit tripped: remaining numbers stay pending.
		sess.Status = session.StatusCancelled
		sess.PausedAt = &now
		persist(ctx, cfg.Store, sess, log)
		return sess, ErrRateLimited
	case ctx.Err() != nil || runCtx.Err() != nil:
		sess.Status = session.StatusCancelled
		sess.PausedAt = &now
		persist(ctx, cfg.Store, sess, log)
		return sess, nil
	default:
		sess.Status = session.StatusCompleted
		sess.EndTime = &now
		persist(ctx, cfg.Store, sess, log)
		return sess, nil
	}
}

type runner struct {
	cfg  Config
	log  Logger
	sess *session.Session
	ctx  context.Context

	limiter        *rateGate
	cancelDispatch context.CancelFunc

	// emitMu serializes record so progress events leave in completion
	// order even with several workers; mu alone guards shared counters.
	emitMu sync.Mutex

	mu          sync.Mutex
	rateLimited int
	abortedFlag bool
}

func (r *runner) aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortedFlag
}

// checkOne performs the lookup for a single number, retrying API errors
// per the session's retry policy, then records the terminal result and
// emits a progress event.
func (r *runner) checkOne(ctx context.Context, rec phone.Record) {
	settings := r.sess.Settings

	var res wadata.Result
	for attempt := 0; ; attempt++ {
		if err := r.limiter.wait(ctx); err != nil {
			return
		}

		var err error
		res, err = r.cfg.Client.Lookup(ctx, rec.Canonical)
		if err != nil {
			// Context cancelled mid-flight; nothing to record.
			return
		}
		res.Number = rec.Canonical
		if res.CheckedAt.IsZero() {
			res.CheckedAt = time.Now().UTC()
		}

		if res.RateLimit != nil {
			r.observeRateLimit(*res.RateLimit)
		}

		if wadata.Classify(res) != wadata.OutcomeAPIError {
			break
		}
		if attempt >= settings.MaxRetries {
			r.log.Debugf("Giving up on %s after %d attempts: %s", rec.Canonical, attempt+1, res.Err)
			break
		}

		delay := retryDelay(settings, attempt)
		r.log.Debugf("Lookup failed for %s (attempt %d/%d), retrying in %s: %s",
			rec.Canonical, attempt+1, settings.MaxRetries+1, delay, res.Err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r.record(res)
}

// observeRateLimit reacts to a fresh quota snapshot: pause all dispatch
// until the reset when the remaining budget falls to the floor, or
// abort the batch when the session is configured to throw instead.
func (r *runner) observeRateLimit(info wadata.RateLimitInfo) {
	if info.Remaining > r.sess.Settings.RateLimitFloor {
		return
	}

	r.mu.Lock()
	r.rateLimited++
	throw := r.sess.Settings.ThrowOnLimit
	if throw {
		r.abortedFlag = true
	}
	r.mu.Unlock()

	if r.cfg.OnRateLimit != nil {
		r.cfg.OnRateLimit(info)
	}

	if throw {
		r.log.Warnf("Rate limit exhausted (remaining=%d), aborting batch", info.Remaining)
		r.cancelDispatch()
		return
	}

	resetAt := time.Unix(info.Reset, 0)
	r.log.Warnf("Rate limit exhausted (remaining=%d), pausing until %s", info.Remaining, resetAt.Format(time.RFC3339))
	r.limiter.pauseUntil(resetAt)
}

// record stores the terminal result on the session (replacing any prior
// entry for the same number), persists every persistEvery completions,
// and emits a progress event with counts consistent with that result.
// emitMu keeps events ordered by completion across workers; the shared
// mutex is released before the callback runs.
func (r *runner) record(res wadata.Result) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	r.sess.Record(res)
	r.sess.Recount()

	if r.sess.Settings.StopOnError && wadata.Classify(res) == wadata.OutcomeAPIError {
		r.log.Warnf("Stopping dispatch after error on %s: %s", res.Number, res.Err)
		r.cancelDispatch()
	}

	progress := Progress{
		SessionID:     r.sess.ID,
		Completed:     r.sess.CompletedNumbers,
		Total:         r.sess.TotalNumbers,
		Percentage:    percentage(r.sess.CompletedNumbers, r.sess.TotalNumbers),
		Successful:    r.sess.SuccessfulChecks,
		Failed:        r.sess.FailedChecks,
		RateLimited:   r.rateLimited,
		CurrentNumber: res.Number,
		Result:        res,
	}
	if progress.Completed%persistEvery == 0 {
		persist(r.ctx, r.cfg.Store, r.sess, r.log)
	}
	r.mu.Unlock()

	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(progress)
	}
}

func retryDelay(settings session.Settings, attempt int) time.Duration {
	base := settings.RetryDelay
	if base <= 0 {
		base = time.Second
	}
	switch settings.Backoff {
	case "linear":
		return base * time.Duration(attempt+1)
	case "exponential":
		return base << uint(attempt)
	default:
		return base
	}
}

func percentage(completed, total int) int {
	if total == 0 {
		return 0
	}
	return completed * 100 / total
}

func persist(ctx context.Context, store *session.Store, sess *session.Session, log Logger) {
	if store == nil {
		return
	}
	// Persist with a background-derived context so a cancelled run can
	// still save its partial results.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := store.Update(ctx, sess); err != nil {
		log.Warnf("Could not persist session %s: %v", sess.ID, err)
	}
}

// rateGate serializes rate-limit pauses across workers. While paused,
// no new lookup starts; cancellation still takes effect immediately.
type rateGate struct {
	mu         sync.Mutex
	pausedTill time.Time
}

func newRateGate() *rateGate {
	return &rateGate{}
}

func (g *rateGate) pauseUntil(t time.Time) {
	g.mu.Lock()
	if t.After(g.pausedTill) {
		g.pausedTill = t
	}
	g.mu.Unlock()
}

func (g *rateGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		wait := time.Until(g.pausedTill)
		g.mu.Unlock()
		if wait <= 0 {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
