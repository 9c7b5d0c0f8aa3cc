// Package scheduler refreshes calendar feeds into the event cache, on a cron
// schedule and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"family_dash/internal/metrics"
	"family_dash/internal/model"
	"family_dash/internal/storage"
)

const (
	// DefaultSchedule refreshes every feed each quarter hour.
	DefaultSchedule = "*/15 * * * *"
	// DefaultConcurrency bounds how many feeds are fetched at once.
	DefaultConcurrency = 4
)

// Source downloads and parses the records of one feed.
type Source interface {
	FetchAndParse(ctx context.Context, feed model.Feed) ([]model.RawEvent, error)
}

// State is the refresh state of the scheduler.
type State int32

// Scheduler states.
const (
	Idle State = iota
	Refreshing
)

func (s State) String() string {
	if s == Refreshing {
		return "refreshing"
	}
	return "idle"
}

// FeedResult is the outcome of refreshing one feed.
type FeedResult struct {
	FeedID   int64
	Name     string
	Events   int
	Notes    int
	Duration time.Duration
	Err      error
}

// OK reports whether the feed refreshed successfully.
func (r FeedResult) OK() bool { return r.Err == nil }

// Aggregate is the outcome of a refresh pass over all active feeds.
type Aggregate struct {
	Results  []FeedResult
	Finished time.Time
	// ListErr is set when the active feeds could not be read at all.
	ListErr error
}

// OK reports whether every feed of the pass succeeded.
func (a Aggregate) OK() bool {
	if a.ListErr != nil {
		return false
	}
	for _, r := range a.Results {
		if r.Err != nil {
			return false
		}
	}
	return true
}

// Err combines the failures of the pass, or returns nil.
func (a Aggregate) Err() error {
	var result *multierror.Error
	if a.ListErr != nil {
		result = multierror.Append(result, a.ListErr)
	}
	for _, r := range a.Results {
		if r.Err != nil {
			result = multierror.Append(result, fmt.Errorf("feed %d (%s): %w", r.FeedID, r.Name, r.Err))
		}
	}
	return result.ErrorOrNil()
}

// Failed returns the number of feeds that failed.
func (a Aggregate) Failed() int {
	n := 0
	for _, r := range a.Results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// Scheduler refreshes feeds into the event cache.
type Scheduler struct {
	store       storage.Storage
	source      Source
	log         *slog.Logger
	metrics     *metrics.Metrics
	schedule    string
	concurrency int

	flight singleflight.Group
	state  atomic.Int32
	locks  feedLocks
}

// New creates a Scheduler that loads feeds through src.
func New(store storage.Storage, src Source, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		source:      src,
		log:         log,
		schedule:    DefaultSchedule,
		concurrency: DefaultConcurrency,
	}
}

// SetSchedule overrides the cron schedule of periodic refreshes.
func (s *Scheduler) SetSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.schedule = spec
	return nil
}

// SetConcurrency overrides how many feeds are refreshed at once.
func (s *Scheduler) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// SetMetrics attaches Prometheus collectors.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// State returns whether a refresh pass is in flight.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run performs one refresh pass immediately, then refreshes on the
// configured schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError))
	c := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.RefreshAll(ctx) }); err != nil {
		return fmt.Errorf("add refresh job: %w", err)
	}

	s.RefreshAll(ctx)
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	s.log.Info("scheduler started", "schedule", s.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// RefreshAll refreshes every active feed concurrently. A call made while a
// pass is already running waits for that pass and shares its result.
func (s *Scheduler) RefreshAll(ctx context.Context) Aggregate {
	v, _, _ := s.flight.Do("all", func() (any, error) {
		return s.refreshAll(ctx), nil
	})
	return v.(Aggregate)
}

func (s *Scheduler) refreshAll(ctx context.Context) Aggregate {
	s.state.Store(int32(Refreshing))
	defer s.state.Store(int32(Idle))

	feeds, err := s.store.ListActiveFeeds(ctx)
	if err != nil {
		s.log.Error("list active feeds", "error", err)
		agg := Aggregate{ListErr: fmt.Errorf("list active feeds: %w", err), Finished: time.Now()}
		s.metrics.ObservePass(false, agg.Finished)
		return agg
	}

	results := make([]FeedResult, len(feeds))
	ran := make([]bool, len(feeds))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, feed := range feeds {
		g.Go(func() error {
			results[i], ran[i] = s.refreshFeed(ctx, feed.ID, true)
			return nil
		})
	}
	_ = g.Wait()

	// Feeds deleted or paused while the pass was queued are left out.
	kept := results[:0]
	for i, r := range results {
		if ran[i] {
			kept = append(kept, r)
		}
	}
	results = kept

	agg := Aggregate{Results: results, Finished: time.Now()}
	s.metrics.ObservePass(agg.OK(), agg.Finished)
	if agg.OK() {
		s.log.Info("refresh pass finished", "feeds", len(results))
	} else {
		s.log.Warn("refresh pass finished with failures", "feeds", len(results), "failed", agg.Failed())
	}
	return agg
}

// RefreshOne refreshes a single feed, active or not. It returns once the
// feed's cache has been replaced or the refresh has failed.
func (s *Scheduler) RefreshOne(ctx context.Context, id int64) FeedResult {
	res, _ := s.refreshFeed(ctx, id, false)
	return res
}

// RemoveFeed deletes a feed and its cached events. Notes derived from the
// feed are kept.
func (s *Scheduler) RemoveFeed(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.store.DeleteFeed(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteEventsByFeed(ctx, id); err != nil {
		return fmt.Errorf("cascade events of feed %d: %w", id, err)
	}
	s.metrics.ForgetFeed(id)
	s.log.Info("feed removed", "feed_id", id)
	return nil
}

// refreshFeed reads the feed under its lock, so an edit that completed
// before the lock was taken is always seen. With activeOnly set, a feed that
// is gone or paused is skipped and ran is false.
func (s *Scheduler) refreshFeed(ctx context.Context, id int64, activeOnly bool) (res FeedResult, ran bool) {
	unlock := s.locks.lock(id)
	defer unlock()

	current, err := s.store.GetFeed(ctx, id)
	if activeOnly && (errors.Is(err, model.ErrNotFound) || (err == nil && !current.Active)) {
		s.log.Debug("feed changed while queued, skipping", "feed_id", id)
		return FeedResult{FeedID: id}, false
	}
	if err != nil {
		return FeedResult{FeedID: id, Err: err}, true
	}
	feed := *current

	start := time.Now()
	res = FeedResult{FeedID: feed.ID, Name: feed.Name}

	s.log.Debug("refreshing feed", "feed_id", feed.ID, "name", feed.Name)
	recs, err := s.source.FetchAndParse(ctx, feed)
	if err == nil {
		res.Events, res.Notes, err = s.reconcile(ctx, feed, recs)
	}
	res.Err = err
	res.Duration = time.Since(start)

	s.metrics.ObserveFeed(feed.ID, res.Events, res.Notes, res.Duration, err)
	if err != nil {
		s.log.Error("refresh feed", "feed_id", feed.ID, "name", feed.Name, "url", feed.URL, "error", err)
	} else {
		s.log.Info("feed refreshed", "feed_id", feed.ID, "name", feed.Name,
			"events", res.Events, "notes", res.Notes, "duration", res.Duration)
	}
	return res, true
}

// feedLocks serialises work on the same feed.
type feedLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

func (l *feedLocks) lock(id int64) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int64]*sync.Mutex)
	}
	fm, ok := l.m[id]
	if !ok {
		fm = &sync.Mutex{}
		l.m[id] = fm
	}
	l.mu.Unlock()

	fm.Lock()
	return fm.Unlock
}
