package scheduler

import (
	"context"
	"fmt"

	"family_dash/internal/classify"
	"family_dash/internal/model"
)

// reconcile replaces the cached events of feed with recs and stores the notes
// they derive. It returns the number of events cached and notes created.
// The caller holds the feed's lock.
func (s *Scheduler) reconcile(ctx context.Context, feed model.Feed, recs []model.RawEvent) (int, int, error) {
	events, notes := classify.Split(feed, recs)

	if err := s.store.ReplaceFeedEvents(ctx, feed.ID, events, notes); err != nil {
		return 0, 0, fmt.Errorf("%w: feed %d: %w", model.ErrReconcile, feed.ID, err)
	}

	created := 0
	for _, n := range notes {
		if n.ID != 0 {
			created++
		}
	}
	return len(events), created, nil
}
