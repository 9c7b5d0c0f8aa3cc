package bot

import (
	"fmt"
	"strings"
	"time"

	"family_dash/internal/model"
	"family_dash/internal/scheduler"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

// FormatFeedList formats the calendar feeds for display.
func FormatFeedList(feeds []model.Feed) string {
	if len(feeds) == 0 {
		return "No calendar feeds yet. Add one from the dashboard settings."
	}
	var b strings.Builder
	b.WriteString("Calendar feeds:\n")
	for _, f := range feeds {
		status := statusActive
		if !f.Active {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\n#%d %s (%s) [%s]\n", f.ID, f.Name, f.Type, status)
		fmt.Fprintf(&b, "   %s\n", f.URL)
	}
	return b.String()
}

// FormatEvents lists events grouped by day in loc. names maps feed ids to
// feed names.
func FormatEvents(events []model.Event, names map[int64]string, days int, loc *time.Location) string {
	if len(events) == 0 {
		return fmt.Sprintf("Nothing scheduled in the next %s.", pluralDays(days))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Events in the next %s:\n", pluralDays(days))
	var lastDay string
	for _, ev := range events {
		start := ev.StartTime.In(loc)
		if ev.AllDay {
			// All-day events are stored at UTC midnight of their date.
			start = ev.StartTime.UTC()
		}
		day := start.Format("Mon 02 Jan")
		if day != lastDay {
			fmt.Fprintf(&b, "\n%s\n", day)
			lastDay = day
		}

		when := "all day"
		if !ev.AllDay {
			when = start.Format("15:04")
		}
		fmt.Fprintf(&b, "  %s  %s", when, ev.Title)
		if name := names[ev.CalendarID]; name != "" {
			fmt.Fprintf(&b, " (%s)", name)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatNoteList formats the notes board.
func FormatNoteList(notes []model.Note) string {
	if len(notes) == 0 {
		return "The notes board is empty. Use /note <title> to add one."
	}
	var b strings.Builder
	b.WriteString("Notes:\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "\nN%d %s (by %s)\n", n.ID, n.Title, n.Author)
		if n.Content != "" {
			fmt.Fprintf(&b, "   %s\n", n.Content)
		}
	}
	return b.String()
}

// FormatFeedResult formats the outcome of refreshing one feed.
func FormatFeedResult(r scheduler.FeedResult) string {
	if !r.OK() {
		return fmt.Sprintf("#%d %s: failed: %v", r.FeedID, r.Name, r.Err)
	}
	s := fmt.Sprintf("#%d %s: %d event(s)", r.FeedID, r.Name, r.Events)
	if r.Notes > 0 {
		s += fmt.Sprintf(", %d new note(s)", r.Notes)
	}
	return s
}

// FormatRefresh summarizes a refresh pass.
func FormatRefresh(agg scheduler.Aggregate) string {
	if agg.ListErr != nil {
		return fmt.Sprintf("Refresh failed: %v", agg.ListErr)
	}
	if len(agg.Results) == 0 {
		return "No active calendar feeds to refresh."
	}

	var b strings.Builder
	if agg.OK() {
		b.WriteString("Calendars refreshed successfully.\n")
	} else {
		fmt.Fprintf(&b, "%d of %d calendars failed to refresh.\n", agg.Failed(), len(agg.Results))
	}
	for _, r := range agg.Results {
		b.WriteString("\n")
		b.WriteString(FormatFeedResult(r))
	}
	return b.String()
}

func pluralDays(n int) string {
	if n == 1 {
		return "day"
	}
	return fmt.Sprintf("%d days", n)
}
