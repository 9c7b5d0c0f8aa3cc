package api

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
)

const productID = "-//family_dash//Family Dashboard//EN"

// writeICS encodes events as one iCalendar document. UIDs combine the feed
// id with the upstream id, which is only unique within its feed.
func writeICS(w io.Writer, events []eventView, now time.Time) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, ev := range events {
		cal.Children = append(cal.Children, toVEvent(ev, now))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("encode calendar: %w", err)
	}
	return nil
}

func toVEvent(ev eventView, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, fmt.Sprintf("%d-%s", ev.CalendarID, ev.EventID))
	ve.Props.SetText(ical.PropSummary, ev.Title)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	if ev.AllDay {
		ve.Props.SetDate(ical.PropDateTimeStart, ev.StartTime.UTC())
		ve.Props.SetDate(ical.PropDateTimeEnd, ev.EndTime.UTC())
	} else {
		ve.Props.SetDateTime(ical.PropDateTimeStart, ev.StartTime.UTC())
		ve.Props.SetDateTime(ical.PropDateTimeEnd, ev.EndTime.UTC())
	}

	if ev.Description != "" {
		ve.Props.SetText(ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		ve.Props.SetText(ical.PropLocation, ev.Location)
	}
	if ev.CalendarName != "" {
		ve.Props.SetText(ical.PropCategories, ev.CalendarName)
	}
	if ev.Recurrence != "" {
		// Rule text must not go through TEXT escaping.
		p := ical.NewProp(ical.PropRecurrenceRule)
		p.Value = ev.Recurrence
		ve.Props.Set(p)
	}
	return ve
}
