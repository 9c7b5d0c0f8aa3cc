package fetcher

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // TZID lookups must not depend on the host's zoneinfo.

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"family_dash/internal/model"
)

const (
	icalDate          = "20060102"
	icalFloatingStamp = "20060102T150405"
)

var utf8BOM = []byte("\xef\xbb\xbf")

// Parse decodes an iCal document into raw event records. Only top-level
// VEVENTs are considered; events without a start, end or summary are
// skipped. An empty or malformed document is reported as model.ErrParse.
func Parse(body []byte) ([]model.RawEvent, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty document", model.ErrParse)
	}
	if !bytes.HasPrefix(bytes.ToUpper(firstLine(trimmed)), []byte("BEGIN:VCALENDAR")) {
		return nil, fmt.Errorf("%w: not an iCalendar document", model.ErrParse)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrParse, err)
	}

	var out []model.RawEvent
	for _, ve := range cal.Events() {
		rec, ok := parseVEvent(ve)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseVEvent(ve *ical.VEvent) (model.RawEvent, bool) {
	var rec model.RawEvent

	rec.Title = propValue(ve, ical.ComponentPropertySummary)
	if rec.Title == "" {
		return rec, false
	}

	start, ok := eventTime(ve, ical.ComponentPropertyDtStart)
	if !ok {
		return rec, false
	}
	end, ok := eventTime(ve, ical.ComponentPropertyDtEnd)
	if !ok {
		return rec, false
	}
	rec.StartTime = start
	rec.EndTime = end
	rec.AllDay = isAllDay(ve.GetProperty(ical.ComponentPropertyDtStart))

	rec.EventID = propValue(ve, ical.ComponentPropertyUniqueId)
	if rec.EventID == "" {
		rec.EventID = uuid.NewString()
	}
	rec.Description = propValue(ve, ical.ComponentPropertyDescription)
	rec.Location = propValue(ve, ical.ComponentPropertyLocation)
	rec.Recurrence = normalizeRRule(propValue(ve, ical.ComponentPropertyRrule))
	rec.Organizer = organizer(ve.GetProperty(ical.ComponentPropertyOrganizer))
	return rec, true
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	prop := ve.GetProperty(p)
	if prop == nil {
		return ""
	}
	return strings.TrimSpace(prop.Value)
}

func param(prop *ical.IANAProperty, name string) string {
	if prop == nil || prop.ICalParameters == nil {
		return ""
	}
	if vs := prop.ICalParameters[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// eventTime decodes DTSTART or DTEND. Date values become UTC midnight;
// date-times go through the library's TZID handling, and values it cannot
// place (unknown zones) are read as UTC wall time.
func eventTime(ve *ical.VEvent, p ical.ComponentProperty) (time.Time, bool) {
	prop := ve.GetProperty(p)
	if prop == nil {
		return time.Time{}, false
	}
	v := strings.TrimSpace(prop.Value)
	if v == "" {
		return time.Time{}, false
	}

	if isDateValue(prop) {
		t, err := time.Parse(icalDate, v)
		return t, err == nil
	}

	var t time.Time
	var err error
	if p == ical.ComponentPropertyDtStart {
		t, err = ve.GetStartAt()
	} else {
		t, err = ve.GetEndAt()
	}
	if err != nil {
		t, err = time.Parse(icalFloatingStamp, strings.TrimSuffix(v, "Z"))
		if err != nil {
			return time.Time{}, false
		}
	}
	return t.UTC(), true
}

func isDateValue(prop *ical.IANAProperty) bool {
	if strings.EqualFold(param(prop, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

// isAllDay reports whether the start carries neither a TZID nor a UTC
// designator. Floating date-times therefore count as all-day.
func isAllDay(start *ical.IANAProperty) bool {
	if param(start, "TZID") != "" {
		return false
	}
	return !strings.HasSuffix(strings.ToUpper(strings.TrimSpace(start.Value)), "Z")
}

// normalizeRRule rewrites a recurrence rule into canonical form. Rules that
// do not parse are kept verbatim; they are stored, never expanded.
func normalizeRRule(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	if raw == "" {
		return ""
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return raw
	}
	return opt.RRuleString()
}

func organizer(prop *ical.IANAProperty) *model.Organizer {
	if prop == nil {
		return nil
	}
	value := strings.TrimSpace(prop.Value)
	if len(prop.ICalParameters) == 0 {
		if value == "" {
			return nil
		}
		return &model.Organizer{Raw: value}
	}
	// Any parameter makes the organizer structured, even without a CN.
	return &model.Organizer{CN: strings.Trim(param(prop, "CN"), `"`), Value: value}
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		return b[:i]
	}
	return b
}
