package bot

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultEventDays = 7
	maxEventDays     = 31
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseDaysArg parses the optional day count of /events.
func ParseDaysArg(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return defaultEventDays, nil
	}
	days, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || days < 1 || days > maxEventDays {
		return 0, fmt.Errorf("days must be between 1 and %d", maxEventDays)
	}
	return days, nil
}

// ParseNoteArgs splits "<title> | <content>" into its parts. Content is
// optional.
func ParseNoteArgs(args string) (string, string, error) {
	title, content, _ := strings.Cut(args, "|")
	title = strings.TrimSpace(title)
	if title == "" {
		return "", "", fmt.Errorf("usage: /note <title> | <details>")
	}
	return title, strings.TrimSpace(content), nil
}
