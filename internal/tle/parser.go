package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Parse reads a multi-entry 3-line catalogue from r and returns the
// entries that validate. Malformed entries are skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var entries []Entry
	for i := 0; i+2 < len(lines); {
		name := lines[i]
		l := Lines{Line1: lines[i+1], Line2: lines[i+2]}

		// Resynchronise one line at a time until a name/1/2 triplet lines up.
		if !strings.HasPrefix(l.Line1, "1 ") || !strings.HasPrefix(l.Line2, "2 ") {
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			i++
			continue
		}

		if err := l.Validate(); err != nil {
			logger.Warn("skipping invalid TLE entry", "name", name, "error", err)
			i += 3
			continue
		}

		epoch, err := l.Epoch()
		if err != nil {
			logger.Warn("skipping TLE entry with invalid epoch", "name", name, "error", err)
			i += 3
			continue
		}

		entries = append(entries, Entry{
			NORADID: l.CatalogID(),
			Name:    strings.TrimSpace(name),
			Epoch:   epoch,
			Line1:   l.Line1,
			Line2:   l.Line2,
		})
		i += 3
	}

	return entries, nil
}

// Lines returns the entry's element lines.
func (e Entry) Lines() Lines {
	return Lines{Line1: e.Line1, Line2: e.Line2}
}

// Payload renders the entry back to raw 3-line text.
func (e Entry) Payload() Payload {
	return RawPayload(e.Name + "\n" + e.Line1 + "\n" + e.Line2 + "\n")
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	yearStr := s[:2]
	dayStr := s[2:]

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", yearStr, err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(dayStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", dayStr, err)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}
