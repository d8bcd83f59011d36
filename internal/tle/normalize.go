package tle

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is wrapped by every error caused by missing or invalid lines.
var ErrMalformed = errors.New("malformed element set")

const lineLength = 69

// Normalize turns either payload shape into a validated line pair.
//
// Raw text is expected to hold a name line followed by the two element
// lines; a bare two-line body is accepted as well.
func Normalize(p Payload) (Lines, error) {
	var (
		l   Lines
		err error
	)

	switch p.Kind {
	case KindStructured:
		var doc structuredBody
		if err := json.Unmarshal(p.Body, &doc); err != nil {
			return Lines{}, fmt.Errorf("%w: decoding structured payload: %v", ErrMalformed, err)
		}
		l = Lines{Line1: doc.Line1, Line2: doc.Line2}
	case KindRaw:
		l, err = splitRaw(string(p.Body))
		if err != nil {
			return Lines{}, err
		}
	default:
		return Lines{}, fmt.Errorf("%w: unknown payload kind %d", ErrMalformed, p.Kind)
	}

	l.Line1 = strings.TrimSpace(l.Line1)
	l.Line2 = strings.TrimSpace(l.Line2)

	if err := l.Validate(); err != nil {
		return Lines{}, err
	}
	return l, nil
}

func splitRaw(text string) (Lines, error) {
	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		if line := strings.TrimRight(scanner.Text(), "\r\n "); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return Lines{}, fmt.Errorf("%w: reading raw payload: %v", ErrMalformed, err)
	}

	switch {
	case len(lines) >= 2 && strings.HasPrefix(lines[0], "1 ") && strings.HasPrefix(lines[1], "2 "):
		return Lines{Line1: lines[0], Line2: lines[1]}, nil
	case len(lines) >= 3:
		return Lines{Line1: lines[1], Line2: lines[2]}, nil
	default:
		return Lines{}, fmt.Errorf("%w: raw payload has %d non-empty lines, need a name line and two element lines", ErrMalformed, len(lines))
	}
}

// Validate checks the layout of both lines, including every numeric field
// the SGP4 initialiser reads. go-satellite aborts the process on a bad
// field, so nothing reaches it without passing here.
func (l Lines) Validate() error {
	if l.Line1 == "" || l.Line2 == "" {
		return fmt.Errorf("%w: missing element line", ErrMalformed)
	}
	if len(l.Line1) != lineLength {
		return fmt.Errorf("%w: line1 length %d, expected %d", ErrMalformed, len(l.Line1), lineLength)
	}
	if len(l.Line2) != lineLength {
		return fmt.Errorf("%w: line2 length %d, expected %d", ErrMalformed, len(l.Line2), lineLength)
	}
	if l.Line1[0] != '1' {
		return fmt.Errorf("%w: line1 must start with '1', got '%c'", ErrMalformed, l.Line1[0])
	}
	if l.Line2[0] != '2' {
		return fmt.Errorf("%w: line2 must start with '2', got '%c'", ErrMalformed, l.Line2[0])
	}

	id1, err := strconv.Atoi(strings.TrimSpace(l.Line1[2:7]))
	if err != nil {
		return fmt.Errorf("%w: line1 catalog number %q", ErrMalformed, l.Line1[2:7])
	}
	id2, err := strconv.Atoi(strings.TrimSpace(l.Line2[2:7]))
	if err != nil {
		return fmt.Errorf("%w: line2 catalog number %q", ErrMalformed, l.Line2[2:7])
	}
	if id1 != id2 {
		return fmt.Errorf("%w: catalog number mismatch %d vs %d", ErrMalformed, id1, id2)
	}

	if _, err := strconv.Atoi(l.Line1[18:20]); err != nil {
		return fmt.Errorf("%w: epoch year %q", ErrMalformed, l.Line1[18:20])
	}

	fields := []struct {
		name  string
		value string
	}{
		{"epoch day", l.Line1[20:32]},
		{"ndot", l.Line1[33:43]},
		{"nddot", l.Line1[44:45] + "." + l.Line1[45:50] + "e" + l.Line1[50:52]},
		{"bstar", l.Line1[53:54] + "." + l.Line1[54:59] + "e" + l.Line1[59:61]},
		{"inclination", l.Line2[8:16]},
		{"raan", l.Line2[17:25]},
		{"eccentricity", "." + l.Line2[26:33]},
		{"argument of perigee", l.Line2[34:42]},
		{"mean anomaly", l.Line2[43:51]},
		{"mean motion", l.Line2[52:63]},
	}
	for _, f := range fields {
		if _, err := strconv.ParseFloat(strings.Replace(f.value, " ", "", 2), 64); err != nil {
			return fmt.Errorf("%w: %s %q", ErrMalformed, f.name, f.value)
		}
	}

	return nil
}

// CatalogID returns the catalog number encoded in line 1.
func (l Lines) CatalogID() int {
	if len(l.Line1) < 7 {
		return 0
	}
	id, _ := strconv.Atoi(strings.TrimSpace(l.Line1[2:7]))
	return id
}

// Epoch returns the reference epoch encoded in line 1.
func (l Lines) Epoch() (time.Time, error) {
	if len(l.Line1) < 32 {
		return time.Time{}, fmt.Errorf("%w: line1 too short for epoch", ErrMalformed)
	}
	return parseEpoch(strings.TrimSpace(l.Line1[18:32]))
}
