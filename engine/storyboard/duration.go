package storyboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/WessleyAI/storyboard/engine/domain"
)

// ErrInvalidTimecode is returned for ranges that are not "HH:MM:SS,mmm --> HH:MM:SS,mmm".
var ErrInvalidTimecode = errors.New("invalid timecode")

const rangeSep = "-->"

// DurationMillis returns end minus start of a timecode range in milliseconds.
// Whitespace anywhere in the input is ignored. Negative results pass through.
func DurationMillis(tc string) (int64, error) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, tc)

	parts := strings.Split(compact, rangeSep)
	if len(parts) != 2 {
		return 0, domain.NewParseError(tc, ErrInvalidTimecode)
	}
	start, err := stampMillis(parts[0])
	if err != nil {
		return 0, domain.NewParseError(tc, err)
	}
	end, err := stampMillis(parts[1])
	if err != nil {
		return 0, domain.NewParseError(tc, err)
	}
	return end - start, nil
}

// Duration is DurationMillis as a time.Duration.
func Duration(tc string) (time.Duration, error) {
	ms, err := DurationMillis(tc)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// TotalDuration sums the durations of all scenes.
func TotalDuration(scenes []Scene) (time.Duration, error) {
	var total time.Duration
	for _, s := range scenes {
		d, err := Duration(s.TimeCode)
		if err != nil {
			return 0, fmt.Errorf("storyboard: scene %d: %w", s.SceneNumber, err)
		}
		total += d
	}
	return total, nil
}

// stampMillis parses H:M:S,ms.
func stampMillis(s string) (int64, error) {
	clock, ms, ok := strings.Cut(s, ",")
	if !ok {
		return 0, ErrInvalidTimecode
	}
	hms := strings.Split(clock, ":")
	if len(hms) != 3 {
		return 0, ErrInvalidTimecode
	}
	fields := [4]string{hms[0], hms[1], hms[2], ms}
	var v [4]int64
	for i, f := range fields {
		n, err := parseDigits(f)
		if err != nil {
			return 0, err
		}
		v[i] = n
	}
	return v[0]*3600000 + v[1]*60000 + v[2]*1000 + v[3], nil
}

func parseDigits(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidTimecode
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrInvalidTimecode
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidTimecode
	}
	return n, nil
}
