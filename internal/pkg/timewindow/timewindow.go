package timewindow

import (
	"sort"
	"strings"
	"time"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// Layout is the wall-clock format the platform expects
const Layout = "2006-01-02 15:04:05"

// DefaultRange is used when neither explicit bounds nor a range are given
const DefaultRange = "last_24h"

const (
	SourceExplicit = "explicit"
	SourceRange    = "range"
)

var ranges = map[string]time.Duration{
	"last_1h":  time.Hour,
	"last_6h":  6 * time.Hour,
	"last_24h": 24 * time.Hour,
	"last_7d":  7 * 24 * time.Hour,
}

// Input carries the raw request values
type Input struct {
	StartTime string
	EndTime   string
	Range     string
}

// Window is a resolved [start, end) pair
type Window struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Source    string `json:"source"`
	Range     string `json:"range,omitempty"`
}

// Ranges lists the accepted range keywords
func Ranges() []string {
	keys := make([]string, 0, len(ranges))
	for k := range ranges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return ranges[keys[i]] < ranges[keys[j]] })
	return keys
}

// Resolve derives the window, using now for relative ranges
func Resolve(in Input, now time.Time) (Window, error) {
	start := strings.TrimSpace(in.StartTime)
	end := strings.TrimSpace(in.EndTime)

	if start != "" && end != "" {
		s, err := time.ParseInLocation(Layout, start, time.Local)
		if err != nil {
			return Window{}, apperror.InvalidArg("startTime must be formatted YYYY-MM-DD HH:mm:ss, got %q", start)
		}
		e, err := time.ParseInLocation(Layout, end, time.Local)
		if err != nil {
			return Window{}, apperror.InvalidArg("endTime must be formatted YYYY-MM-DD HH:mm:ss, got %q", end)
		}
		if s.After(e) {
			return Window{}, apperror.InvalidArg("startTime %s is after endTime %s", start, end)
		}

		return Window{StartTime: start, EndTime: end, Source: SourceExplicit}, nil
	}

	keyword := strings.ToLower(strings.TrimSpace(in.Range))
	if keyword == "" {
		if start != "" || end != "" {
			return Window{}, apperror.InvalidArg("startTime and endTime must be supplied together, or use --range")
		}
		keyword = DefaultRange
	}

	offset, ok := ranges[keyword]
	if !ok {
		return Window{}, apperror.InvalidArg("unsupported range %q, expected one of %s", in.Range, strings.Join(Ranges(), ", "))
	}

	local := now.In(time.Local)
	return Window{
		StartTime: local.Add(-offset).Format(Layout),
		EndTime:   local.Format(Layout),
		Source:    SourceRange,
		Range:     keyword,
	}, nil
}
