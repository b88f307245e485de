package history

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// Mode is one aggregate to compute
type Mode string

const (
	ModeLatest Mode = "latest"
	ModeMin    Mode = "min"
	ModeMax    Mode = "max"
	ModeAvg    Mode = "avg"
	ModeCount  Mode = "count"
)

// AllModes in output order
var AllModes = []Mode{ModeLatest, ModeMin, ModeMax, ModeAvg, ModeCount}

// ParseModes accepts a JSON array or a comma list.  "all" expands to every
// mode, "none" yields no modes, empty input means all.
func ParseModes(raw string) ([]Mode, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return append([]Mode(nil), AllModes...), nil
	}

	var names []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, apperror.InvalidJSON("aggregateModes", err)
		}
	} else {
		names = strings.Split(raw, ",")
	}

	seen := map[Mode]bool{}
	modes := []Mode{}
	add := func(m Mode) {
		if !seen[m] {
			seen[m] = true
			modes = append(modes, m)
		}
	}

	for _, n := range names {
		switch m := Mode(strings.ToLower(strings.TrimSpace(n))); m {
		case "":
			continue
		case "all":
			for _, a := range AllModes {
				add(a)
			}
		case "none":
			return []Mode{}, nil
		case ModeLatest, ModeMin, ModeMax, ModeAvg, ModeCount:
			add(m)
		default:
			return nil, apperror.InvalidArg("unsupported aggregate mode %q, expected latest|min|max|avg|count|all|none", n)
		}
	}

	return modes, nil
}

// NumericPoint is a sample whose value parsed as a finite number
type NumericPoint struct {
	Time  interface{} `json:"time"`
	Value float64     `json:"value"`
}

// Aggregate holds the requested aggregates of one series
type Aggregate struct {
	Count        *int          `json:"count,omitempty"`
	NumericCount *int          `json:"numericCount,omitempty"`
	Latest       *Point        `json:"latest,omitempty"`
	Min          *NumericPoint `json:"min,omitempty"`
	Max          *NumericPoint `json:"max,omitempty"`
	Avg          *float64      `json:"avg,omitempty"`
}

// ParseNumber reports the finite numeric value of a sample, if any
func ParseNumber(v interface{}) (float64, bool) {
	var f float64
	var err error

	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		f, err = n.Float64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		f, err = strconv.ParseFloat(s, 64)
	default:
		return 0, false
	}

	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Compute evaluates modes over one series.  min/max/avg consider numeric
// points only and are left out when there are none.
func Compute(s Series, modes []Mode) Aggregate {
	agg := Aggregate{}
	want := map[Mode]bool{}
	for _, m := range modes {
		want[m] = true
	}

	var (
		numeric  int
		sum      float64
		min, max *NumericPoint
	)
	for _, p := range s.Points {
		f, ok := ParseNumber(p.Value)
		if !ok {
			continue
		}
		numeric++
		sum += f
		if min == nil || f < min.Value {
			min = &NumericPoint{Time: p.Time, Value: f}
		}
		if max == nil || f > max.Value {
			max = &NumericPoint{Time: p.Time, Value: f}
		}
	}

	if want[ModeCount] {
		total := len(s.Points)
		agg.Count = &total
		agg.NumericCount = &numeric
	}
	if want[ModeLatest] && len(s.Points) > 0 {
		latest := s.Points[len(s.Points)-1]
		agg.Latest = &latest
	}
	if numeric > 0 {
		if want[ModeMin] {
			agg.Min = min
		}
		if want[ModeMax] {
			agg.Max = max
		}
		if want[ModeAvg] {
			avg := sum / float64(numeric)
			agg.Avg = &avg
		}
	}

	return agg
}
