package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

const (
	MinTZOffsetMinutes = -720
	MaxTZOffsetMinutes = 840
	minutesPerDay      = 24 * 60
)

// Policy is the write-risk configuration
type Policy struct {
	AllowWrite      bool
	NightBlock      bool
	NightStart      int // minute of day
	NightEnd        int // minute of day
	TZOffsetMinutes *int
	Sensitive       map[string]struct{}
}

// DefaultPolicy allows writes at any time, with no sensitive actions
func DefaultPolicy() Policy {
	return Policy{
		AllowWrite: true,
		NightStart: 23 * 60,
		NightEnd:   6 * 60,
		Sensitive:  map[string]struct{}{},
	}
}

// ParseClock parses HH:MM into a minute of day
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, errors.Errorf("expected HH:MM, got %q", s)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, errors.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, errors.Errorf("bad minute in %q", s)
	}

	return h*60 + m, nil
}

// FormatClock is the inverse of ParseClock
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ClampTZOffset bounds an offset to the range of real-world zones
func ClampTZOffset(minutes int) int {
	if minutes < MinTZOffsetMinutes {
		return MinTZOffsetMinutes
	}
	if minutes > MaxTZOffsetMinutes {
		return MaxTZOffsetMinutes
	}
	return minutes
}

// InWindow reports whether minute falls in [start, end).  start == end
// covers the whole day, start > end wraps past midnight.
func InWindow(minute, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return minute >= start && minute < end
	default:
		return minute >= start || minute < end
	}
}

// Engine gates write-class actions
type Engine struct {
	policy Policy
	now    func() time.Time
	logger *logrus.Entry
}

func NewEngine(p Policy, logger *logrus.Entry) *Engine {
	return &Engine{
		policy: p,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	ne := *e
	ne.now = now
	return &ne
}

// MinuteOfDay returns the policy-relative current minute of day
func (e *Engine) MinuteOfDay() int {
	t := e.now()
	if e.policy.TZOffsetMinutes != nil {
		t = t.UTC().Add(time.Duration(ClampTZOffset(*e.policy.TZOffsetMinutes)) * time.Minute)
	}

	return t.Hour()*60 + t.Minute()
}

// Enforce checks a write action against the policy.  Read actions pass.
func (e *Engine) Enforce(action string, isWrite bool, confirmed bool) error {
	if !isWrite {
		return nil
	}

	if !e.policy.AllowWrite {
		return apperror.New(apperror.CodeWriteDisabled, "writes are disabled (IOT_ALLOW_WRITE=false), %s refused", action)
	}

	if e.policy.NightBlock {
		minute := e.MinuteOfDay()
		if InWindow(minute, e.policy.NightStart, e.policy.NightEnd) {
			return apperror.New(apperror.CodeWriteNightBlocked, "writes are blocked between %s and %s (now %s)",
				FormatClock(e.policy.NightStart), FormatClock(e.policy.NightEnd), FormatClock(minute%minutesPerDay))
		}
	}

	if _, ok := e.policy.Sensitive[action]; ok && !confirmed {
		return apperror.New(apperror.CodeConfirmRequired, "%s is a sensitive action, re-run with --confirm", action)
	}

	if e.logger != nil {
		e.logger.Debugf("write policy: %s allowed", action)
	}
	return nil
}
