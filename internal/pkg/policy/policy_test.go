package policy

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

func clockAt(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2024, 6, 1, hour, minute, 0, 0, time.Local)
	}
}

func nightPolicy(t *testing.T, start, end string) Policy {
	p := DefaultPolicy()
	p.NightBlock = true

	var err error
	p.NightStart, err = ParseClock(start)
	require.NoError(t, err)
	p.NightEnd, err = ParseClock(end)
	require.NoError(t, err)
	return p
}

func TestNightWindowWrapAround(t *testing.T) {
	p := nightPolicy(t, "23:00", "06:00")

	tests := []struct {
		hour, minute int
		blocked      bool
	}{
		{23, 30, true},
		{2, 0, true},
		{12, 0, false},
		{6, 0, false},
		{23, 0, true},
		{22, 59, false},
	}

	for _, tt := range tests {
		e := NewEngine(p, nil).WithClock(clockAt(tt.hour, tt.minute))
		err := e.Enforce("set-props", true, true)
		if tt.blocked {
			require.Error(t, err, "%02d:%02d", tt.hour, tt.minute)
			assert.Equal(t, apperror.CodeWriteNightBlocked, apperror.Normalize(err).Code)
		} else {
			assert.NoError(t, err, "%02d:%02d", tt.hour, tt.minute)
		}
	}
}

func TestInWindow(t *testing.T) {
	assert.True(t, InWindow(0, 600, 600), "equal bounds cover the full day")
	assert.True(t, InWindow(1439, 600, 600))
	assert.True(t, InWindow(60, 0, 360))
	assert.False(t, InWindow(360, 0, 360))
	assert.True(t, InWindow(1400, 1380, 360))
	assert.False(t, InWindow(720, 1380, 360))
}

func TestTZOffset(t *testing.T) {
	p := nightPolicy(t, "23:00", "06:00")
	offset := 480
	p.TZOffsetMinutes = &offset

	// 16:30 UTC is 00:30 at UTC+8
	e := NewEngine(p, nil).WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 16, 30, 0, 0, time.UTC)
	})
	assert.Equal(t, 30, e.MinuteOfDay())
	assert.Error(t, e.Enforce("call-service", true, true))

	assert.Equal(t, MaxTZOffsetMinutes, ClampTZOffset(2000))
	assert.Equal(t, MinTZOffsetMinutes, ClampTZOffset(-2000))
}

func TestEnforceOrder(t *testing.T) {
	p := DefaultPolicy()
	p.AllowWrite = false
	e := NewEngine(p, nil)

	assert.NoError(t, e.Enforce("device-status", false, false), "reads always pass")

	err := e.Enforce("set-props", true, true)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeWriteDisabled, apperror.Normalize(err).Code)
}

func TestSensitiveRequiresConfirm(t *testing.T) {
	p := DefaultPolicy()
	p.Sensitive = map[string]struct{}{"call-service": {}}
	e := NewEngine(p, nil)

	err := e.Enforce("call-service", true, false)
	require.Error(t, err)
	assert.Equal(t, apperror.CodeConfirmRequired, apperror.Normalize(err).Code)

	assert.NoError(t, e.Enforce("call-service", true, true))
	assert.NoError(t, e.Enforce("set-props", true, false))
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("06:30")
	require.NoError(t, err)
	assert.Equal(t, 390, m)
	assert.Equal(t, "06:30", FormatClock(m))

	for _, bad := range []string{"24:00", "6", "ab:cd", "12:60", ""} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseClockErrorsCarryStack(t *testing.T) {
	type stackTracer interface {
		StackTrace() errors.StackTrace
	}

	for _, bad := range []string{"6", "25:00", "12:99"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseClock(bad)
			require.Error(t, err)
			_, ok := err.(stackTracer)
			assert.True(t, ok)
			assert.Contains(t, err.Error(), bad)
		})
	}
}

func TestGuard(t *testing.T) {
	var none *Guard
	assert.NoError(t, none.Check("anything"))
	assert.Nil(t, NewGuard([]string{" ", ""}))

	g := NewGuard([]string{"power", "mode", "power"})
	assert.Equal(t, []string{"power", "mode"}, g.Identifiers())
	assert.NoError(t, g.Check("power", "mode"))

	err := g.Check("power", "brightness")
	require.Error(t, err)
	assert.Equal(t, apperror.CodeWriteGuardBlocked, apperror.Normalize(err).Code)
}
