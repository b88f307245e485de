package timewindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

func TestResolveExplicit(t *testing.T) {
	w, err := Resolve(Input{
		StartTime: "2024-05-01 00:00:00",
		EndTime:   "2024-05-01 12:00:00",
		Range:     "last_7d",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, Window{StartTime: "2024-05-01 00:00:00", EndTime: "2024-05-01 12:00:00", Source: SourceExplicit}, w)
}

func TestResolveRanges(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 30, 15, 0, time.Local)

	tests := []struct {
		keyword   string
		wantStart string
	}{
		{"last_1h", "2024-05-10 11:30:15"},
		{"last_6h", "2024-05-10 06:30:15"},
		{"last_24h", "2024-05-09 12:30:15"},
		{"LAST_7D", "2024-05-03 12:30:15"},
		{"", "2024-05-09 12:30:15"},
	}

	for _, tt := range tests {
		t.Run(tt.keyword, func(t *testing.T) {
			w, err := Resolve(Input{Range: tt.keyword}, now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, w.StartTime)
			assert.Equal(t, "2024-05-10 12:30:15", w.EndTime)
			assert.Equal(t, SourceRange, w.Source)
		})
	}
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"unknown keyword", Input{Range: "last_2y"}},
		{"only start", Input{StartTime: "2024-05-01 00:00:00"}},
		{"bad format", Input{StartTime: "2024-05-01T00:00:00", EndTime: "2024-05-02 00:00:00"}},
		{"reversed", Input{StartTime: "2024-05-02 00:00:00", EndTime: "2024-05-01 00:00:00"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.in, time.Now())
			require.Error(t, err)
			assert.Equal(t, apperror.TypeValidation, apperror.Normalize(err).Type)
		})
	}
}
