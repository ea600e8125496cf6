package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blueconnect/triage/internal/model"
)

func estMatch(ert string) model.Match {
	return model.Match{Doc: model.Document{EstimatedResolutionTime: ert}}
}

func actMatch(art string) model.Match {
	return model.Match{Doc: model.Document{ActualResolutionTime: art}}
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		name     string
		matches  []model.Match
		historic bool
		want     int
	}{
		{
			name:    "averages and skips unparseable",
			matches: []model.Match{estMatch("10"), estMatch("20"), estMatch("bad"), estMatch("30")},
			want:    20, // (10+20+30)/3
		},
		{
			name:    "empty list returns default",
			matches: nil,
			want:    24,
		},
		{
			name:    "all unparseable returns default",
			matches: []model.Match{estMatch("n/a"), estMatch(""), estMatch("soon")},
			want:    24,
		},
		{
			name:     "historic reads actual resolution time",
			matches:  []model.Match{actMatch("30"), actMatch("50")},
			historic: true,
			want:     40,
		},
		{
			name:     "historic ignores estimated field",
			matches:  []model.Match{estMatch("10"), actMatch("50")},
			historic: true,
			want:     50,
		},
		{
			name:    "fractional average rounds down",
			matches: []model.Match{estMatch("10"), estMatch("11")},
			want:    10, // 10.5 floored
		},
		{
			name:    "whitespace tolerated",
			matches: []model.Match{estMatch(" 18 ")},
			want:    18,
		},
		{
			name:    "sub-hour values clamp to one",
			matches: []model.Match{estMatch("0.25")},
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Estimate(tt.matches, tt.historic))
		})
	}
}
