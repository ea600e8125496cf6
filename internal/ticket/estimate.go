package ticket

import (
	"strconv"
	"strings"

	"github.com/blueconnect/triage/internal/model"
)

// defaultEstimateHours is returned when no match carries a parseable
// resolution time.
const defaultEstimateHours = 24

// Estimate averages the resolution times of the matched prior tickets and
// rounds down to whole hours. Active tickets carry an estimated time, historic
// tickets an actual one. Unparseable values are skipped, not treated as
// failures; with zero usable values the fixed default applies. Never returns
// less than 1.
func Estimate(matches []model.Match, historic bool) int {
	var sum float64
	var n int
	for _, m := range matches {
		raw := m.Doc.EstimatedResolutionTime
		if historic {
			raw = m.Doc.ActualResolutionTime
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return defaultEstimateHours
	}
	est := int(sum / float64(n))
	if est < 1 {
		est = 1
	}
	return est
}
