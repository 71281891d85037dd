package layers

import (
	"math"
	"strings"
	"time"
)

// cycleLength is the 30-step cycle the cyclic unit walks through,
// mirroring the lunar-month day count used in traditional calendars.
const cycleLength = 30

// weekdayFactors is the built-in weekday favorability table. Rules can
// override it with a map factor over the "weekday" feature.
var weekdayFactors = map[time.Weekday]float64{
	time.Sunday:    0.65,
	time.Monday:    0.70,
	time.Tuesday:   0.45,
	time.Wednesday: 0.75,
	time.Thursday:  0.80,
	time.Friday:    0.70,
	time.Saturday:  0.40,
}

// Cyclic derives favorability from calendar cycles: the weekday and the
// position within a repeating 30-day cycle. The offset is seeded by the
// layer id so different cyclic slots produce distinct series.
type Cyclic struct {
	meta
	offset int
}

// NewCyclic returns the cyclic unit for the given layer slot.
func NewCyclic(id int, accuracy float64) *Cyclic {
	return &Cyclic{
		meta: meta{
			id:          id,
			name:        "Calendar Cycles",
			accuracy:    accuracy,
			methodology: "Weekday favorability table and 30-day cycle position",
			description: "Favorability from repeating calendar cycles: weekday influence and waxing/waning position within a 30-day cycle.",
			factors: []string{
				"weekday", "weekday_factor", "cycle_day", "cycle_phase", "cycle_factor",
			},
		},
		offset: id * 3,
	}
}

func (c *Cyclic) Features(date time.Time) (map[string]any, error) {
	cycleDay := c.cycleDay(date)
	return map[string]any{
		"weekday":        strings.ToLower(date.Weekday().String()),
		"weekday_factor": weekdayFactors[date.Weekday()],
		"cycle_day":      cycleDay,
		"cycle_phase":    cyclePhase(cycleDay),
		"cycle_factor":   cycleFactor(cycleDay),
	}, nil
}

func (c *Cyclic) Score(date time.Time) (float64, error) {
	cycleDay := c.cycleDay(date)
	score := 0.5*weekdayFactors[date.Weekday()] + 0.5*cycleFactor(cycleDay)
	return clamp01(score), nil
}

// cycleDay maps the date onto 1..cycleLength, offset by the layer seed.
func (c *Cyclic) cycleDay(date time.Time) int {
	days := int(date.Sub(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)).Hours() / 24)
	return ((days+c.offset)%cycleLength+cycleLength)%cycleLength + 1
}

// cyclePhase is "waxing" for the first half of the cycle, "waning" after.
func cyclePhase(cycleDay int) string {
	if cycleDay <= cycleLength/2 {
		return "waxing"
	}
	return "waning"
}

// cycleFactor peaks mid-cycle (the "full" day) and bottoms out at the
// cycle boundaries.
func cycleFactor(cycleDay int) float64 {
	mid := float64(cycleLength) / 2
	return 1 - math.Abs(mid-float64(cycleDay))/mid
}
