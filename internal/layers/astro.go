package layers

import (
	"math"
	"time"
)

// DefaultLatitude is used when no observer latitude is configured.
const DefaultLatitude = 23.0

// Weights for the astronomical unit's built-in score. They sum to 1.0.
const (
	weightSolar     = 0.35
	weightLunar     = 0.30
	weightSeasonal  = 0.20
	weightDayLength = 0.15
)

// synodicMonth is the mean lunar cycle length in days.
const synodicMonth = 29.530588853

// lunarEpoch is a reference new moon (2000-01-06 18:14 UTC).
var lunarEpoch = time.Date(2000, 1, 6, 18, 14, 0, 0, time.UTC)

// Astronomical derives favorability from closed-form solar and lunar
// approximations: no ephemeris tables, every value is a pure function of
// the date and the configured latitude.
type Astronomical struct {
	meta
	latitude float64
}

// NewAstronomical returns the astronomical unit for the given layer slot.
func NewAstronomical(id int, accuracy float64) *Astronomical {
	return &Astronomical{
		meta: meta{
			id:          id,
			name:        "Astronomical Facts",
			accuracy:    accuracy,
			methodology: "Closed-form solar declination, lunar phase, day length and seasonal alignment",
			description: "Favorability from mathematically verifiable astronomical factors: solar strength, lunar phase and illumination, seasonal position, and day length.",
			factors: []string{
				"solar_strength", "solar_declination", "lunar_phase",
				"lunar_strength", "day_length_factor", "seasonal_factor", "season",
			},
		},
		latitude: DefaultLatitude,
	}
}

func (a *Astronomical) Features(date time.Time) (map[string]any, error) {
	day := float64(date.YearDay())
	decl := solarDeclination(day)

	return map[string]any{
		"solar_strength":    a.solarStrength(decl),
		"solar_declination": decl,
		"lunar_phase":       lunarPhase(date),
		"lunar_strength":    lunarStrength(date),
		"day_length_factor": a.dayLengthFactor(decl),
		"seasonal_factor":   seasonalFactor(day),
		"season":            season(date.Month()),
	}, nil
}

func (a *Astronomical) Score(date time.Time) (float64, error) {
	day := float64(date.YearDay())
	decl := solarDeclination(day)

	score := a.solarStrength(decl)*weightSolar +
		lunarStrength(date)*weightLunar +
		seasonalFactor(day)*weightSeasonal +
		a.dayLengthFactor(decl)*weightDayLength
	return clamp01(score), nil
}

// solarDeclination approximates the sun's declination in degrees for the
// given day of year (Cooper's formula).
func solarDeclination(dayOfYear float64) float64 {
	return -23.44 * math.Cos(2*math.Pi/365.25*(dayOfYear+10))
}

// solarStrength is the normalized noon solar elevation at the observer
// latitude: 1.0 with the sun overhead, 0.0 with the sun on or below the
// horizon.
func (a *Astronomical) solarStrength(declDeg float64) float64 {
	lat := a.latitude * math.Pi / 180
	decl := declDeg * math.Pi / 180
	elevation := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)
	return clamp01(elevation)
}

// lunarPhase returns the fraction of the synodic cycle elapsed since new
// moon: 0 = new, 0.5 = full.
func lunarPhase(date time.Time) float64 {
	days := date.Sub(lunarEpoch).Hours() / 24
	phase := math.Mod(days, synodicMonth) / synodicMonth
	if phase < 0 {
		phase += 1
	}
	return phase
}

// lunarStrength is the illuminated fraction: 0 at new moon, 1 at full.
func lunarStrength(date time.Time) float64 {
	return (1 - math.Cos(2*math.Pi*lunarPhase(date))) / 2
}

// dayLengthFactor is daylight hours normalized by 24, from the sunset
// hour angle. Polar day and night clamp to 1 and 0.
func (a *Astronomical) dayLengthFactor(declDeg float64) float64 {
	lat := a.latitude * math.Pi / 180
	decl := declDeg * math.Pi / 180
	cosOmega := -math.Tan(lat) * math.Tan(decl)
	if cosOmega <= -1 {
		return 1
	}
	if cosOmega >= 1 {
		return 0
	}
	omega := math.Acos(cosOmega)
	hours := 2 * omega * 180 / math.Pi / 15
	return hours / 24
}

// seasonalFactor peaks around the spring equinox and bottoms out in
// autumn, a smooth annual wave in [0,1].
func seasonalFactor(dayOfYear float64) float64 {
	return 0.5 + 0.5*math.Sin(2*math.Pi*(dayOfYear-80)/365.25)
}

func season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "winter"
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	default:
		return "autumn"
	}
}
