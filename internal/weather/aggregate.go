package weather

import (
	"io"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// snowRatio converts millimetres of precipitation to centimetres of snow.
const snowRatio = 1.5

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{year: y, month: m, day: d}
}

// Aggregate buckets samples by local calendar date and reduces each bucket to
// one DailyAggregate. Only the ForecastDays dates starting at ref's local date
// are kept; dates without samples are omitted, so fewer rows may come back
// near the forecast horizon. The result is sorted by date.
func Aggregate(samples []RawSample, ref time.Time, loc *time.Location, strategy Strategy) []DailyAggregate {
	if loc == nil {
		loc = time.UTC
	}

	today := ref.In(loc)
	days := make([]time.Time, ForecastDays)
	index := make(map[civilDate]int, ForecastDays)
	for i := range days {
		days[i] = time.Date(today.Year(), today.Month(), today.Day()+i, 0, 0, 0, 0, loc)
		index[dateOf(days[i])] = i
	}

	buckets := make([][]RawSample, ForecastDays)
	for _, s := range samples {
		if s.Time.IsZero() {
			continue
		}
		i, ok := index[dateOf(s.Time.In(loc))]
		if !ok {
			continue
		}
		buckets[i] = append(buckets[i], s)
	}

	result := make([]DailyAggregate, 0, ForecastDays)
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		var day DailyAggregate
		switch strategy {
		case StrategyNearestNoon:
			day = reduceNearestNoon(days[i], bucket, loc)
		default:
			day = reduceFullDay(bucket)
		}
		day.Date = days[i]
		day.Samples = len(bucket)
		day.SnowCM = SnowEstimate(day.TempMax, day.PrecipMM)
		result = append(result, day)
	}

	sort.SliceStable(result, func(a, b int) bool {
		return result[a].Date.Before(result[b].Date)
	})
	return result
}

// AggregatePayload decodes a locationforecast document and aggregates it. A
// payload that cannot be decoded yields an empty slice together with the
// decode error, never a partial result.
func AggregatePayload(r io.Reader, ref time.Time, loc *time.Location, strategy Strategy) ([]DailyAggregate, error) {
	samples, err := DecodeLocationForecast(r)
	if err != nil {
		return []DailyAggregate{}, err
	}
	return Aggregate(samples, ref, loc, strategy), nil
}

func reduceFullDay(bucket []RawSample) DailyAggregate {
	var (
		temps      []float64
		speeds     []float64
		directions []float64
		precip     float64
	)
	for _, s := range bucket {
		if s.AirTemperature != nil {
			temps = append(temps, *s.AirTemperature)
		}
		if s.WindSpeed != nil {
			speeds = append(speeds, *s.WindSpeed)
		}
		if s.WindFromDirection != nil {
			directions = append(directions, *s.WindFromDirection)
		}
		precip += PrecipitationAmount(s)
	}

	var day DailyAggregate
	if len(temps) > 0 {
		day.TempMin = intPtr(int(math.Round(floats.Min(temps))))
		day.TempMax = intPtr(int(math.Round(floats.Max(temps))))
	}
	if len(speeds) > 0 {
		day.WindSpeed = float64Ptr(round1(stat.Mean(speeds, nil)))
	}
	if len(directions) > 0 {
		// Positional middle of the series, not a circular median.
		day.WindDirection = float64Ptr(directions[len(directions)/2])
	}
	day.PrecipMM = round1(precip)
	return day
}

func reduceNearestNoon(date time.Time, bucket []RawSample, loc *time.Location) DailyAggregate {
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, loc)

	best := 0
	bestOffset := time.Duration(math.MaxInt64)
	for i, s := range bucket {
		offset := s.Time.Sub(noon)
		if offset < 0 {
			offset = -offset
		}
		if offset < bestOffset {
			best = i
			bestOffset = offset
		}
	}

	s := bucket[best]
	var day DailyAggregate
	if s.AirTemperature != nil {
		t := int(math.Round(*s.AirTemperature))
		day.TempMin = intPtr(t)
		day.TempMax = intPtr(t)
	}
	if s.WindSpeed != nil {
		day.WindSpeed = float64Ptr(round1(*s.WindSpeed))
	}
	if s.WindFromDirection != nil {
		day.WindDirection = float64Ptr(*s.WindFromDirection)
	}
	day.PrecipMM = round1(PrecipitationAmount(s))
	return day
}

// PrecipitationAmount returns the amount of the shortest accumulation window
// that carries a value. Overlapping windows are never added together.
func PrecipitationAmount(s RawSample) float64 {
	best := -1
	for i, w := range s.Precipitation {
		if w.Amount == nil {
			continue
		}
		if best < 0 || w.Hours < s.Precipitation[best].Hours {
			best = i
		}
	}
	if best < 0 {
		return 0
	}
	if amount := *s.Precipitation[best].Amount; amount > 0 {
		return amount
	}
	return 0
}

// SnowEstimate is a rough proxy: 1.5 cm of snow per mm of precipitation on
// days whose maximum stays at or below freezing. It is not a snow-water
// equivalent model.
func SnowEstimate(tempMax *int, precipMM float64) float64 {
	if tempMax == nil || *tempMax > 0 || precipMM <= 0 {
		return 0
	}
	return round1(precipMM * snowRatio)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
