package weather

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

var msk = time.FixedZone("MSK", 3*60*60)

func hourlySamples(start time.Time, hours int, fn func(i int, t time.Time) RawSample) []RawSample {
	samples := make([]RawSample, 0, hours)
	for i := 0; i < hours; i++ {
		t := start.Add(time.Duration(i) * time.Hour)
		s := fn(i, t)
		s.Time = t
		samples = append(samples, s)
	}
	return samples
}

func constantSample(int, time.Time) RawSample {
	return RawSample{
		AirTemperature:    float64Ptr(5),
		WindSpeed:         float64Ptr(3),
		WindFromDirection: float64Ptr(90),
		Precipitation:     []Accumulation{{Hours: 1, Amount: float64Ptr(0)}},
	}
}

func TestAggregate_FiveConstantDays(t *testing.T) {
	ref := time.Date(2024, 3, 10, 9, 30, 0, 0, msk)
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, msk)
	samples := hourlySamples(start, 5*24, constantSample)

	days := Aggregate(samples, ref, msk, StrategyFullDay)
	if len(days) != 5 {
		t.Fatalf("Expected 5 days, got %d", len(days))
	}

	for i, d := range days {
		want := time.Date(2024, 3, 10+i, 0, 0, 0, 0, msk)
		if !d.Date.Equal(want) {
			t.Errorf("day %d: expected date %s, got %s", i, want, d.Date)
		}
		if d.TempMin == nil || d.TempMax == nil || *d.TempMin != 5 || *d.TempMax != 5 {
			t.Errorf("day %d: expected temps 5/5, got %v/%v", i, d.TempMin, d.TempMax)
		}
		if d.WindDirection == nil || *d.WindDirection != 90 {
			t.Errorf("day %d: expected wind direction 90, got %v", i, d.WindDirection)
		}
		if d.WindSpeed == nil || *d.WindSpeed != 3 {
			t.Errorf("day %d: expected wind speed 3, got %v", i, d.WindSpeed)
		}
		if d.PrecipMM != 0 || d.SnowCM != 0 {
			t.Errorf("day %d: expected no precipitation, got %.1f mm / %.1f cm", i, d.PrecipMM, d.SnowCM)
		}
		if d.Samples != 24 {
			t.Errorf("day %d: expected 24 samples, got %d", i, d.Samples)
		}
	}
}

func TestAggregate_WindowBounds(t *testing.T) {
	ref := time.Date(2024, 3, 10, 23, 0, 0, 0, msk)
	// Starts two days before today and runs ten days in UTC.
	start := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	samples := hourlySamples(start, 10*24, constantSample)

	days := Aggregate(samples, ref, msk, StrategyFullDay)
	if len(days) > ForecastDays {
		t.Fatalf("Expected at most %d days, got %d", ForecastDays, len(days))
	}

	first := time.Date(2024, 3, 10, 0, 0, 0, 0, msk)
	last := first.AddDate(0, 0, ForecastDays-1)
	for i, d := range days {
		if d.Date.Before(first) || d.Date.After(last) {
			t.Errorf("day %d outside window: %s", i, d.Date)
		}
		if i > 0 && !days[i-1].Date.Before(d.Date) {
			t.Errorf("days not ascending at %d", i)
		}
	}
}

func TestAggregate_OmitsEmptyDates(t *testing.T) {
	ref := time.Date(2024, 3, 10, 12, 0, 0, 0, msk)
	samples := []RawSample{
		{Time: time.Date(2024, 3, 10, 15, 0, 0, 0, msk), AirTemperature: float64Ptr(1)},
		{Time: time.Date(2024, 3, 12, 15, 0, 0, 0, msk), AirTemperature: float64Ptr(2)},
		{Time: time.Date(2024, 3, 20, 15, 0, 0, 0, msk), AirTemperature: float64Ptr(3)},
		{AirTemperature: float64Ptr(99)},
	}

	days := Aggregate(samples, ref, msk, StrategyFullDay)
	if len(days) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(days))
	}
	if days[0].Date.Day() != 10 || days[1].Date.Day() != 12 {
		t.Errorf("unexpected dates %s, %s", days[0].Date, days[1].Date)
	}
}

func TestAggregate_FullDayReduction(t *testing.T) {
	ref := time.Date(2024, 1, 5, 8, 0, 0, 0, msk)
	day := time.Date(2024, 1, 5, 0, 0, 0, 0, msk)
	samples := []RawSample{
		{Time: day.Add(1 * time.Hour), AirTemperature: float64Ptr(-3.6), WindSpeed: float64Ptr(2), WindFromDirection: float64Ptr(10),
			Precipitation: []Accumulation{{Hours: 1, Amount: float64Ptr(0.4)}, {Hours: 6, Amount: float64Ptr(2.0)}}},
		{Time: day.Add(2 * time.Hour), AirTemperature: float64Ptr(-0.4), WindSpeed: float64Ptr(3), WindFromDirection: float64Ptr(200),
			Precipitation: []Accumulation{{Hours: 6, Amount: float64Ptr(1.2)}, {Hours: 12, Amount: float64Ptr(5)}}},
		{Time: day.Add(3 * time.Hour), AirTemperature: nil, WindSpeed: float64Ptr(4.5), WindFromDirection: float64Ptr(300),
			Precipitation: []Accumulation{{Hours: 12, Amount: nil}}},
	}

	days := Aggregate(samples, ref, msk, StrategyFullDay)
	if len(days) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(days))
	}
	d := days[0]

	if *d.TempMin != -4 || *d.TempMax != 0 {
		t.Errorf("Expected temps -4/0, got %d/%d", *d.TempMin, *d.TempMax)
	}
	if *d.WindSpeed != 3.2 {
		t.Errorf("Expected mean wind 3.2, got %v", *d.WindSpeed)
	}
	if *d.WindDirection != 200 {
		t.Errorf("Expected middle direction 200, got %v", *d.WindDirection)
	}
	if d.PrecipMM != 1.6 {
		t.Errorf("Expected precipitation 1.6, got %v", d.PrecipMM)
	}
	if d.SnowCM != 2.4 {
		t.Errorf("Expected snow 2.4, got %v", d.SnowCM)
	}
}

func TestAggregate_MissingTemperatures(t *testing.T) {
	ref := time.Date(2024, 6, 1, 8, 0, 0, 0, msk)
	samples := []RawSample{
		{Time: time.Date(2024, 6, 1, 10, 0, 0, 0, msk), WindSpeed: float64Ptr(1)},
	}

	days := Aggregate(samples, ref, msk, StrategyFullDay)
	if len(days) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(days))
	}
	if days[0].TempMin != nil || days[0].TempMax != nil {
		t.Errorf("Expected absent temperatures, got %v/%v", days[0].TempMin, days[0].TempMax)
	}
	if days[0].WindDirection != nil {
		t.Errorf("Expected absent direction, got %v", *days[0].WindDirection)
	}
	if days[0].SnowCM != 0 {
		t.Errorf("Expected no snow without temperature, got %v", days[0].SnowCM)
	}
}

func TestAggregate_NearestNoon(t *testing.T) {
	ref := time.Date(2024, 3, 10, 6, 0, 0, 0, msk)
	day := time.Date(2024, 3, 10, 0, 0, 0, 0, msk)
	samples := []RawSample{
		{Time: day.Add(9 * time.Hour), AirTemperature: float64Ptr(1)},
		{Time: day.Add(11 * time.Hour), AirTemperature: float64Ptr(2.6), WindSpeed: float64Ptr(4.04), WindFromDirection: float64Ptr(45),
			Precipitation: []Accumulation{{Hours: 6, Amount: float64Ptr(3)}}},
		{Time: day.Add(13 * time.Hour), AirTemperature: float64Ptr(7)},
		{Time: day.Add(18 * time.Hour), AirTemperature: float64Ptr(-5)},
	}

	days := Aggregate(samples, ref, msk, StrategyNearestNoon)
	if len(days) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(days))
	}
	d := days[0]
	// 11:00 and 13:00 tie; the earlier sample in input order wins.
	if *d.TempMin != 3 || *d.TempMax != 3 {
		t.Errorf("Expected 3/3, got %d/%d", *d.TempMin, *d.TempMax)
	}
	if *d.WindSpeed != 4 {
		t.Errorf("Expected wind 4, got %v", *d.WindSpeed)
	}
	if *d.WindDirection != 45 {
		t.Errorf("Expected direction 45, got %v", *d.WindDirection)
	}
	if d.PrecipMM != 3 {
		t.Errorf("Expected precipitation 3, got %v", d.PrecipMM)
	}
	if d.Samples != 4 {
		t.Errorf("Expected 4 samples, got %d", d.Samples)
	}
}

func TestAggregate_Properties(t *testing.T) {
	ref := time.Date(2024, 12, 30, 20, 0, 0, 0, msk)
	start := time.Date(2024, 12, 29, 0, 0, 0, 0, time.UTC)
	samples := hourlySamples(start, 9*24, func(i int, _ time.Time) RawSample {
		temp := float64(i%17) - 8.5
		amount := float64(i%5) * 0.3
		return RawSample{
			AirTemperature:    float64Ptr(temp),
			WindSpeed:         float64Ptr(float64(i % 7)),
			WindFromDirection: float64Ptr(float64((i * 37) % 360)),
			Precipitation:     []Accumulation{{Hours: 1, Amount: float64Ptr(amount)}},
		}
	})

	for _, strategy := range []Strategy{StrategyFullDay, StrategyNearestNoon} {
		days := Aggregate(samples, ref, msk, strategy)
		again := Aggregate(samples, ref, msk, strategy)
		if !reflect.DeepEqual(days, again) {
			t.Errorf("%s: repeated aggregation differs", strategy)
		}
		if len(days) > ForecastDays {
			t.Errorf("%s: %d days returned", strategy, len(days))
		}
		for _, d := range days {
			if d.TempMin != nil && d.TempMax != nil && *d.TempMin > *d.TempMax {
				t.Errorf("%s: min %d above max %d", strategy, *d.TempMin, *d.TempMax)
			}
			if d.PrecipMM < 0 || d.SnowCM < 0 {
				t.Errorf("%s: negative amounts %v/%v", strategy, d.PrecipMM, d.SnowCM)
			}
		}
	}
}

func TestPrecipitationAmount_ShortestWindowWins(t *testing.T) {
	tests := []struct {
		name    string
		windows []Accumulation
		want    float64
	}{
		{"none", nil, 0},
		{"all absent", []Accumulation{{Hours: 1}, {Hours: 6}}, 0},
		{"one hour", []Accumulation{{Hours: 1, Amount: float64Ptr(0.5)}, {Hours: 6, Amount: float64Ptr(4)}}, 0.5},
		{"falls through to six", []Accumulation{{Hours: 1}, {Hours: 6, Amount: float64Ptr(4)}, {Hours: 12, Amount: float64Ptr(9)}}, 4},
		{"unordered", []Accumulation{{Hours: 12, Amount: float64Ptr(9)}, {Hours: 6, Amount: float64Ptr(4)}}, 4},
		{"zero is present", []Accumulation{{Hours: 1, Amount: float64Ptr(0)}, {Hours: 6, Amount: float64Ptr(4)}}, 0},
		{"negative clamps", []Accumulation{{Hours: 1, Amount: float64Ptr(-1)}}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrecipitationAmount(RawSample{Precipitation: tt.windows})
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestSnowEstimate(t *testing.T) {
	if got := SnowEstimate(intPtr(-3), 2.0); got != 3.0 {
		t.Errorf("Expected 3.0, got %v", got)
	}
	if got := SnowEstimate(intPtr(0), 2.0); got != 3.0 {
		t.Errorf("Expected 3.0 at zero, got %v", got)
	}
	if got := SnowEstimate(intPtr(1), 2.0); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
	if got := SnowEstimate(nil, 2.0); got != 0 {
		t.Errorf("Expected 0 without temperature, got %v", got)
	}
}

func TestAggregatePayload_Malformed(t *testing.T) {
	ref := time.Date(2024, 3, 10, 9, 0, 0, 0, msk)
	for _, body := range []string{`not json`, `{"type":"Feature"}`, `{"properties":{}}`} {
		days, err := AggregatePayload(strings.NewReader(body), ref, msk, StrategyFullDay)
		if err == nil {
			t.Errorf("%q: expected error", body)
		}
		if days == nil || len(days) != 0 {
			t.Errorf("%q: expected empty slice, got %v", body, days)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyFullDay {
		t.Errorf("Expected full_day default, got %q (%v)", s, err)
	}
	if s, err := ParseStrategy("Nearest-Noon"); err != nil || s != StrategyNearestNoon {
		t.Errorf("Expected nearest_noon, got %q (%v)", s, err)
	}
	if _, err := ParseStrategy("median"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}
