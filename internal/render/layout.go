package render

import (
	"fmt"
	"image/color"
	"strconv"
	"time"

	"forecast-card/internal/weather"
)

const (
	placeholder = "?"
	noAmount    = "-"
	todayLabel  = "Today"
	dateLayout  = "Mon 02 Jan"
)

var (
	backgroundColor  = color.RGBA{220, 235, 255, 255}
	defaultColor     = color.RGBA{0, 0, 0, 255}
	warmColor        = color.RGBA{200, 0, 0, 255}
	coolColor        = color.RGBA{0, 0, 200, 255}
	rainColor        = color.RGBA{200, 0, 0, 255}
	snowColor        = color.RGBA{0, 0, 200, 255}
	ruleColor        = color.RGBA{160, 160, 160, 255}
	attributionColor = color.RGBA{80, 80, 80, 255}
)

// Headers are the column titles, left to right.
var Headers = [columnCount]string{"Date", "Temp range (°C)", "Wind", "Rain (mm)", "Snow (cm)"}

const columnCount = 5

const (
	ColumnDate = iota
	ColumnTemperature
	ColumnWind
	ColumnRain
	ColumnSnow
)

// Segment is a run of text drawn in one colour.
type Segment struct {
	Text  string
	Color color.RGBA
}

// Cell is drawn as its segments side by side, centred as a whole.
type Cell []Segment

func (c Cell) Text() string {
	s := ""
	for _, seg := range c {
		s += seg.Text
	}
	return s
}

type Row struct {
	Date  time.Time
	Cells [columnCount]Cell
}

// Layout turns aggregates into table rows. Missing values become "?", zero
// rain or snow becomes "-".
func Layout(days []weather.DailyAggregate, ref time.Time, loc *time.Location) []Row {
	if loc == nil {
		loc = time.UTC
	}
	ty, tm, td := ref.In(loc).Date()

	rows := make([]Row, 0, len(days))
	for _, d := range days {
		date := d.Date.In(loc)
		y, m, dd := date.Date()

		label := date.Format(dateLayout)
		if y == ty && m == tm && dd == td {
			label = todayLabel
		}

		var row Row
		row.Date = d.Date
		row.Cells[ColumnDate] = Cell{{Text: label, Color: defaultColor}}
		row.Cells[ColumnTemperature] = temperatureCell(d.TempMax, d.TempMin)
		row.Cells[ColumnWind] = Cell{{Text: windText(d.WindDirection, d.WindSpeed), Color: defaultColor}}
		row.Cells[ColumnRain] = amountCell(d.PrecipMM, rainColor)
		row.Cells[ColumnSnow] = amountCell(d.SnowCM, snowColor)
		rows = append(rows, row)
	}
	return rows
}

func temperatureCell(hi, lo *int) Cell {
	if hi == nil || lo == nil {
		return Cell{{Text: placeholder, Color: defaultColor}}
	}
	return Cell{
		{Text: strconv.Itoa(*hi), Color: temperatureColor(*hi)},
		{Text: "/", Color: defaultColor},
		{Text: strconv.Itoa(*lo), Color: temperatureColor(*lo)},
	}
}

func temperatureColor(v int) color.RGBA {
	switch {
	case v > 0:
		return warmColor
	case v < 0:
		return coolColor
	default:
		return defaultColor
	}
}

func windText(direction, speed *float64) string {
	s := placeholder
	if speed != nil {
		s = fmt.Sprintf("%.1f", *speed)
	}
	return weather.CompassPoint(direction) + " " + s
}

func amountCell(v float64, c color.RGBA) Cell {
	if v == 0 {
		return Cell{{Text: noAmount, Color: defaultColor}}
	}
	return Cell{{Text: fmt.Sprintf("%.1f", v), Color: c}}
}
