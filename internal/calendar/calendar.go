// Package calendar loads and generates the day-keyed operating threshold
// table. The controller consumes it only as a date lookup feeding the
// detector's dynamic latency ceiling.
package calendar

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DateLayout keys table rows.
const DateLayout = "2006-01-02"

// Day is one calendar row of operating thresholds.
type Day struct {
	Date           string
	Context        string
	MaxFailureRate float64
	MaxLatencyMS   float64
	PeakStartHour  int
	PeakEndHour    int
}

// Table is the date-keyed threshold lookup.
type Table struct {
	days map[string]Day
}

// Load reads a threshold CSV. Callers treat a missing file as non-fatal and
// fall back to default thresholds.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open calendar: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("calendar %s has no data rows", path)
	}

	table := &Table{days: make(map[string]Day, len(records)-1)}
	for i, record := range records[1:] {
		if len(record) != 6 {
			return nil, fmt.Errorf("calendar row %d: expected 6 columns, got %d", i+2, len(record))
		}
		failRate, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("calendar row %d: max failure rate: %w", i+2, err)
		}
		latency, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, fmt.Errorf("calendar row %d: max latency: %w", i+2, err)
		}
		peakStart, err := strconv.Atoi(record[4])
		if err != nil {
			return nil, fmt.Errorf("calendar row %d: peak start: %w", i+2, err)
		}
		peakEnd, err := strconv.Atoi(record[5])
		if err != nil {
			return nil, fmt.Errorf("calendar row %d: peak end: %w", i+2, err)
		}
		day := Day{
			Date:           record[0],
			Context:        record[1],
			MaxFailureRate: failRate,
			MaxLatencyMS:   latency,
			PeakStartHour:  peakStart,
			PeakEndHour:    peakEnd,
		}
		table.days[day.Date] = day
	}
	return table, nil
}

// Lookup returns the row for the given date.
func (t *Table) Lookup(date time.Time) (Day, bool) {
	if t == nil {
		return Day{}, false
	}
	day, ok := t.days[date.Format(DateLayout)]
	return day, ok
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.days)
}

type sale struct {
	start    string
	days     int
	context  string
}

// Generate builds a full-year threshold table by layering contexts in
// priority order: salary week, month end, weekend rush, sales windows,
// pre-festival rush, then festival days on top.
func Generate(year int) []Day {
	festivals := map[string]string{
		dateKey(year, time.January, 26):  "Republic Day",
		dateKey(year, time.March, 25):    "Holi",
		dateKey(year, time.August, 15):   "Independence Day",
		dateKey(year, time.October, 2):   "Gandhi Jayanti",
		dateKey(year, time.October, 20):  "Dussehra",
		dateKey(year, time.November, 1):  "Diwali",
		dateKey(year, time.December, 25): "Christmas",
	}
	sales := []sale{
		{start: dateKey(year, time.January, 20), days: 6, context: "SALE_Republic_Day_Sale"},
		{start: dateKey(year, time.August, 8), days: 7, context: "SALE_Freedom_Sale"},
		{start: dateKey(year, time.October, 5), days: 25, context: "SALE_Great_Indian_Festival"},
	}

	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC)

	var out []Day
	for current := start; current.Before(end); current = current.AddDate(0, 0, 1) {
		day := Day{
			Date:           current.Format(DateLayout),
			Context:        "Normal_Day",
			MaxFailureRate: 0.05,
			MaxLatencyMS:   800,
			PeakStartHour:  18,
			PeakEndHour:    22,
		}

		switch dom := current.Day(); {
		case dom >= 1 && dom <= 7:
			day.Context = "Salary_Week"
			day.MaxFailureRate = 0.12
			day.MaxLatencyMS = 1200
			day.PeakStartHour, day.PeakEndHour = 10, 14
		case dom >= 25:
			day.Context = "Month_End"
			day.MaxFailureRate = 0.08
			day.MaxLatencyMS = 1000
			day.PeakStartHour, day.PeakEndHour = 19, 23
		}

		if isWeekendRush(current.Weekday()) && day.Context != "Salary_Week" {
			day.Context = "Weekend_Rush"
			day.MaxFailureRate = 0.10
			day.MaxLatencyMS = 950
			day.PeakStartHour, day.PeakEndHour = 17, 23
		}

		for _, s := range sales {
			saleStart, _ := time.Parse(DateLayout, s.start)
			if !current.Before(saleStart) && !current.After(saleStart.AddDate(0, 0, s.days)) {
				day.Context = s.context
				day.MaxFailureRate = 0.18
				day.MaxLatencyMS = 1800
				day.PeakStartHour, day.PeakEndHour = 12, 23
				break
			}
		}

		if !isSaleContext(day.Context) {
			for festival := range festivals {
				festivalDate, _ := time.Parse(DateLayout, festival)
				delta := int(festivalDate.Sub(current).Hours() / 24)
				if delta > 0 && delta <= 5 {
					day.Context = "Pre_Festival_Rush"
					day.MaxFailureRate = 0.15
					day.MaxLatencyMS = 1500
					day.PeakStartHour, day.PeakEndHour = 18, 23
					break
				}
			}
		}

		if name, ok := festivals[day.Date]; ok {
			day.Context = "FESTIVAL_" + name
			day.MaxFailureRate = 0.25
			day.MaxLatencyMS = 2500
			day.PeakStartHour, day.PeakEndHour = 9, 23
		}

		out = append(out, day)
	}
	return out
}

// Write persists generated rows as the CSV consumed by Load.
func Write(path string, days []Day) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create calendar: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Date", "Context", "Max_Failure_Rate", "Max_Latency", "Peak_Start", "Peak_End"}); err != nil {
		return fmt.Errorf("write calendar header: %w", err)
	}
	for _, day := range days {
		record := []string{
			day.Date,
			day.Context,
			strconv.FormatFloat(day.MaxFailureRate, 'g', -1, 64),
			strconv.FormatFloat(day.MaxLatencyMS, 'g', -1, 64),
			strconv.Itoa(day.PeakStartHour),
			strconv.Itoa(day.PeakEndHour),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write calendar row %s: %w", day.Date, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush calendar: %w", err)
	}
	return nil
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(DateLayout)
}

func isWeekendRush(wd time.Weekday) bool {
	return wd == time.Friday || wd == time.Saturday || wd == time.Sunday
}

func isSaleContext(context string) bool {
	return len(context) >= 5 && context[:5] == "SALE_"
}
