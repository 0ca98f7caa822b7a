package formatter

import (
	"math"
	"strconv"
	"time"

	"creepwatch/internal/scraper"
)

const (
	ColumnTimestamp = "timestamp"
	ColumnValue     = "value"
	ColumnElapsed   = "elapsed_s"
	ColumnStrain    = "strain_pct"
)

// Layout decides which derived columns follow timestamp and value.
type Layout struct {
	// ExperimentStart enables elapsed_s when set.
	ExperimentStart time.Time
	// OriginalLengthMM enables strain_pct when positive.
	OriginalLengthMM float64
}

// Columns returns the header row for l.
func Columns(l Layout) []string {
	cols := []string{ColumnTimestamp, ColumnValue}
	if !l.ExperimentStart.IsZero() {
		cols = append(cols, ColumnElapsed)
	}
	if l.OriginalLengthMM > 0 {
		cols = append(cols, ColumnStrain)
	}
	return cols
}

// Record renders a reading as one row matching Columns(l).
func Record(l Layout, r scraper.Reading) []string {
	rec := []string{r.Timestamp.UTC().Format(time.RFC3339), r.Value}
	if !l.ExperimentStart.IsZero() {
		rec = append(rec, strconv.FormatInt(int64(r.Timestamp.Sub(l.ExperimentStart)/time.Second), 10))
	}
	if l.OriginalLengthMM > 0 {
		strain := ""
		if r.IsNumeric {
			strain = strconv.FormatFloat(round3(r.Numeric/l.OriginalLengthMM*100), 'f', -1, 64)
		}
		rec = append(rec, strain)
	}
	return rec
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
