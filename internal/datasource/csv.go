package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"regime-backtest-lab/internal/domain"
	"regime-backtest-lab/internal/storage"
)

// CSV errors
var (
	ErrMissingColumn = errors.New("csv missing required column")
	ErrBadRow        = errors.New("malformed csv row")
)

var dateLayouts = []string{"2006-01-02", "20060102", "2006/01/02"}

var ohlcv = []string{
	domain.ColumnOpen, domain.ColumnHigh, domain.ColumnLow, domain.ColumnClose, domain.ColumnVolume,
}

// LoadCSV parses daily bars with a header row of
// date,open,high,low,close,volume[,indicator...]. Header names are
// case-insensitive. Extra columns become indicator points; empty cells are
// skipped. Rows are returned sorted by date.
func LoadCSV(r io.Reader, instrument string) ([]domain.Bar, []*domain.IndicatorPoint, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range append([]string{"date"}, ohlcv...) {
		if _, ok := idx[col]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var extras []string
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if name == "date" || isOHLCV(name) {
			continue
		}
		extras = append(extras, name)
		idx[name] = i
	}

	var bars []domain.Bar
	var points []*domain.IndicatorPoint
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrBadRow, line, err)
		}

		date, err := parseDate(rec[idx["date"]])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: line %d: %v", ErrBadRow, line, err)
		}
		vals := make([]float64, len(ohlcv))
		for i, col := range ohlcv {
			v, err := parseFloat(rec[idx[col]])
			if err != nil {
				return nil, nil, fmt.Errorf("%w: line %d %s: %v", ErrBadRow, line, col, err)
			}
			vals[i] = v
		}
		bars = append(bars, domain.Bar{
			Date: date, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})

		for _, name := range extras {
			cell := strings.TrimSpace(rec[idx[name]])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				continue // categorical columns are not indicators
			}
			points = append(points, &domain.IndicatorPoint{Instrument: instrument, Date: date, Name: name, Value: v})
		}
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, points, nil
}

// SeedDir loads every *.csv file in dir into the stores. The file name
// without extension is the instrument id. indicators may be nil.
// Returns the bar count per instrument.
func SeedDir(ctx context.Context, dir string, bars storage.BarStore, indicators storage.IndicatorStore) (map[string]int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	counts := make(map[string]int, len(files))
	for _, path := range files {
		instrument := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

		f, err := os.Open(path)
		if err != nil {
			return counts, err
		}
		b, pts, err := LoadCSV(f, instrument)
		f.Close()
		if err != nil {
			return counts, fmt.Errorf("%s: %w", path, err)
		}

		if err := bars.InsertBulk(ctx, instrument, b); err != nil {
			return counts, fmt.Errorf("store bars for %s: %w", instrument, err)
		}
		if indicators != nil && len(pts) > 0 {
			if err := indicators.InsertBulk(ctx, pts); err != nil {
				return counts, fmt.Errorf("store indicators for %s: %w", instrument, err)
			}
		}
		counts[instrument] = len(b)
	}
	return counts, nil
}

func isOHLCV(name string) bool {
	for _, c := range ohlcv {
		if c == name {
			return true
		}
	}
	return false
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// parseFloat treats an empty cell as NaN so invalid bars can be dropped
// downstream instead of failing the load.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
