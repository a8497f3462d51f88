package domain

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Bar is one trading session of OHLCV data plus provider-supplied columns.
// Bars are immutable once produced; use WithIndicators to derive a copy.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`

	Indicators map[string]float64 `json:"indicators,omitempty"` // numeric provider columns (atr, st_dir, rsi, ...)
	Labels     map[string]string  `json:"labels,omitempty"`     // categorical provider columns (sector, market, ...)
}

// Built-in OHLCV column names.
const (
	ColumnOpen   = "open"
	ColumnHigh   = "high"
	ColumnLow    = "low"
	ColumnClose  = "close"
	ColumnVolume = "volume"
)

// Well-known indicator columns produced by the indicator providers.
const (
	ColumnATR           = "atr"
	ColumnST            = "st"
	ColumnSTDir         = "st_dir"
	ColumnJMA           = "jma"
	ColumnJMASlope      = "jma_slope"
	ColumnJMADirection  = "jma_direction"
	ColumnRSI           = "rsi"
	ColumnRSIFast       = "rsi_fast"
	ColumnTrendStrength = "trend_strength"
)

// LabelSector is the bar label holding the instrument's sector id.
const LabelSector = "sector"

// Indicator returns the named numeric indicator, or NaN when absent.
func (b Bar) Indicator(name string) float64 {
	if v, ok := b.Indicators[name]; ok {
		return v
	}
	return math.NaN()
}

// WithIndicators returns a copy of the bar with the given indicator values merged in.
func (b Bar) WithIndicators(values map[string]float64) Bar {
	out := b
	out.Indicators = make(map[string]float64, len(b.Indicators)+len(values))
	for k, v := range b.Indicators {
		out.Indicators[k] = v
	}
	for k, v := range values {
		out.Indicators[k] = v
	}
	if b.Labels != nil {
		out.Labels = make(map[string]string, len(b.Labels))
		for k, v := range b.Labels {
			out.Labels[k] = v
		}
	}
	return out
}

// WithLabels returns a copy of the bar with the given labels merged in.
func (b Bar) WithLabels(values map[string]string) Bar {
	out := b.WithIndicators(nil)
	if out.Labels == nil {
		out.Labels = make(map[string]string, len(values))
	}
	for k, v := range values {
		out.Labels[k] = v
	}
	return out
}

// HasValidPrices reports whether all OHLC values are finite and positive close.
func (b Bar) HasValidPrices() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Close > 0
}

// Series is an ordered bar sequence for one instrument (or index).
type Series struct {
	Instrument string `json:"instrument"`
	Bars       []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Clone returns a deep copy of the series.
func (s *Series) Clone() *Series {
	out := &Series{Instrument: s.Instrument, Bars: make([]Bar, len(s.Bars))}
	for i, b := range s.Bars {
		out.Bars[i] = b.WithIndicators(nil)
	}
	return out
}

// Closes returns the close prices in bar order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Tail returns a series view of the last n bars.
func (s *Series) Tail(n int) *Series {
	if n >= len(s.Bars) {
		return s
	}
	return &Series{Instrument: s.Instrument, Bars: s.Bars[len(s.Bars)-n:]}
}

// ColumnNames lists the built-in and provider column names present on any bar.
func (s *Series) ColumnNames() []string {
	seen := map[string]struct{}{}
	names := []string{ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume}
	for _, n := range names {
		seen[n] = struct{}{}
	}
	var extra []string
	for _, b := range s.Bars {
		for k := range b.Indicators {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
		for k := range b.Labels {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// Column is a resolved column of a series. Exactly one of Floats or Labels is set.
type Column struct {
	Name   string
	Floats []float64
	Labels []string // empty string means missing
}

// IsLabel reports whether the column is categorical.
func (c Column) IsLabel() bool {
	return c.Labels != nil
}

// Column resolves a column by exact name, then case-insensitively.
// Returns false when no bar carries a column of that name.
func (s *Series) Column(name string) (Column, bool) {
	resolved, ok := s.resolveName(name)
	if !ok {
		return Column{}, false
	}
	return s.extract(resolved), true
}

func (s *Series) resolveName(name string) (string, bool) {
	names := s.ColumnNames()
	for _, n := range names {
		if n == name {
			return n, true
		}
	}
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return n, true
		}
	}
	return "", false
}

func (s *Series) extract(name string) Column {
	switch name {
	case ColumnOpen, ColumnHigh, ColumnLow, ColumnClose, ColumnVolume:
		out := make([]float64, len(s.Bars))
		for i, b := range s.Bars {
			switch name {
			case ColumnOpen:
				out[i] = b.Open
			case ColumnHigh:
				out[i] = b.High
			case ColumnLow:
				out[i] = b.Low
			case ColumnClose:
				out[i] = b.Close
			default:
				out[i] = b.Volume
			}
		}
		return Column{Name: name, Floats: out}
	}

	isLabel := false
	for _, b := range s.Bars {
		if _, ok := b.Indicators[name]; ok {
			break
		}
		if _, ok := b.Labels[name]; ok {
			isLabel = true
			break
		}
	}

	if isLabel {
		out := make([]string, len(s.Bars))
		for i, b := range s.Bars {
			out[i] = b.Labels[name]
		}
		return Column{Name: name, Labels: out}
	}

	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Indicator(name)
	}
	return Column{Name: name, Floats: out}
}
