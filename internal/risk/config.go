// Package risk implements the circuit breaker and exposure gate consulted
// before a new position is opened.
package risk

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects which checks the gate applies.
type Mode string

// Gate modes
const (
	ModeBacktest Mode = "backtest" // weekly floor, sector caps and calendar rollover skipped
	ModeLive     Mode = "live"
)

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBacktest:
		return ModeBacktest, nil
	case ModeLive:
		return ModeLive, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// ResetPolicy controls how period counters reset during a backtest.
type ResetPolicy string

// Reset policies
const (
	ResetNone     ResetPolicy = "none"     // caller resets explicitly
	ResetCalendar ResetPolicy = "calendar" // engine resets on bar-date rollover
)

// Config errors
var (
	ErrInvalidMode        = errors.New("invalid risk mode")
	ErrInvalidResetPolicy = errors.New("invalid risk reset policy")
	ErrInvalidLossFloor   = errors.New("loss floors must be negative")
	ErrInvalidLimit       = errors.New("position limits must be positive")
	ErrInvalidShare       = errors.New("exposure caps must be in (0, 1]")
)

// Config holds gate limits. Loss floors and caps are fractions.
type Config struct {
	MaxDailyLoss         float64     `yaml:"max_daily_loss" json:"max_daily_loss"`
	MaxWeeklyLoss        float64     `yaml:"max_weekly_loss" json:"max_weekly_loss"`
	MaxMonthlyLoss       float64     `yaml:"max_monthly_loss" json:"max_monthly_loss"`
	MaxConsecutiveLosses int         `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	MaxPositions         int         `yaml:"max_positions" json:"max_positions"`
	MaxPerInstrument     float64     `yaml:"max_per_instrument" json:"max_per_instrument"`
	MaxPerSector         float64     `yaml:"max_per_sector" json:"max_per_sector"`
	Mode                 Mode        `yaml:"mode" json:"mode"`
	ResetPolicy          ResetPolicy `yaml:"reset_policy" json:"reset_policy"`
}

// DefaultConfig returns the default limits in backtest mode.
func DefaultConfig() Config {
	return Config{
		MaxDailyLoss:         -0.05,
		MaxWeeklyLoss:        -0.10,
		MaxMonthlyLoss:       -0.20,
		MaxConsecutiveLosses: 3,
		MaxPositions:         10,
		MaxPerInstrument:     1.0,
		MaxPerSector:         1.0,
		Mode:                 ModeBacktest,
		ResetPolicy:          ResetNone,
	}
}

// Validate checks the limits.
func (c Config) Validate() error {
	if c.MaxDailyLoss >= 0 || c.MaxWeeklyLoss >= 0 || c.MaxMonthlyLoss >= 0 {
		return ErrInvalidLossFloor
	}
	if c.MaxConsecutiveLosses <= 0 || c.MaxPositions <= 0 {
		return ErrInvalidLimit
	}
	if c.MaxPerInstrument <= 0 || c.MaxPerInstrument > 1 || c.MaxPerSector <= 0 || c.MaxPerSector > 1 {
		return ErrInvalidShare
	}
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	switch c.ResetPolicy {
	case "", ResetNone, ResetCalendar:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidResetPolicy, c.ResetPolicy)
	}
	return nil
}
