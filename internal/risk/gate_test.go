package risk

import (
	"testing"
	"time"

	"regime-backtest-lab/internal/domain"
)

func loss(instrument string, pct float64) *domain.TradeRecord {
	return &domain.TradeRecord{Instrument: instrument, PnLPct: pct}
}

func TestGate_BreakerPersistsUntilReset(t *testing.T) {
	trips := 0
	g := NewGate(Options{
		Config: DefaultConfig(),
		OnTrip: func(RejectReason) { trips++ },
	})
	intent := OrderIntent{Instrument: "005930", CapitalShare: 0.1}

	for i := 0; i < 3; i++ {
		g.OnPositionOpened("005930", "", 0.1)
		g.OnTradeClosed(loss("005930", -0.001))
	}

	d := g.Check(intent)
	if d.Allowed {
		t.Fatal("expected rejection after 3 consecutive losses")
	}
	if d.Reason != RejectConsecutiveLosses {
		t.Errorf("expected %s, got %s", RejectConsecutiveLosses, d.Reason)
	}

	for i := 0; i < 5; i++ {
		d = g.Check(intent)
		if d.Allowed {
			t.Fatalf("check %d: breaker released without reset", i)
		}
		if d.Reason != RejectBreakerActive {
			t.Errorf("check %d: expected %s, got %s", i, RejectBreakerActive, d.Reason)
		}
	}
	if trips != 1 {
		t.Errorf("expected one trip callback, got %d", trips)
	}

	g.ResetMonthly()
	if d := g.Check(intent); !d.Allowed {
		t.Errorf("expected admission after monthly reset, got %s", d.Reason)
	}
}

func TestGate_WinResetsStreak(t *testing.T) {
	g := NewGate(Options{Config: DefaultConfig()})
	g.OnTradeClosed(loss("a", -0.001))
	g.OnTradeClosed(loss("a", -0.001))
	g.OnTradeClosed(loss("a", 0.002))
	g.OnTradeClosed(loss("a", -0.001))

	if got := g.Snapshot().ConsecutiveLosses; got != 1 {
		t.Errorf("expected streak 1, got %d", got)
	}
	if d := g.Check(OrderIntent{Instrument: "a"}); !d.Allowed {
		t.Errorf("unexpected rejection: %s", d.Reason)
	}
}

func TestGate_DailyResetRespectsMonthlyFloor(t *testing.T) {
	g := NewGate(Options{Config: DefaultConfig()})

	// -6% today: daily floor breached, monthly fine.
	g.OnTradeClosed(loss("a", -0.06))
	g.OnTradeClosed(loss("a", 0.0))
	if d := g.Check(OrderIntent{}); d.Reason != RejectDailyLoss {
		t.Fatalf("expected daily loss rejection, got %+v", d)
	}
	g.ResetDaily()
	if d := g.Check(OrderIntent{}); !d.Allowed {
		t.Fatalf("daily reset should clear breaker, got %s", d.Reason)
	}

	// Push the month below -20%: a daily reset must not clear it.
	g.OnTradeClosed(loss("a", -0.16))
	g.OnTradeClosed(loss("a", 0.0))
	if d := g.Check(OrderIntent{}); d.Allowed {
		t.Fatal("expected rejection")
	}
	g.ResetDaily()
	if d := g.Check(OrderIntent{}); d.Allowed || d.Reason != RejectBreakerActive {
		t.Fatalf("expected breaker to survive daily reset, got %+v", d)
	}
	g.ResetMonthly()
	if d := g.Check(OrderIntent{}); !d.Allowed {
		t.Errorf("monthly reset should clear breaker, got %s", d.Reason)
	}
}

func TestGate_BacktestSkipsWeeklyAndSector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPerSector = 0.2
	cfg.MaxDailyLoss = -0.5
	cfg.MaxMonthlyLoss = -0.5
	g := NewGate(Options{Config: cfg})

	g.OnTradeClosed(loss("a", -0.12))
	g.OnTradeClosed(loss("a", 0.0))
	g.OnPositionOpened("b", "semis", 0.2)

	d := g.Check(OrderIntent{Instrument: "c", Sector: "semis", CapitalShare: 0.1})
	if !d.Allowed {
		t.Errorf("backtest mode should ignore weekly and sector limits, got %s", d.Reason)
	}
}

func TestGate_LiveSectorCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLive
	cfg.MaxPerSector = 0.3
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	g := NewGate(Options{Config: cfg, Clock: func() time.Time { return now }})

	g.OnPositionOpened("a", "semis", 0.2)
	if d := g.Check(OrderIntent{Instrument: "b", Sector: "semis", CapitalShare: 0.2}); d.Reason != RejectSectorExposure {
		t.Errorf("expected sector rejection, got %+v", d)
	}
	if d := g.Check(OrderIntent{Instrument: "b", Sector: "banks", CapitalShare: 0.2}); !d.Allowed {
		t.Errorf("other sector should pass, got %s", d.Reason)
	}

	g.OnTradeClosed(&domain.TradeRecord{Instrument: "a", PnLPct: 0.01})
	if d := g.Check(OrderIntent{Instrument: "b", Sector: "semis", CapitalShare: 0.2}); !d.Allowed {
		t.Errorf("exposure should be released on close, got %s", d.Reason)
	}
}

func TestGate_LimitsInOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositions = 1
	cfg.MaxPerInstrument = 0.5
	g := NewGate(Options{Config: cfg})

	if d := g.Check(OrderIntent{CapitalShare: 0.6}); d.Reason != RejectInstrumentExposure {
		t.Errorf("expected instrument exposure rejection, got %+v", d)
	}
	g.OnPositionOpened("a", "", 0.4)
	if d := g.Check(OrderIntent{CapitalShare: 0.6}); d.Reason != RejectMaxPositions {
		t.Errorf("expected max positions to be checked first, got %+v", d)
	}
	if g.Tripped() {
		t.Error("exposure rejections must not trip the breaker")
	}
}

func TestGate_LiveRollover(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeLive
	now := time.Date(2024, 1, 30, 15, 0, 0, 0, time.UTC) // Tuesday
	g := NewGate(Options{Config: cfg, Clock: func() time.Time { return now }})

	g.Check(OrderIntent{}) // anchor
	g.OnTradeClosed(loss("a", -0.06))
	g.OnTradeClosed(loss("a", 0.0))

	if d := g.Check(OrderIntent{}); d.Reason != RejectDailyLoss {
		t.Fatalf("expected daily loss, got %+v", d)
	}

	now = now.Add(2 * time.Hour)
	if d := g.Check(OrderIntent{}); d.Allowed {
		t.Fatal("same day must not reset")
	}

	now = time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC)
	if d := g.Check(OrderIntent{}); !d.Allowed {
		t.Fatalf("new day should reset, got %s", d.Reason)
	}
	s := g.Snapshot()
	if s.DailyPnL != 0 || s.WeeklyPnL != -0.06 || s.MonthlyPnL != -0.06 {
		t.Errorf("unexpected counters after day rollover: %+v", s)
	}

	now = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)
	g.Check(OrderIntent{})
	if s := g.Snapshot(); s.MonthlyPnL != 0 || s.WeeklyPnL != -0.06 {
		t.Errorf("month rollover within the same ISO week: %+v", s)
	}

	now = time.Date(2024, 2, 5, 9, 0, 0, 0, time.UTC) // next Monday
	g.Check(OrderIntent{})
	if s := g.Snapshot(); s.WeeklyPnL != 0 {
		t.Errorf("expected weekly reset, got %+v", s)
	}
}

func TestCalcPositionSize(t *testing.T) {
	tests := []struct {
		name                                    string
		capital, price, atr, riskPct, mult, cap float64
		want                                    int64
	}{
		{"risk bound", 10_000_000, 50_000, 1_000, 0.01, 2, 1.0, 50},
		{"capped by share", 10_000_000, 50_000, 10, 0.01, 2, 0.1, 20},
		{"zero atr", 10_000_000, 50_000, 0, 0.01, 2, 1.0, 0},
		{"negative price", 10_000_000, -1, 1_000, 0.01, 2, 1.0, 0},
		{"zero capital", 0, 50_000, 1_000, 0.01, 2, 1.0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalcPositionSize(tt.capital, tt.price, tt.atr, tt.riskPct, tt.mult, tt.cap)
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := DefaultConfig()
	bad.MaxDailyLoss = 0.05
	if err := bad.Validate(); err != ErrInvalidLossFloor {
		t.Errorf("expected ErrInvalidLossFloor, got %v", err)
	}

	bad = DefaultConfig()
	bad.Mode = "paper"
	if err := bad.Validate(); err == nil {
		t.Error("expected invalid mode error")
	}
}

func TestGate_TripCallbackMayReadGate(t *testing.T) {
	var seen State
	var g *Gate
	g = NewGate(Options{
		Config: DefaultConfig(),
		OnTrip: func(RejectReason) { seen = g.Snapshot() },
	})
	for i := 0; i < 3; i++ {
		g.OnTradeClosed(loss("005930", -0.001))
	}

	done := make(chan Decision, 1)
	go func() { done <- g.Check(OrderIntent{Instrument: "005930", CapitalShare: 0.1}) }()

	select {
	case d := <-done:
		if d.Reason != RejectConsecutiveLosses {
			t.Errorf("expected %s, got %s", RejectConsecutiveLosses, d.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Check blocked while the trip callback read the gate")
	}
	if !seen.BreakerTripped || seen.ConsecutiveLosses != 3 {
		t.Errorf("callback saw %+v, want tripped breaker with 3 losses", seen)
	}
}
