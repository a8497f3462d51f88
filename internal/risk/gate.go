package risk

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/domain"
)

// RejectReason explains why the gate refused an order.
type RejectReason string

// Reject reasons, in check order
const (
	RejectBreakerActive      RejectReason = "breaker_active"
	RejectConsecutiveLosses  RejectReason = "consecutive_losses"
	RejectDailyLoss          RejectReason = "daily_loss"
	RejectWeeklyLoss         RejectReason = "weekly_loss"
	RejectMonthlyLoss        RejectReason = "monthly_loss"
	RejectMaxPositions       RejectReason = "max_positions"
	RejectInstrumentExposure RejectReason = "instrument_exposure"
	RejectSectorExposure     RejectReason = "sector_exposure"
)

// shareTolerance absorbs float rounding in shares*price/capital.
const shareTolerance = 1e-9

// OrderIntent describes a prospective entry.
type OrderIntent struct {
	Instrument   string
	Sector       string
	CapitalShare float64 // fraction of capital committed to the order
}

// Decision is the gate outcome. A rejection is not an error.
type Decision struct {
	Allowed bool
	Reason  RejectReason
}

// State is a point-in-time copy of the gate counters.
type State struct {
	ConsecutiveLosses int                `json:"consecutive_losses"`
	DailyPnL          float64            `json:"daily_pnl"`
	WeeklyPnL         float64            `json:"weekly_pnl"`
	MonthlyPnL        float64            `json:"monthly_pnl"`
	OpenPositions     int                `json:"open_positions"`
	SectorExposure    map[string]float64 `json:"sector_exposure"`
	BreakerTripped    bool               `json:"breaker_tripped"`
}

// Options configures a Gate.
type Options struct {
	Config Config
	Clock  func() time.Time // live-mode rollover clock, defaults to time.Now
	Logger *zap.Logger
	OnTrip func(reason RejectReason) // called once per breaker trip
}

type openEntry struct {
	sector string
	share  float64
}

// Gate is a circuit breaker plus exposure-limit gate.
// It is safe for concurrent use and may be shared by a batch of runs;
// callers that need sequential counter semantics must serialize their calls.
type Gate struct {
	mu     sync.Mutex
	cfg    Config
	clock  func() time.Time
	logger *zap.Logger
	onTrip func(RejectReason)

	consecutiveLosses int
	dailyPnL          float64
	weeklyPnL         float64
	monthlyPnL        float64
	openPositions     int
	sectorExposure    map[string]float64
	open              map[string]openEntry
	tripped           bool

	// calendar anchors for rollover
	anchored      bool
	lastDay       time.Time
	lastYear      int
	lastWeek      int
	lastMonth     time.Month
	lastMonthYear int
}

// NewGate creates a Gate. A zero Config is replaced by DefaultConfig.
func NewGate(opts Options) *Gate {
	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBacktest
	}
	if cfg.ResetPolicy == "" {
		cfg.ResetPolicy = ResetNone
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cfg:            cfg,
		clock:          clock,
		logger:         logger,
		onTrip:         opts.OnTrip,
		sectorExposure: make(map[string]float64),
		open:           make(map[string]openEntry),
	}
}

// Config returns the gate limits.
func (g *Gate) Config() Config {
	return g.cfg
}

// Check decides whether an order may be opened.
// Loss-limit failures trip the breaker, which then stays on until a reset.
// OnTrip runs after the gate lock is released, so it may call back into the gate.
func (g *Gate) Check(intent OrderIntent) Decision {
	d, tripped := g.check(intent)
	if tripped && g.onTrip != nil {
		g.onTrip(d.Reason)
	}
	return d
}

// check reports the decision and whether this call tripped the breaker.
func (g *Gate) check(intent OrderIntent) (Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.Mode == ModeLive {
		g.rollover(g.clock())
	}

	if g.tripped {
		return g.reject(intent, RejectBreakerActive), false
	}

	if g.consecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		g.trip(RejectConsecutiveLosses)
		return g.reject(intent, RejectConsecutiveLosses), true
	}

	if g.dailyPnL <= g.cfg.MaxDailyLoss {
		g.trip(RejectDailyLoss)
		return g.reject(intent, RejectDailyLoss), true
	}

	if g.cfg.Mode == ModeLive && g.weeklyPnL <= g.cfg.MaxWeeklyLoss {
		g.trip(RejectWeeklyLoss)
		return g.reject(intent, RejectWeeklyLoss), true
	}

	if g.monthlyPnL <= g.cfg.MaxMonthlyLoss {
		g.trip(RejectMonthlyLoss)
		return g.reject(intent, RejectMonthlyLoss), true
	}

	if g.openPositions >= g.cfg.MaxPositions {
		return g.reject(intent, RejectMaxPositions), false
	}

	if intent.CapitalShare > g.cfg.MaxPerInstrument+shareTolerance {
		return g.reject(intent, RejectInstrumentExposure), false
	}

	if g.cfg.Mode == ModeLive && intent.Sector != "" && g.cfg.MaxPerSector < 1 {
		if g.sectorExposure[intent.Sector]+intent.CapitalShare > g.cfg.MaxPerSector {
			return g.reject(intent, RejectSectorExposure), false
		}
	}

	return Decision{Allowed: true}, false
}

// OnPositionOpened records a new open position.
func (g *Gate) OnPositionOpened(instrument, sector string, share float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.openPositions++
	g.open[instrument] = openEntry{sector: sector, share: share}
	if sector != "" {
		g.sectorExposure[sector] += share
	}
}

// OnTradeClosed folds a closed trade into the period P&L and loss streak.
func (g *Gate) OnTradeClosed(trade *domain.TradeRecord) {
	if trade == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.dailyPnL += trade.PnLPct
	g.weeklyPnL += trade.PnLPct
	g.monthlyPnL += trade.PnLPct

	if trade.PnLPct < 0 {
		g.consecutiveLosses++
	} else {
		g.consecutiveLosses = 0
	}

	if g.openPositions > 0 {
		g.openPositions--
	}
	if e, ok := g.open[trade.Instrument]; ok {
		delete(g.open, trade.Instrument)
		if e.sector != "" {
			g.sectorExposure[e.sector] = math.Max(0, g.sectorExposure[e.sector]-e.share)
		}
	}
}

// ResetDaily clears the daily P&L. The breaker is cleared only when the
// weekly and monthly totals are both still above their floors.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetDaily()
}

// ResetWeekly clears the weekly P&L.
func (g *Gate) ResetWeekly() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.weeklyPnL = 0
}

// ResetMonthly clears the monthly P&L and the breaker.
func (g *Gate) ResetMonthly() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetMonthly()
}

// Rollover applies the calendar resets implied by moving to t:
// a new day, a new ISO week, a new month. The first call only anchors.
func (g *Gate) Rollover(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollover(t)
}

// Tripped reports whether the breaker is on.
func (g *Gate) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// Snapshot returns a copy of the counters.
func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	sectors := make(map[string]float64, len(g.sectorExposure))
	for k, v := range g.sectorExposure {
		sectors[k] = v
	}
	return State{
		ConsecutiveLosses: g.consecutiveLosses,
		DailyPnL:          g.dailyPnL,
		WeeklyPnL:         g.weeklyPnL,
		MonthlyPnL:        g.monthlyPnL,
		OpenPositions:     g.openPositions,
		SectorExposure:    sectors,
		BreakerTripped:    g.tripped,
	}
}

// CalcPositionSize returns floor(capital*riskPct / (atr*atrMult)) shares,
// capped by the per-instrument capital share. Non-positive inputs yield 0.
func (g *Gate) CalcPositionSize(capital, price, atr, riskPct, atrMult float64) int64 {
	return CalcPositionSize(capital, price, atr, riskPct, atrMult, g.cfg.MaxPerInstrument)
}

// CalcPositionSize is the stateless sizing rule behind Gate.CalcPositionSize.
func CalcPositionSize(capital, price, atr, riskPct, atrMult, maxShare float64) int64 {
	if capital <= 0 || price <= 0 || atr <= 0 || riskPct <= 0 || atrMult <= 0 || math.IsNaN(atr) {
		return 0
	}
	shares := int64(math.Floor(capital * riskPct / (atr * atrMult)))
	if shares <= 0 {
		return 0
	}
	if maxShare > 0 {
		if limit := int64(math.Floor(capital * maxShare / price)); shares > limit {
			shares = limit
		}
	}
	return shares
}

func (g *Gate) reject(intent OrderIntent, reason RejectReason) Decision {
	g.logger.Debug("order rejected",
		zap.String("instrument", intent.Instrument),
		zap.String("reason", string(reason)),
	)
	return Decision{Allowed: false, Reason: reason}
}

func (g *Gate) trip(reason RejectReason) {
	g.tripped = true
	g.logger.Warn("circuit breaker tripped",
		zap.String("reason", string(reason)),
		zap.Int("consecutive_losses", g.consecutiveLosses),
		zap.Float64("daily_pnl", g.dailyPnL),
		zap.Float64("monthly_pnl", g.monthlyPnL),
	)
}

// clearBreaker also clears the loss streak that may have tripped it,
// otherwise the next Check would trip again immediately.
func (g *Gate) clearBreaker() {
	if g.tripped {
		g.logger.Info("circuit breaker cleared")
	}
	g.tripped = false
	g.consecutiveLosses = 0
}

func (g *Gate) resetDaily() {
	g.dailyPnL = 0
	weeklyOK := g.weeklyPnL > g.cfg.MaxWeeklyLoss
	monthlyOK := g.monthlyPnL > g.cfg.MaxMonthlyLoss
	if g.tripped && weeklyOK && monthlyOK {
		g.clearBreaker()
	}
}

func (g *Gate) resetMonthly() {
	g.monthlyPnL = 0
	g.clearBreaker()
}

func (g *Gate) rollover(t time.Time) {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	year, week := t.ISOWeek()

	if !g.anchored {
		g.anchored = true
		g.lastDay = day
		g.lastYear, g.lastWeek = year, week
		g.lastMonthYear, g.lastMonth = t.Year(), t.Month()
		return
	}

	if !day.Equal(g.lastDay) {
		g.resetDaily()
		g.lastDay = day
	}
	if year != g.lastYear || week != g.lastWeek {
		g.weeklyPnL = 0
		g.lastYear, g.lastWeek = year, week
	}
	if t.Year() != g.lastMonthYear || t.Month() != g.lastMonth {
		g.resetMonthly()
		g.lastMonthYear, g.lastMonth = t.Year(), t.Month()
	}
}
