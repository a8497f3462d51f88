package domain

import "time"

// Direction is the side of a signal.
type Direction string

// Signal directions
const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// SignalReason identifies why a generator emitted a signal.
// SELL reasons carry their own exit policy (see simulation.sellPolicyFor).
type SignalReason string

// BUY reasons
const (
	ReasonSTUpJMATurnUp SignalReason = "ST_UP_JMA_TURN_UP" // trend up, JMA turned up
	ReasonSTTurnUpJMAUp SignalReason = "ST_TURN_UP_JMA_UP" // trend turned up while JMA rising
	ReasonInverseBuy    SignalReason = "INVERSE_BUY"
	ReasonSwingBuy      SignalReason = "SWING_BUY"
	ReasonRuleBuy       SignalReason = "RULE_BUY"
)

// SELL reasons
const (
	ReasonSTReversal          SignalReason = "ST_REVERSAL"    // primary trend reversed down
	ReasonJMATurnDown         SignalReason = "JMA_TURN_DOWN"  // secondary trend turned down
	ReasonRSIOverbought       SignalReason = "RSI_OVERBOUGHT" // oscillator overbought
	ReasonInverseSell         SignalReason = "INVERSE_SELL"
	ReasonSwingSell           SignalReason = "SWING_SELL"
	ReasonSwingSellOverbought SignalReason = "SWING_SELL_OVERBOUGHT"
	ReasonRuleSell            SignalReason = "RULE_SELL"
)

// HOLD reasons
const (
	ReasonSidewaysFilter SignalReason = "SIDEWAYS_FILTER" // BUY suppressed in a trendless market
	ReasonRiskRejected   SignalReason = "RISK_REJECTED"   // BUY suppressed by the risk gate
)

// Signal is a directional recommendation for one instrument at one bar.
type Signal struct {
	Direction  Direction    `json:"direction"`
	Instrument string       `json:"instrument"`
	Date       time.Time    `json:"date"`
	Price      float64      `json:"price"`
	Reason     SignalReason `json:"reason"`
	Detail     string       `json:"detail,omitempty"` // free-form diagnostic
	Strength   float64      `json:"strength"`         // [0, 1]
}

// IsBuy reports whether the signal is a BUY.
func (s Signal) IsBuy() bool { return s.Direction == DirectionBuy }

// IsSell reports whether the signal is a SELL.
func (s Signal) IsSell() bool { return s.Direction == DirectionSell }
