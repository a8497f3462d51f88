package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Backtest Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Instruments: %d | Generators: %d\n\n", r.InstrumentCount, r.GeneratorCount))
	if r.DataVersion != "" {
		sb.WriteString(fmt.Sprintf("Data version: %s\n\n", r.DataVersion))
	}

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Runs | %d |\n", r.DataSummary.TotalRuns))
	sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", r.DataSummary.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Risk Rejections | %d |\n", r.DataSummary.RiskRejections))
	sb.WriteString(fmt.Sprintf("| Date Range Start | %s |\n", formatDate(r.DataSummary.DateRangeStart)))
	sb.WriteString(fmt.Sprintf("| Date Range End | %s |\n", formatDate(r.DataSummary.DateRangeEnd)))
	sb.WriteString("\n")

	// Runs
	sb.WriteString("## Runs\n\n")
	if len(r.Runs) > 0 {
		sb.WriteString("| Instrument | Generator | Regime | Capital | Trades | WinRate | Return | MaxDD | Sharpe | Final |\n")
		sb.WriteString("|------------|-----------|--------|---------|--------|---------|--------|-------|--------|-------|\n")
		for _, run := range r.Runs {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.0f | %d | %.4f | %.4f | %.4f | %.2f | %.0f |\n",
				run.Instrument, run.Generator, regimeLabel(string(run.Regime)), run.EffectiveCapital,
				run.TotalTrades, run.WinRate, run.TotalReturn, run.MaxDrawdown, run.SharpeRatio, run.FinalCapital))
		}
	} else {
		sb.WriteString("No runs available.\n")
	}
	sb.WriteString("\n")

	// Strategy Metrics
	sb.WriteString("## Strategy Metrics\n\n")
	if len(r.StrategyMetrics) > 0 {
		sb.WriteString("| Generator | Regime | Runs | Trades | WinRate | Mean | Median | P10 | P90 | WorstDD | Sharpe | MaxLoss |\n")
		sb.WriteString("|-----------|--------|------|--------|---------|------|--------|-----|-----|---------|--------|---------|\n")
		for _, m := range r.StrategyMetrics {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %.4f | %.4f | %.4f | %.4f | %.4f | %.4f | %.2f | %d |\n",
				m.Generator, regimeLabel(string(m.Regime)), m.Runs, m.TotalTrades, m.WinRate,
				m.ReturnMean, m.ReturnMedian, m.ReturnP10, m.ReturnP90,
				m.WorstDrawdown, m.MeanSharpe, m.MaxConsecutiveLosses))
		}
	} else {
		sb.WriteString("No strategy metrics available.\n")
	}
	sb.WriteString("\n")

	// Regimes
	sb.WriteString("## Regimes\n\n")
	if len(r.Regimes) > 0 {
		sb.WriteString("| Regime | Runs | Mean Confidence | Mean Return |\n")
		sb.WriteString("|--------|------|-----------------|-------------|\n")
		for _, reg := range r.Regimes {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.2f | %.4f |\n",
				regimeLabel(string(reg.Regime)), reg.Runs, reg.MeanConfidence, reg.MeanReturn))
		}
	} else {
		sb.WriteString("No regime data available.\n")
	}
	sb.WriteString("\n")

	// Exit Reasons
	sb.WriteString("## Exit Reasons\n\n")
	if len(r.ExitReasons) > 0 {
		sb.WriteString("| Reason | Trades | Mean PnL |\n")
		sb.WriteString("|--------|--------|----------|\n")
		for _, e := range r.ExitReasons {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.4f |\n", e.Reason, e.Count, e.MeanPnLPct))
		}
	} else {
		sb.WriteString("No closed trades.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func regimeLabel(r string) string {
	if r == "" {
		return "-"
	}
	return r
}
