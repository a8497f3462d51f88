package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders strategy aggregates as CSV string.
func RenderCSV(metrics []StrategyMetricRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("generator,regime,runs,total_trades,win_rate,")
	sb.WriteString("return_mean,return_median,return_p10,return_p90,")
	sb.WriteString("worst_drawdown,mean_sharpe,max_consecutive_losses\n")

	// Rows
	for _, m := range metrics {
		sb.WriteString(fmt.Sprintf("%s,%s,%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%d\n",
			m.Generator,
			m.Regime,
			m.Runs,
			m.TotalTrades,
			m.WinRate,
			m.ReturnMean,
			m.ReturnMedian,
			m.ReturnP10,
			m.ReturnP90,
			m.WorstDrawdown,
			m.MeanSharpe,
			m.MaxConsecutiveLosses,
		))
	}

	return sb.String()
}

// RenderRunsCSV renders per-run rows as CSV string.
func RenderRunsCSV(runs []RunRow) string {
	var sb strings.Builder

	sb.WriteString("run_id,instrument,generator,regime,effective_capital,total_trades,")
	sb.WriteString("win_rate,total_return,max_drawdown,sharpe_ratio,final_capital\n")

	for _, r := range runs {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%.2f,%d,%.6f,%.6f,%.6f,%.6f,%.2f\n",
			r.RunID,
			r.Instrument,
			r.Generator,
			r.Regime,
			r.EffectiveCapital,
			r.TotalTrades,
			r.WinRate,
			r.TotalReturn,
			r.MaxDrawdown,
			r.SharpeRatio,
			r.FinalCapital,
		))
	}

	return sb.String()
}
