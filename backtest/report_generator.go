package backtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"quantsim/i18n"
	"quantsim/ledger"
	"quantsim/utils"
)

// maxReportTrades 报告中最多列出的平仓笔数
const maxReportTrades = 20

// GenerateReport 生成 Markdown 回测报告，写入 <dir>/<symbol>_<run_id>.md
func GenerateReport(result *BacktestResult, dir, lang string) (string, error) {
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	content, err := RenderReport(result, lang)
	if err != nil {
		return "", fmt.Errorf("渲染报告模板失败: %w", err)
	}

	reportPath := filepath.Join(dir, fmt.Sprintf("%s_%s.md", result.Symbol, result.RunID))
	if err := os.WriteFile(reportPath, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}
	return reportPath, nil
}

// RenderReport 渲染 Markdown 报告
func RenderReport(result *BacktestResult, lang string) (string, error) {
	return renderReportTemplate(prepareReportData(result, lang), lang)
}

// ReportData 报告数据
type ReportData struct {
	// 基本信息
	RunID          string
	Strategy       string
	Symbol         string
	Interval       string
	GeneratedAt    string
	StartDate      string
	EndDate        string
	BarsProcessed  int
	InitialBalance string
	FinalBalance   string
	ProfitLoss     string

	// 收益与风险
	TotalReturn string
	MaxDrawdown string
	SharpeRatio string

	// 交易指标
	TotalTrades          int
	WinningTrades        int
	LosingTrades         int
	WinRate              string
	ProfitFactor         string
	AvgProfit            string
	AvgLoss              string
	LargestWin           string
	LargestLoss          string
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int

	// FIFO 配对
	FIFO []ledger.SymbolFIFO

	// 交易明细
	TopTrades []TradeRow

	// 风险指标
	VaR95  string
	VaR99  string
	CVaR95 string
	CVaR99 string

	OpenPosition string

	// 结论
	Conclusion string
}

// TradeRow 交易行
type TradeRow struct {
	Time        string
	Side        string
	Price       string
	Quantity    string
	PnL         string
	CloseReason string
}

// prepareReportData 准备报告数据
func prepareReportData(result *BacktestResult, lang string) ReportData {
	m := result.Report

	topTrades := make([]TradeRow, 0, maxReportTrades)
	for _, trade := range result.Trades {
		if !trade.IsClose() {
			continue
		}
		if len(topTrades) == maxReportTrades {
			break
		}
		topTrades = append(topTrades, TradeRow{
			Time:        utils.FormatMillis(trade.Timestamp),
			Side:        string(trade.Side),
			Price:       fmt.Sprintf("%.4f", trade.Price),
			Quantity:    fmt.Sprintf("%.6f", trade.Quantity),
			PnL:         fmt.Sprintf("%.2f (%.2f%%)", trade.PnL, trade.PnLPct),
			CloseReason: string(trade.CloseReason),
		})
	}

	var openPosition string
	if p := result.OpenPosition; p != nil {
		openPosition = fmt.Sprintf("%s @ %.4f x %.6f (SL %.4f / TP %.4f)",
			utils.FormatMillis(p.EntryTime), p.EntryPrice, p.Size, p.StopLoss, p.TakeProfit)
	}

	return ReportData{
		RunID:          result.RunID,
		Strategy:       result.Strategy,
		Symbol:         result.Symbol,
		Interval:       result.Interval,
		GeneratedAt:    utils.ToConfiguredTimezone(time.Now()).Format("2006-01-02 15:04:05"),
		StartDate:      utils.FormatMillis(result.StartTime),
		EndDate:        utils.FormatMillis(result.EndTime),
		BarsProcessed:  result.BarsProcessed,
		InitialBalance: fmt.Sprintf("%.2f", result.InitialBalance),
		FinalBalance:   fmt.Sprintf("%.2f", result.FinalBalance),
		ProfitLoss:     fmt.Sprintf("%.2f (%.2f%%)", result.ProfitLoss, result.ProfitLossPct),

		TotalReturn: fmt.Sprintf("%.2f%%", m.TotalReturn),
		MaxDrawdown: fmt.Sprintf("%.2f%%", m.MaxDrawdown*100),
		SharpeRatio: fmt.Sprintf("%.2f", m.SharpeRatio),

		TotalTrades:          m.TotalTrades,
		WinningTrades:        m.WinningTrades,
		LosingTrades:         m.LosingTrades,
		WinRate:              fmt.Sprintf("%.2f%%", m.WinRate*100),
		ProfitFactor:         m.ProfitFactor.String(),
		AvgProfit:            fmt.Sprintf("%.2f", m.AverageProfit),
		AvgLoss:              fmt.Sprintf("%.2f", m.AverageLoss),
		LargestWin:           fmt.Sprintf("%.2f", m.LargestWin),
		LargestLoss:          fmt.Sprintf("%.2f", m.LargestLoss),
		MaxConsecutiveWins:   m.MaxConsecutiveWins,
		MaxConsecutiveLosses: m.MaxConsecutiveLosses,

		FIFO:      result.FIFO.Symbols,
		TopTrades: topTrades,

		VaR95:  fmt.Sprintf("%.2f%%", result.RiskMetrics.VaR95),
		VaR99:  fmt.Sprintf("%.2f%%", result.RiskMetrics.VaR99),
		CVaR95: fmt.Sprintf("%.2f%%", result.RiskMetrics.CVaR95),
		CVaR99: fmt.Sprintf("%.2f%%", result.RiskMetrics.CVaR99),

		OpenPosition: openPosition,
		Conclusion:   generateConclusion(result, lang),
	}
}

// generateConclusion 生成结论
func generateConclusion(result *BacktestResult, lang string) string {
	m := result.Report
	t := func(id string) string { return i18n.TWithLang(lang, id) }

	if m.TotalTrades == 0 {
		return t("conclusion_no_trades")
	}
	var conclusions []string

	// 收益评估
	switch {
	case m.TotalReturn > 20:
		conclusions = append(conclusions, t("conclusion_return_excellent"))
	case m.TotalReturn > 0:
		conclusions = append(conclusions, t("conclusion_return_positive"))
	default:
		conclusions = append(conclusions, t("conclusion_return_negative"))
	}

	// 风险评估
	switch {
	case m.MaxDrawdown < 0.10:
		conclusions = append(conclusions, t("conclusion_drawdown_low"))
	case m.MaxDrawdown < 0.20:
		conclusions = append(conclusions, t("conclusion_drawdown_mid"))
	default:
		conclusions = append(conclusions, t("conclusion_drawdown_high"))
	}

	// 夏普比率评估
	switch {
	case m.SharpeRatio > 1:
		conclusions = append(conclusions, t("conclusion_sharpe_good"))
	case m.SharpeRatio > 0:
		conclusions = append(conclusions, t("conclusion_sharpe_fair"))
	default:
		conclusions = append(conclusions, t("conclusion_sharpe_poor"))
	}

	// 胜率评估
	if m.WinRate > 0.5 {
		conclusions = append(conclusions, t("conclusion_winrate_high"))
	} else {
		conclusions = append(conclusions, t("conclusion_winrate_low"))
	}

	// 利润因子评估
	switch pf := float64(m.ProfitFactor); {
	case pf > 1.5:
		conclusions = append(conclusions, t("conclusion_pf_good"))
	case pf > 1:
		conclusions = append(conclusions, t("conclusion_pf_fair"))
	default:
		conclusions = append(conclusions, t("conclusion_pf_poor"))
	}

	return strings.Join(conclusions, "\n\n")
}

const reportTemplate = `# {{.Symbol}} {{t "report_title"}}

{{t "generated_at"}}: {{.GeneratedAt}}

## {{t "summary"}}

- **{{t "strategy"}}**: {{.Strategy}} ({{.RunID}})
- **{{t "symbol"}}**: {{.Symbol}} / {{t "interval"}} {{.Interval}}
- **{{t "period"}}**: {{.StartDate}} ~ {{.EndDate}}
- **{{t "bars_processed"}}**: {{.BarsProcessed}}
- **{{t "initial_balance"}}**: ${{.InitialBalance}}
- **{{t "final_balance"}}**: ${{.FinalBalance}}
- **{{t "profit_loss"}}**: {{.ProfitLoss}}
- **{{t "total_return"}}**: {{.TotalReturn}}
- **{{t "max_drawdown"}}**: {{.MaxDrawdown}}
- **{{t "sharpe_ratio"}}**: {{.SharpeRatio}}

## {{t "trade_metrics"}}

| {{t "metric"}} | {{t "value"}} |
|------|------|
| {{t "total_trades"}} | {{.TotalTrades}} |
| {{t "winning_trades"}} | {{.WinningTrades}} |
| {{t "losing_trades"}} | {{.LosingTrades}} |
| {{t "win_rate"}} | {{.WinRate}} |
| {{t "profit_factor"}} | {{.ProfitFactor}} |
| {{t "average_profit"}} | ${{.AvgProfit}} |
| {{t "average_loss"}} | ${{.AvgLoss}} |
| {{t "largest_win"}} | ${{.LargestWin}} |
| {{t "largest_loss"}} | ${{.LargestLoss}} |
| {{t "max_consecutive_wins"}} | {{.MaxConsecutiveWins}} |
| {{t "max_consecutive_losses"}} | {{.MaxConsecutiveLosses}} |

## {{t "fifo_section"}}

| {{t "symbol"}} | {{t "realised_pnl"}} | {{t "matched_pairs"}} | {{t "average_hold"}} |
|------|------|------|------|
{{range .FIFO}}| {{.Symbol}} | {{printf "%.2f" .RealisedPnL}} | {{.MatchedPairs}} | {{printf "%.0f" .AverageHoldSeconds}} |
{{end}}
## {{t "trade_details"}}

| {{t "time"}} | {{t "side"}} | {{t "price"}} | {{t "quantity"}} | {{t "pnl"}} | {{t "close_reason"}} |
|------|------|------|------|------|------|
{{range .TopTrades}}| {{.Time}} | {{.Side}} | {{.Price}} | {{.Quantity}} | {{.PnL}} | {{.CloseReason}} |
{{end}}
## {{t "risk_section"}}

| {{t "metric"}} | {{t "value"}} |
|------|------|
| VaR (95%) | {{.VaR95}} |
| VaR (99%) | {{.VaR99}} |
| CVaR (95%) | {{.CVaR95}} |
| CVaR (99%) | {{.CVaR99}} |
{{if .OpenPosition}}
## {{t "open_position"}}

{{.OpenPosition}}

*{{t "open_position_note"}}*
{{end}}
## {{t "conclusion"}}

{{.Conclusion}}

---

*{{t "footer"}}*
`

// renderReportTemplate 渲染报告模板
func renderReportTemplate(data ReportData, lang string) (string, error) {
	funcs := template.FuncMap{
		"t": func(id string) string { return i18n.TWithLang(lang, id) },
	}
	t, err := template.New("report").Funcs(funcs).Parse(reportTemplate)
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SaveBalanceCurveCSV 保存余额曲线到 <dir>/<symbol>_<run_id>_balance.csv
func SaveBalanceCurveCSV(result *BacktestResult, dir string) (string, error) {
	if dir == "" {
		dir = "reports"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	csvPath := filepath.Join(dir, fmt.Sprintf("%s_%s_balance.csv", result.Symbol, result.RunID))
	file, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("创建 CSV 文件失败: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintln(file, "timestamp,balance"); err != nil {
		return "", fmt.Errorf("写入 CSV 失败: %w", err)
	}
	for _, point := range result.BalanceCurve {
		if _, err := fmt.Fprintf(file, "%d,%.8f\n", point.Timestamp, point.Balance); err != nil {
			return "", fmt.Errorf("写入 CSV 失败: %w", err)
		}
	}
	return csvPath, nil
}
