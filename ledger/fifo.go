package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// SymbolFIFO 单个交易对的 FIFO 配对结果
type SymbolFIFO struct {
	Symbol             string  `json:"symbol"`
	RealisedPnL        float64 `json:"realised_pnl"`
	BuyVolume          float64 `json:"buy_volume"`
	SellVolume         float64 `json:"sell_volume"`
	TradesCount        int     `json:"trades_count"`
	MatchedPairs       int     `json:"matched_pairs"`
	AverageHoldSeconds float64 `json:"average_hold_seconds"`
	UnmatchedSellQty   float64 `json:"unmatched_sell_qty"` // 超出持仓的卖出数量，直接忽略
	OpenBuyQty         float64 `json:"open_buy_qty"`       // 尚未配对的买入数量
}

// FIFOSummary 全部交易对的 FIFO 汇总
type FIFOSummary struct {
	Symbols            []SymbolFIFO `json:"symbols"`
	TotalRealisedPnL   float64      `json:"total_realised_pnl"`
	AverageHoldSeconds float64      `json:"average_hold_seconds"`
}

// openLot 未配对的买入，剩余数量用十进制避免多次拆分后残留极小余量
// 盈亏按原始 float64 价格计算，与持仓管理器记账一致
type openLot struct {
	price     float64
	quantity  float64
	remaining decimal.Decimal
	timestamp int64
}

type fifoBook struct {
	result    SymbolFIFO
	lots      []openLot
	realised  float64
	unmatched decimal.Decimal
	holdTotal float64 // 毫秒
}

// MatchFIFO 按交易对做 FIFO 配对，计算已实现盈亏和平均持仓时间
// 卖出数量超过未配对买入数量时，超出部分被忽略，不产生空头
func MatchFIFO(records []TradeRecord) FIFOSummary {
	ordered := make([]TradeRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	books := make(map[string]*fifoBook)
	for _, r := range ordered {
		book, ok := books[r.Symbol]
		if !ok {
			book = &fifoBook{result: SymbolFIFO{Symbol: r.Symbol}}
			books[r.Symbol] = book
		}
		book.result.TradesCount++

		switch r.Side {
		case SideBuy:
			book.result.BuyVolume += r.Quantity
			book.lots = append(book.lots, openLot{
				price:     r.Price,
				quantity:  r.Quantity,
				remaining: decimal.NewFromFloat(r.Quantity),
				timestamp: r.Timestamp,
			})
		case SideSell:
			book.result.SellVolume += r.Quantity
			book.match(r)
		}
	}

	symbols := make([]string, 0, len(books))
	for symbol := range books {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	summary := FIFOSummary{Symbols: make([]SymbolFIFO, 0, len(books))}
	var holdTotal float64
	var pairs int
	for _, symbol := range symbols {
		book := books[symbol]
		res := book.result
		if res.MatchedPairs > 0 {
			res.AverageHoldSeconds = book.holdTotal / float64(res.MatchedPairs) / 1000
		}
		res.RealisedPnL = book.realised
		res.UnmatchedSellQty = book.unmatched.InexactFloat64()
		open := decimal.Zero
		for _, lot := range book.lots {
			open = open.Add(lot.remaining)
		}
		res.OpenBuyQty = open.InexactFloat64()
		summary.Symbols = append(summary.Symbols, res)
		summary.TotalRealisedPnL += res.RealisedPnL
		holdTotal += book.holdTotal
		pairs += res.MatchedPairs
	}
	if pairs > 0 {
		summary.AverageHoldSeconds = holdTotal / float64(pairs) / 1000
	}
	return summary
}

// match 用最早的未配对买入依次抵消卖出数量
func (b *fifoBook) match(sell TradeRecord) {
	qty := decimal.NewFromFloat(sell.Quantity)
	for qty.IsPositive() && len(b.lots) > 0 {
		lot := &b.lots[0]
		matched := decimal.Min(qty, lot.remaining)
		matchedQty := matched.InexactFloat64()
		if matched.Equal(decimal.NewFromFloat(lot.quantity)) {
			matchedQty = lot.quantity
		}
		b.realised += (sell.Price - lot.price) * matchedQty
		b.result.MatchedPairs++
		b.holdTotal += float64(sell.Timestamp - lot.timestamp)

		qty = qty.Sub(matched)
		lot.remaining = lot.remaining.Sub(matched)
		if !lot.remaining.IsPositive() {
			b.lots = b.lots[1:]
		}
	}
	if qty.IsPositive() {
		b.unmatched = b.unmatched.Add(qty)
	}
}
