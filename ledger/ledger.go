package ledger

import "fmt"

// Ledger 只追加的交易账本
type Ledger struct {
	records []TradeRecord
}

// New 创建空账本
func New() *Ledger {
	return &Ledger{}
}

// Append 追加一条记录，记录必须合法且时间不早于上一条
func (l *Ledger) Append(r TradeRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if n := len(l.records); n > 0 && r.Timestamp < l.records[n-1].Timestamp {
		return fmt.Errorf("%w: 时间 %d 早于上一条记录 %d", ErrInvalidRecord, r.Timestamp, l.records[n-1].Timestamp)
	}
	l.records = append(l.records, r)
	return nil
}

// Len 记录数
func (l *Ledger) Len() int {
	return len(l.records)
}

// Records 全部记录的副本
func (l *Ledger) Records() []TradeRecord {
	out := make([]TradeRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Closed 全部平仓记录
func (l *Ledger) Closed() []TradeRecord {
	return ClosedTrades(l.records)
}

// ClosedTrades 从记录中筛出平仓记录
func ClosedTrades(records []TradeRecord) []TradeRecord {
	closed := make([]TradeRecord, 0, len(records)/2)
	for _, r := range records {
		if r.IsClose() {
			closed = append(closed, r)
		}
	}
	return closed
}
