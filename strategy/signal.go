// Package strategy 信号生成
package strategy

import (
	"encoding/json"
	"fmt"

	"quantsim/indicators"
)

// Action 交易动作
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid 是否为合法动作
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// UnmarshalJSON 只接受 BUY/SELL/HOLD
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !Action(s).Valid() {
		return fmt.Errorf("未知的交易动作: %q", s)
	}
	*a = Action(s)
	return nil
}

// Signal 单根K线产生的信号
type Signal struct {
	Action   Action  `json:"action"`
	Price    float64 `json:"price"`     // 该K线收盘价
	OpenTime int64   `json:"open_time"` // 该K线开盘时间
	Source   string  `json:"source"`
}

// NewSignal 创建信号，动作不合法时返回错误
func NewSignal(action Action, fs indicators.FeatureSet, source string) (Signal, error) {
	if !action.Valid() {
		return Signal{}, fmt.Errorf("信号源 %s 返回了未知动作 %q", source, action)
	}
	return Signal{
		Action:   action,
		Price:    fs.Close,
		OpenTime: fs.OpenTime,
		Source:   source,
	}, nil
}

// SignalSource 信号源：根据指标快照给出交易动作
type SignalSource interface {
	Name() string
	Evaluate(fs indicators.FeatureSet) Action
}

// SignalFunc 把普通函数适配为 SignalSource，用于接入外部预测模型
type SignalFunc func(fs indicators.FeatureSet) Action

// Name 信号源名称
func (f SignalFunc) Name() string {
	return "external"
}

// Evaluate 计算交易动作
func (f SignalFunc) Evaluate(fs indicators.FeatureSet) Action {
	return f(fs)
}
