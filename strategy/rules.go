package strategy

import "quantsim/indicators"

// RSI 阈值
const (
	RSIOversold   = 30.0
	RSIOverbought = 70.0
)

// RuleCascade 默认规则级联
// 按固定顺序依次判断 RSI、均线、MACD、布林带，后命中的规则覆盖先命中的结果；
// 某条规则所需指标未定义时该规则不参与判断
type RuleCascade struct{}

// NewRuleCascade 创建默认规则级联
func NewRuleCascade() *RuleCascade {
	return &RuleCascade{}
}

// Name 信号源名称
func (r *RuleCascade) Name() string {
	return "rule_cascade"
}

// Evaluate 计算交易动作
func (r *RuleCascade) Evaluate(fs indicators.FeatureSet) Action {
	action := ActionHold
	for _, rule := range []func(indicators.FeatureSet) (Action, bool){
		rsiRule,
		trendRule,
		macdRule,
		bollingerRule,
	} {
		if a, fired := rule(fs); fired {
			action = a
		}
	}
	return action
}

// rsiRule RSI 超卖买入、超买卖出
func rsiRule(fs indicators.FeatureSet) (Action, bool) {
	rsi, ok := fs.RSI.Float()
	if !ok {
		return ActionHold, false
	}
	switch {
	case rsi < RSIOversold:
		return ActionBuy, true
	case rsi > RSIOverbought:
		return ActionSell, true
	}
	return ActionHold, false
}

// trendRule 短均线在长均线之上且价格在短均线之上买入，反之卖出
func trendRule(fs indicators.FeatureSet) (Action, bool) {
	short, ok1 := fs.SMA20.Float()
	long, ok2 := fs.SMA50.Float()
	if !ok1 || !ok2 {
		return ActionHold, false
	}
	switch {
	case short > long && fs.Close > short:
		return ActionBuy, true
	case short < long && fs.Close < short:
		return ActionSell, true
	}
	return ActionHold, false
}

// macdRule MACD 在信号线之上且柱状图为正买入，反之卖出
func macdRule(fs indicators.FeatureSet) (Action, bool) {
	macd, ok1 := fs.MACD.Float()
	signal, ok2 := fs.MACDSignal.Float()
	hist, ok3 := fs.MACDHist.Float()
	if !ok1 || !ok2 || !ok3 {
		return ActionHold, false
	}
	switch {
	case macd > signal && hist > 0:
		return ActionBuy, true
	case macd < signal && hist < 0:
		return ActionSell, true
	}
	return ActionHold, false
}

// bollingerRule 跌破下轨买入，突破上轨卖出
func bollingerRule(fs indicators.FeatureSet) (Action, bool) {
	lower, ok1 := fs.BBLower.Float()
	upper, ok2 := fs.BBUpper.Float()
	if !ok1 || !ok2 {
		return ActionHold, false
	}
	switch {
	case fs.Close < lower:
		return ActionBuy, true
	case fs.Close > upper:
		return ActionSell, true
	}
	return ActionHold, false
}
