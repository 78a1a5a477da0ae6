package indicators

// 特征参数
const (
	RSIPeriod        = 14
	SMAShortPeriod   = 20
	SMALongPeriod    = 50
	SMATrendPeriod   = 200
	EMAFastPeriod    = 12
	EMASlowPeriod    = 26
	MACDSignalPeriod = 9
	BollingerPeriod  = 20
	BollingerK       = 2.0
	MomentumPeriod   = 10
	VolatilityPeriod = 20
)

// FeatureSet 单根K线的指标快照，只由下标 <= Index 的K线计算得出
type FeatureSet struct {
	Index    int     `json:"index"`
	OpenTime int64   `json:"open_time"`
	Close    float64 `json:"close"`

	RSI        Value `json:"rsi"`
	SMA20      Value `json:"sma_20"`
	SMA50      Value `json:"sma_50"`
	SMA200     Value `json:"sma_200"`
	EMA12      Value `json:"ema_12"`
	EMA26      Value `json:"ema_26"`
	MACD       Value `json:"macd"`
	MACDSignal Value `json:"macd_signal"`
	MACDHist   Value `json:"macd_hist"`
	BBUpper    Value `json:"bb_upper"`
	BBMiddle   Value `json:"bb_middle"`
	BBLower    Value `json:"bb_lower"`
	BBWidth    Value `json:"bb_width"`
	Momentum   Value `json:"momentum"`
	Volatility Value `json:"volatility"`
}

// Named 按名称列出全部指标，顺序固定
func (fs FeatureSet) Named() []NamedValue {
	return []NamedValue{
		{"rsi", fs.RSI},
		{"sma_20", fs.SMA20},
		{"sma_50", fs.SMA50},
		{"sma_200", fs.SMA200},
		{"ema_12", fs.EMA12},
		{"ema_26", fs.EMA26},
		{"macd", fs.MACD},
		{"macd_signal", fs.MACDSignal},
		{"macd_hist", fs.MACDHist},
		{"bb_upper", fs.BBUpper},
		{"bb_middle", fs.BBMiddle},
		{"bb_lower", fs.BBLower},
		{"bb_width", fs.BBWidth},
		{"momentum", fs.Momentum},
		{"volatility", fs.Volatility},
	}
}

// NamedValue 带名称的指标值
type NamedValue struct {
	Name  string
	Value Value
}

// FirstNonFinite 返回第一个已定义但不是有限数的指标
func (fs FeatureSet) FirstNonFinite() (NamedValue, bool) {
	for _, nv := range fs.Named() {
		if nv.Value.IsDefined() && !nv.Value.IsFinite() {
			return nv, true
		}
	}
	return NamedValue{}, false
}

// FeatureFrame 整段K线的指标序列
// 每个序列都是因果的，所以 At(i) 与只用前 i+1 根K线计算的结果逐位相同
type FeatureFrame struct {
	candles    []Candle
	rsi        []Value
	sma20      []Value
	sma50      []Value
	sma200     []Value
	ema12      []Value
	ema26      []Value
	macd       MACDSeries
	bollinger  BollingerSeries
	momentum   []Value
	volatility []Value
}

// BuildFeatureFrame 计算整段K线的全部指标
func BuildFeatureFrame(candles []Candle) *FeatureFrame {
	closes := ClosePrices(candles)
	return &FeatureFrame{
		candles:    candles,
		rsi:        RSI(closes, RSIPeriod),
		sma20:      SMA(closes, SMAShortPeriod),
		sma50:      SMA(closes, SMALongPeriod),
		sma200:     SMA(closes, SMATrendPeriod),
		ema12:      EMA(closes, EMAFastPeriod),
		ema26:      EMA(closes, EMASlowPeriod),
		macd:       MACD(closes, EMAFastPeriod, EMASlowPeriod, MACDSignalPeriod),
		bollinger:  Bollinger(closes, BollingerPeriod, BollingerK),
		momentum:   Momentum(closes, MomentumPeriod),
		volatility: Volatility(closes, VolatilityPeriod),
	}
}

// Len K线数量
func (f *FeatureFrame) Len() int {
	return len(f.candles)
}

// At 第 i 根K线的指标快照
func (f *FeatureFrame) At(i int) FeatureSet {
	c := f.candles[i]
	return FeatureSet{
		Index:      i,
		OpenTime:   c.OpenTime,
		Close:      c.Close,
		RSI:        f.rsi[i],
		SMA20:      f.sma20[i],
		SMA50:      f.sma50[i],
		SMA200:     f.sma200[i],
		EMA12:      f.ema12[i],
		EMA26:      f.ema26[i],
		MACD:       f.macd.MACD[i],
		MACDSignal: f.macd.Signal[i],
		MACDHist:   f.macd.Histogram[i],
		BBUpper:    f.bollinger.Upper[i],
		BBMiddle:   f.bollinger.Middle[i],
		BBLower:    f.bollinger.Lower[i],
		BBWidth:    f.bollinger.Width[i],
		Momentum:   f.momentum[i],
		Volatility: f.volatility[i],
	}
}

// ComputeFeatureSet 用给定历史计算最后一根K线的指标快照
func ComputeFeatureSet(history []Candle) FeatureSet {
	if len(history) == 0 {
		return FeatureSet{Index: -1}
	}
	return BuildFeatureFrame(history).At(len(history) - 1)
}
