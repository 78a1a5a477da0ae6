package indicators

import (
	"encoding/json"
	"math"
	"strconv"
)

// Value 指标值，历史不足时为未定义
type Value struct {
	v  float64
	ok bool
}

// Undefined 未定义的指标值
var Undefined = Value{}

// Defined 构造已定义的指标值
func Defined(v float64) Value {
	return Value{v: v, ok: true}
}

// IsDefined 是否已定义
func (v Value) IsDefined() bool {
	return v.ok
}

// Float 返回数值和是否已定义
func (v Value) Float() (float64, bool) {
	return v.v, v.ok
}

// IsFinite 已定义且为有限数
func (v Value) IsFinite() bool {
	return v.ok && !math.IsNaN(v.v) && !math.IsInf(v.v, 0)
}

// String 未定义时输出 "undefined"
func (v Value) String() string {
	if !v.ok {
		return "undefined"
	}
	return strconv.FormatFloat(v.v, 'f', -1, 64)
}

// MarshalJSON 未定义输出 null
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON null 解析为未定义
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Undefined
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = Defined(f)
	return nil
}
