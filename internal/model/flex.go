package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexString はJSON上で文字列・数値のどちらでも届くベンダー項目を文字列として保持する。
// nullは空文字列として扱う。
type FlexString string

// UnmarshalJSON は文字列、数値、真偽値、nullを受け付ける。
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	switch data[0] {
	case '{', '[':
		return fmt.Errorf("FlexString: 構造化値は受け付けません: %s", string(data))
	}
	*s = FlexString(data)
	return nil
}

// String は保持している文字列を返す。
func (s FlexString) String() string {
	return string(s)
}

// maxInt64Float は2^63。float64で正確に表せるint64範囲の上端（この値自体は範囲外）。
const maxInt64Float = float64(1 << 63)

// FlexInt はJSON上で数値・数値文字列のどちらでも届く整数項目。
// 空文字列とnullは0として扱う。
type FlexInt int64

// UnmarshalJSON は数値、数値文字列、nullを受け付ける。
func (n *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*n = 0
			return nil
		}
	}

	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*n = FlexInt(i)
		return nil
	}
	// 小数表記で届いた整数（例: 1234.0）。端数があるものとint64の範囲外は受け付けない
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || f < -maxInt64Float || f >= maxInt64Float {
		return fmt.Errorf("FlexInt: 整数として解釈できません: %q", raw)
	}
	*n = FlexInt(int64(f))
	return nil
}

// Int64 はint64値を返す。
func (n FlexInt) Int64() int64 {
	return int64(n)
}
