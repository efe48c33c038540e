package _type

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Uint128 128 位无符号整数，承载 TOI/CCI（最大 112 位有效）
type Uint128 struct {
	High uint64
	Low  uint64
}

// 构造/转换
func FromUint64(v uint64) Uint128 { return Uint128{High: 0, Low: v} }
func FromUint8(v uint8) Uint128   { return Uint128{High: 0, Low: uint64(v)} }

func (u Uint128) ToBytesBE() []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], u.High)
	binary.BigEndian.PutUint64(buf[8:], u.Low)
	return buf
}

func FromBytesBE(b []byte) Uint128 {
	if len(b) != 16 {
		panic("Uint128FromBytesBE requires 16 bytes")
	}
	return Uint128{
		High: binary.BigEndian.Uint64(b[:8]),
		Low:  binary.BigEndian.Uint64(b[8:]),
	}
}

func (u Uint128) IsZero() bool {
	return u.High == 0 && u.Low == 0
}

func (u Uint128) AddUint64(v uint64) Uint128 {
	low := u.Low + v
	high := u.High
	if low < u.Low { // 检测溢出
		high++
	}
	return Uint128{High: high, Low: low}
}

// Equal 判断是否相等
func (u Uint128) Equal(v Uint128) bool {
	return u.High == v.High && u.Low == v.Low
}

// Less 判断 u < v
func (u Uint128) Less(v Uint128) bool {
	if u.High < v.High {
		return true
	}
	if u.High > v.High {
		return false
	}
	return u.Low < v.Low
}

// Greater 判断 u > v
func (u Uint128) Greater(v Uint128) bool {
	if u.High > v.High {
		return true
	}
	if u.High < v.High {
		return false
	}
	return u.Low > v.Low
}

// Add 计算 u + v，返回结果和是否溢出
func (u Uint128) Add(v Uint128) (res Uint128, carry bool) {
	lo, c := bits.Add64(u.Low, v.Low, 0)
	hi, c2 := bits.Add64(u.High, v.High, c)
	return Uint128{High: hi, Low: lo}, c2 != 0
}

// Sub 计算 u - v，返回结果和是否借位
func (u Uint128) Sub(v Uint128) (res Uint128, borrow bool) {
	lo, b := bits.Sub64(u.Low, v.Low, 0)
	hi, b2 := bits.Sub64(u.High, v.High, b)
	return Uint128{High: hi, Low: lo}, b2 != 0
}

// ToUint64 截断到 64bit
func (u Uint128) ToUint64() uint64 {
	return u.Low
}

// 仅对低 64 位做 AND（高位清零）
func (u Uint128) And64(mask uint64) Uint128 {
	return Uint128{High: 0, Low: u.Low & mask}
}

// 通用按位与（高/低位都参与）
func (u Uint128) And(v Uint128) Uint128 {
	return Uint128{High: u.High & v.High, Low: u.Low & v.Low}
}

// Decimal 十进制表示，FDT 的 TOI 属性使用
func (u Uint128) Decimal() string {
	if u.High == 0 {
		return fmt.Sprintf("%d", u.Low)
	}
	// 128 位十进制：逐字节长除
	digits := []byte{}
	b := u.ToBytesBE()
	for {
		var rem uint64
		allZero := true
		for i := range b {
			cur := rem<<8 | uint64(b[i])
			b[i] = byte(cur / 10)
			rem = cur % 10
			if b[i] != 0 {
				allZero = false
			}
		}
		digits = append(digits, byte('0'+rem))
		if allZero {
			break
		}
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

// ParseDecimal 解析十进制字符串
func ParseDecimal(s string) (Uint128, error) {
	var u Uint128
	if s == "" {
		return u, fmt.Errorf("empty Uint128 decimal string")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return Uint128{}, fmt.Errorf("invalid Uint128 decimal string: %q", s)
		}
		hi, lo := bits.Mul64(u.Low, 10)
		u.Low = lo
		u.High = u.High*10 + hi
		u = u.AddUint64(uint64(c - '0'))
	}
	return u, nil
}

// 便捷比较/显示
func (u Uint128) String() string { return fmt.Sprintf("%016x%016x", u.High, u.Low) } // 16+16位hex

func StringToUint128(s string) Uint128 {
	// 16+16位hex → 128bit
	if len(s) != 32 {
		return Uint128{}
	}
	var high, low uint64
	if _, err := fmt.Sscanf(s[:16], "%016x", &high); err != nil {
		return Uint128{}
	}
	if _, err := fmt.Sscanf(s[16:], "%016x", &low); err != nil {
		return Uint128{}
	}
	return Uint128{High: high, Low: low}
}
