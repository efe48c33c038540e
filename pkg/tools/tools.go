package tools

import (
	"errors"
	"time"
)

const ntpUnixDelta = 2208988800 // seconds between 1900 and 1970

// NTPToSystemTime 将 64-bit NTP 时间戳转换为 time.Time
// NTP 64 位：高 32 位是秒，低 32 位是小数（秒的小数部分，2^-32 单位）
// NTP 纪元：1900-01-01 00:00:00
// Unix 纪元：1970-01-01 00:00:00
// 两者相差 2208988800 秒
func NTPToSystemTime(ntp uint64) (time.Time, error) {
	sec := ntp >> 32
	frac := ntp & 0xFFFFFFFF

	// 把 2^-32 秒的小数换算为纳秒
	// nsec = frac * 1e9 / 2^32
	nsec := (frac * 1_000_000_000) >> 32

	// 允许 pre-1970（负的 Unix 秒）：
	unixSec := int64(sec) - ntpUnixDelta
	if nsec >= 1_000_000_000 {
		return time.Time{}, errors.New("invalid NTP fractional part")
	}

	return time.Unix(unixSec, int64(nsec)).UTC(), nil
}

// SystemTimeToNTP 将 time.Time 转换为 64-bit NTP 时间戳
func SystemTimeToNTP(t time.Time) (uint64, error) {
	unixSec := t.Unix()
	if unixSec+ntpUnixDelta < 0 {
		return 0, errors.New("time is before NTP epoch")
	}
	sec := uint64(unixSec + ntpUnixDelta)
	frac := (uint64(t.Nanosecond()) << 32) / 1_000_000_000
	return (sec << 32) | frac, nil
}

func DivCeil(a, b uint64) uint64 {
	return (a + b - 1) / b
}

func DivFloor(a, b uint64) uint64 {
	return a / b
}

// DurationDivFloat 按浮点除法缩小 Duration
func DurationDivFloat(d time.Duration, by float64) time.Duration {
	if by == 0 {
		return d
	}
	return time.Duration(float64(d) / by)
}

// 指针小工具
func StrPtr(s string) *string    { return &s }
func Uint32Ptr(v uint32) *uint32 { return &v }
func Uint64Ptr(v uint64) *uint64 { return &v }
func Uint8Ptr(v uint8) *uint8    { return &v }
func BoolPtr(v bool) *bool       { return &v }

// PtrSliceToSlice nil 安全解引用
func PtrSliceToSlice(p *[]string) []string {
	if p == nil {
		return nil
	}
	return *p
}
