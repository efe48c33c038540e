package lct

import (
	"encoding/binary"
	"errors"
	"fmt"

	t "github.com/ypo/flute/pkg/type"
)

type Cenc uint8

const (
	CencNull Cenc = iota
	CencZlib
	CencDeflate
	CencGzip
)

type Ext uint8

const (
	ExtFdt  Ext = 192
	ExtFti  Ext = 64
	ExtCenc Ext = 193
	ExtTime Ext = 2
)

var TOI_FDT = t.Uint128{}

// ErrMalformedPacket 数据包字段长度不一致/被截断
var ErrMalformedPacket = errors.New("malformed packet")

type LCTHeader struct {
	Len             uint64    // 头部长度(字节)
	Cci             t.Uint128 // 拥塞控制信息
	Tsi             uint64    // 传输会话标识符
	Toi             t.Uint128 // 传输对象标识符
	Cp              uint8     // 编解码器标识符
	CloseObject     bool      // 是否关闭对象
	CloseSession    bool      // 是否关闭对话
	HeaderExtOffset uint32    // 拓展头偏移量
	Length          uint      // LCT 头长度（字节），与 Len 相同
}

func (e Ext) String() string {
	switch e {
	case ExtFdt:
		return "FDT"
	case ExtFti:
		return "FTI"
	case ExtCenc:
		return "Cenc"
	case ExtTime:
		return "Time"
	default:
		return "Unknown"
	}
}

func (c Cenc) String() string {
	switch c {
	case CencNull:
		return "null"
	case CencZlib:
		return "zlib"
	case CencDeflate:
		return "deflate"
	case CencGzip:
		return "gzip"
	default:
		return "unknown"
	}
}

// CencFromString 解析 FDT Content-Encoding 属性
func CencFromString(s string) (Cenc, error) {
	switch s {
	case "", "null":
		return CencNull, nil
	case "zlib":
		return CencZlib, nil
	case "deflate":
		return CencDeflate, nil
	case "gzip":
		return CencGzip, nil
	default:
		return CencNull, fmt.Errorf("unknown content encoding %q", s)
	}
}

// nbBytes128 计算 u128 的最小字节数
func nbBytes128(cci t.Uint128, min uint32) uint32 {
	// 高 64 位和低 64 位分别判断
	if cci.High&0xFFFF000000000000 != 0 {
		return 16
	}
	if cci.High&0xFFFF00000000 != 0 {
		return 14
	}
	if cci.High&0xFFFF0000 != 0 {
		return 12
	}
	if cci.High&0xFFFF != 0 {
		return 10
	}
	if cci.Low&0xFFFF000000000000 != 0 {
		return 8
	}
	if cci.Low&0xFFFF00000000 != 0 {
		return 6
	}
	if cci.Low&0xFFFF0000 != 0 {
		return 4
	}
	if cci.Low&0xFFFF != 0 {
		return 2
	}

	return min
}

func nbBytes64(n uint64, min uint32) uint32 {
	if (n & 0xFFFF000000000000) != 0 {
		return 8
	}

	if (n & 0xFFFF00000000) != 0 {
		return 6
	}

	if (n & 0xFFFF0000) != 0 {
		return 4
	}

	if (n & 0xFFFF) != 0 {
		return 2
	}

	return min
}

// PushLCTHeader 构建 LCT 头，追加到 data
func PushLCTHeader(
	data *[]byte,
	psi uint8,
	cci t.Uint128,
	tsi uint64,
	toi t.Uint128,
	codepoint uint8,
	closeObject bool,
	closeSession bool,
) {
	// 计算各字段长度
	cciSize := nbBytes128(cci, 0)
	tsiSize := nbBytes64(tsi, 2)
	toiSize := nbBytes128(toi, 2)

	hTsi := (tsiSize & 2) >> 1 // Is TSI half-word ?
	hToi := (toiSize & 2) >> 1 // Is TOI half-word ?

	h := hTsi | hToi // Half-word flag
	var b, a uint8
	if closeObject {
		b = 1
	}
	if closeSession {
		a = 1
	}
	o := (toiSize >> 2) & 0x3
	s := (tsiSize >> 2) & 1
	var c uint32
	switch {
	case cciSize <= 4:
		c = 0
	case cciSize <= 8:
		c = 1
	case cciSize <= 12:
		c = 2
	default:
		c = 3
	}

	// 头部总长度（32 位字）
	hdrLen := uint8(2 + o + s + h + c)
	v := uint32(1)

	// 第一个 32 位字
	lctHeader := uint32(codepoint) |
		(uint32(hdrLen) << 8) |
		(uint32(b) << 16) |
		(uint32(a) << 17) |
		(uint32(h) << 20) |
		(uint32(o) << 21) |
		(uint32(s) << 23) |
		(uint32(psi) << 24) |
		(uint32(c) << 26) |
		(v << 28)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], lctHeader)
	*data = append(*data, buf[:]...)

	// Insert CCI
	cciNet := cci.ToBytesBE()
	cciNetStart := len(cciNet) - int((c+1)<<2)
	*data = append(*data, cciNet[cciNetStart:]...)

	// Insert TSI
	var tsiBuf [8]byte
	binary.BigEndian.PutUint64(tsiBuf[:], tsi)
	tsiNetStart := len(tsiBuf) - int((s<<2)+(h<<1))
	*data = append(*data, tsiBuf[tsiNetStart:]...)

	// Insert TOI
	toiNet := toi.ToBytesBE()
	toiNetStart := len(toiNet) - int((o<<2)+(h<<1))
	*data = append(*data, toiNet[toiNetStart:]...)
}

// IncHdrLen 追加扩展后同步修正 HDR_LEN 字段（单位 32 位字）
func IncHdrLen(data []byte, val uint8) {
	data[2] += val
}

func ParseLCTHeader(data []byte) (*LCTHeader, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: fail to read lct header size", ErrMalformedPacket)
	}

	// 头部长度 (单位 4 字节)
	lenHdr := int(data[2]) << 2
	if lenHdr > len(data) {
		return nil, fmt.Errorf("%w: lct header size is %d whereas pkt size is %d", ErrMalformedPacket, lenHdr, len(data))
	}

	// 提取标志位
	cp := data[3]
	flags1 := data[0]
	flags2 := data[1]

	s := (flags2 >> 7) & 0x1
	o := (flags2 >> 5) & 0x3
	h := (flags2 >> 4) & 0x1
	c := (flags1 >> 2) & 0x3
	a := (flags2 >> 1) & 0x1
	b := flags2 & 0x1
	version := flags1 >> 4

	// 检查版本号
	if version != 1 && version != 2 {
		return nil, fmt.Errorf("FLUTE version %d is not supported", version)
	}

	// 各字段长度 (字节)
	cciLen := (uint32(c) + 1) << 2
	tsiLen := (uint32(s) << 2) + (uint32(h) << 1)
	toiLen := (uint32(o) << 2) + (uint32(h) << 1)

	cciFrom := 4
	cciTo := cciFrom + int(cciLen)
	tsiTo := cciTo + int(tsiLen)
	toiTo := tsiTo + int(toiLen)
	headerExtOffset := uint32(toiTo)

	if toiTo > len(data) || cciLen > 16 || tsiLen > 8 || toiLen > 16 {
		return nil, fmt.Errorf("%w: toi ends to offset %d whereas pkt size is %d", ErrMalformedPacket, toiTo, len(data))
	}

	if headerExtOffset > uint32(lenHdr) {
		return nil, fmt.Errorf("%w: EXT offset outside LCT header", ErrMalformedPacket)
	}

	// 提取字段 (大端序对齐到固定长度)
	var cciBuf [16]byte
	var tsiBuf [8]byte
	var toiBuf [16]byte

	copy(cciBuf[16-int(cciLen):], data[cciFrom:cciTo])
	copy(tsiBuf[8-int(tsiLen):], data[cciTo:tsiTo])
	copy(toiBuf[16-int(toiLen):], data[tsiTo:toiTo])

	cci := t.FromBytesBE(cciBuf[:])
	tsi := binary.BigEndian.Uint64(tsiBuf[:])
	toi := t.FromBytesBE(toiBuf[:])

	return &LCTHeader{
		Len:             uint64(lenHdr),
		Cci:             cci,
		Tsi:             tsi,
		Toi:             toi,
		Cp:              cp,
		CloseObject:     b != 0,
		CloseSession:    a != 0,
		HeaderExtOffset: headerExtOffset,
		Length:          uint(lenHdr),
	}, nil
}

// GetExt 在扩展区查找 HET==ext 的扩展头，未知 HET 直接跳过
func GetExt(data []byte, lct *LCTHeader, ext uint8) ([]byte, error) {
	if uint64(lct.HeaderExtOffset) > lct.Len {
		return nil, fmt.Errorf("%w: invalid header_ext_offset=%d len=%d",
			ErrMalformedPacket, lct.HeaderExtOffset, lct.Len)
	}

	lctExt := data[lct.HeaderExtOffset:lct.Len]

	for len(lctExt) >= 4 {
		het := lctExt[0]

		var hel int
		if het >= 128 {
			hel = 4
		} else {
			hel = int(lctExt[1]) << 2
		}

		if hel == 0 || hel > len(lctExt) {
			return nil, fmt.Errorf(
				"%w: LCT EXT size is %d/%d het=%d offset=%d",
				ErrMalformedPacket, hel, len(lctExt), het, lct.HeaderExtOffset,
			)
		}

		if het == ext {
			// 找到目标扩展头，返回切片
			return lctExt[:hel], nil
		}

		// 跳过当前扩展头，继续解析下一个
		lctExt = lctExt[hel:]
	}

	// 没找到，返回 nil
	return nil, nil
}
