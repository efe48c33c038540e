package oti

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/ypo/flute/pkg/tools"
)

// ErrConfig OTI 参数非法，构造时报错
var ErrConfig = errors.New("invalid OTI configuration")

// FECEncodingID < 128 Fully-Specified FEC
// FECEncodingID >= 128 Under-Specified
type FECEncodingID uint8

const (
	NoCode                        FECEncodingID = 0
	Raptor                        FECEncodingID = 1
	ReedSolomonGF2M               FECEncodingID = 2
	ReedSolomonGF28               FECEncodingID = 5
	RaptorQ                       FECEncodingID = 6
	ReedSolomonGF28UnderSpecified FECEncodingID = 129
)

func (f FECEncodingID) String() string {
	switch f {
	case NoCode:
		return "NoCode"
	case Raptor:
		return "Raptor"
	case ReedSolomonGF2M:
		return "ReedSolomonGF2M"
	case ReedSolomonGF28:
		return "ReedSolomonGF28"
	case RaptorQ:
		return "RaptorQ"
	case ReedSolomonGF28UnderSpecified:
		return "ReedSolomonGF28UnderSpecified"
	default:
		return fmt.Sprintf("Unknown FECEncodingID (%d)", uint8(f))
	}
}

func FECEncodingIDFromByte(v byte) (FECEncodingID, error) {
	switch FECEncodingID(v) {
	case NoCode, Raptor, ReedSolomonGF2M, ReedSolomonGF28, RaptorQ, ReedSolomonGF28UnderSpecified:
		return FECEncodingID(v), nil
	default:
		return 0, fmt.Errorf("invalid FECEncodingID %d", v)
	}
}

// ReedSolomonGF2MSchemeSpecific RS GF(2^m) 的 scheme-specific 参数
type ReedSolomonGF2MSchemeSpecific struct {
	// Length of the finite field elements, in bits
	M uint8
	// number of encoding symbols per group used for the object
	// The default value is 1, meaning that each packet contains exactly one symbol
	G uint8
}

// SchemeSpecific 编码为 FDT 属性（base64 的 2 字节 [M,G]）
func (r ReedSolomonGF2MSchemeSpecific) SchemeSpecific() string {
	return base64.StdEncoding.EncodeToString([]byte{r.M, r.G})
}

func DecodeReedSolomonGF2MSchemeSpecific(info string) (*ReedSolomonGF2MSchemeSpecific, error) {
	raw, err := base64.StdEncoding.DecodeString(info)
	if err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("wrong scheme specific info size %d", len(raw))
	}
	return &ReedSolomonGF2MSchemeSpecific{M: raw[0], G: raw[1]}, nil
}

// RaptorQSchemeSpecific RaptorQ 的 scheme-specific 参数
// https://www.rfc-editor.org/rfc/rfc6330.html#section-3.3.3
type RaptorQSchemeSpecific struct {
	// The number of source blocks (Z): 8-bit unsigned integer.
	SourceBlocksLength uint8
	// The number of sub-blocks (N): 16-bit unsigned integer.
	SubBlocksLength uint16
	// A symbol alignment parameter (Al): 8-bit unsigned integer.
	SymbolAlignment uint8
}

// SchemeSpecific 编码为 FDT 属性（base64 的 4 字节 [Z, N(2), Al]）
func (r RaptorQSchemeSpecific) SchemeSpecific() string {
	return base64.StdEncoding.EncodeToString([]byte{
		r.SourceBlocksLength,
		byte(r.SubBlocksLength >> 8),
		byte(r.SubBlocksLength),
		r.SymbolAlignment,
	})
}

func DecodeRaptorQSchemeSpecific(info string) (*RaptorQSchemeSpecific, error) {
	raw, err := base64.StdEncoding.DecodeString(info)
	if err != nil {
		return nil, err
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("wrong scheme specific info size %d", len(raw))
	}
	return &RaptorQSchemeSpecific{
		SourceBlocksLength: raw[0],
		SubBlocksLength:    uint16(raw[1])<<8 | uint16(raw[2]),
		SymbolAlignment:    raw[3],
	}, nil
}

// RaptorSchemeSpecific Raptor (RFC 5053) 的 scheme-specific 参数
type RaptorSchemeSpecific struct {
	// The number of source blocks (Z): 16-bit unsigned integer.
	SourceBlocksLength uint16
	// The number of sub-blocks (N): 8-bit unsigned integer.
	SubBlocksLength uint8
	// A symbol alignment parameter (Al): 8-bit unsigned integer.
	SymbolAlignment uint8
}

// SchemeSpecific 编码为 FDT 属性（base64 的 4 字节 [Z(2), N, Al]）
func (r RaptorSchemeSpecific) SchemeSpecific() string {
	return base64.StdEncoding.EncodeToString([]byte{
		byte(r.SourceBlocksLength >> 8),
		byte(r.SourceBlocksLength),
		r.SubBlocksLength,
		r.SymbolAlignment,
	})
}

func DecodeRaptorSchemeSpecific(info string) (*RaptorSchemeSpecific, error) {
	raw, err := base64.StdEncoding.DecodeString(info)
	if err != nil {
		return nil, err
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("wrong scheme specific info size %d", len(raw))
	}
	return &RaptorSchemeSpecific{
		SourceBlocksLength: uint16(raw[0])<<8 | uint16(raw[1]),
		SubBlocksLength:    raw[2],
		SymbolAlignment:    raw[3],
	}, nil
}

type Oti struct {
	FecEncodingID                 FECEncodingID
	FecInstanceID                 uint16
	MaximumSourceBlockLength      uint32
	EncodingSymbolLength          uint16
	MaxNumberOfParitySymbols      uint32
	ReedSolomonGF2MSchemeSpecific *ReedSolomonGF2MSchemeSpecific
	RaptorQSchemeSpecific         *RaptorQSchemeSpecific
	RaptorSchemeSpecific          *RaptorSchemeSpecific
	InBandFti                     bool
}

// OtiAttributes FDT XML 使用的 FEC-OTI 属性集
type OtiAttributes struct {
	FecOtiFecEncodingID              *uint8
	FecOtiFecInstanceID              *uint64
	FecOtiMaximumSourceBlockLength   *uint64
	FecOtiEncodingSymbolLength       *uint64
	FecOtiMaxNumberOfEncodingSymbols *uint64
	FecOtiSchemeSpecificInfo         *string
}

// NewOti 默认 OTI：RS GF(2^8)，1424 字节符号，64+20
func NewOti() *Oti {
	o, _ := NewReedSolomonRS28(1424, 64, 20)
	return o
}

func NewNoCode(encodingSymbolLength uint16, maximumSourceBlockLength uint32) *Oti {
	return &Oti{
		FecEncodingID:            NoCode,
		FecInstanceID:            0,
		MaximumSourceBlockLength: maximumSourceBlockLength,
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: 0,
		InBandFti:                true,
	}
}

func NewReedSolomonRS28(encodingSymbolLength uint16, maximumSourceBlockLength uint8, maxNumberOfParitySymbols uint8) (*Oti, error) {
	if uint32(maximumSourceBlockLength)+uint32(maxNumberOfParitySymbols) > 255 {
		return nil, fmt.Errorf("%w: encoding block length (source block length + number of parity symbols) must be <= 255", ErrConfig)
	}
	return &Oti{
		FecEncodingID:            ReedSolomonGF28,
		FecInstanceID:            0,
		MaximumSourceBlockLength: uint32(maximumSourceBlockLength),
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: uint32(maxNumberOfParitySymbols),
		InBandFti:                true,
	}, nil
}

func NewReedSolomonRS28UnderSpecified(encodingSymbolLength uint16, maximumSourceBlockLength uint16, maxNumberOfParitySymbols uint16) (*Oti, error) {
	if uint32(maximumSourceBlockLength)+uint32(maxNumberOfParitySymbols) > 255 {
		return nil, fmt.Errorf("%w: encoding block length (source block length + number of parity symbols) must be <= 255", ErrConfig)
	}
	return &Oti{
		FecEncodingID:            ReedSolomonGF28UnderSpecified,
		FecInstanceID:            0,
		MaximumSourceBlockLength: uint32(maximumSourceBlockLength),
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: uint32(maxNumberOfParitySymbols),
		InBandFti:                true,
	}, nil
}

func NewReedSolomonRS2M(encodingSymbolLength uint16, maximumSourceBlockLength uint16, maxNumberOfParitySymbols uint16, m uint8, g uint8) (*Oti, error) {
	if m == 0 || m > 16 {
		return nil, fmt.Errorf("%w: m must be in 1..16", ErrConfig)
	}
	maxSymbols := (uint64(1) << m) - 1
	if uint64(maximumSourceBlockLength)+uint64(maxNumberOfParitySymbols) > maxSymbols {
		return nil, fmt.Errorf("%w: encoding block length must be <= %d", ErrConfig, maxSymbols)
	}
	return &Oti{
		FecEncodingID:            ReedSolomonGF2M,
		FecInstanceID:            0,
		MaximumSourceBlockLength: uint32(maximumSourceBlockLength),
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: uint32(maxNumberOfParitySymbols),
		ReedSolomonGF2MSchemeSpecific: &ReedSolomonGF2MSchemeSpecific{
			M: m,
			G: g,
		},
		InBandFti: true,
	}, nil
}

func NewRaptorQ(encodingSymbolLength uint16, maximumSourceBlockLength uint16, maxNumberOfParitySymbols uint32, subBlocksLength uint16, symbolAlignment uint8) (*Oti, error) {
	if symbolAlignment == 0 {
		return nil, fmt.Errorf("%w: symbol alignment must be at least 1", ErrConfig)
	}
	if encodingSymbolLength%uint16(symbolAlignment) != 0 {
		return nil, fmt.Errorf("%w: encoding symbol length must be a multiple of the symbol alignment", ErrConfig)
	}
	return &Oti{
		FecEncodingID:            RaptorQ,
		FecInstanceID:            0,
		MaximumSourceBlockLength: uint32(maximumSourceBlockLength),
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: maxNumberOfParitySymbols,
		RaptorQSchemeSpecific: &RaptorQSchemeSpecific{
			SourceBlocksLength: 1,
			SubBlocksLength:    subBlocksLength,
			SymbolAlignment:    symbolAlignment,
		},
		InBandFti: true,
	}, nil
}

// NewRaptor Raptor (RFC 5053)。scheme-specific 与 RaptorQ 同构 (Z, N, Al)
func NewRaptor(encodingSymbolLength uint16, maximumSourceBlockLength uint16, maxNumberOfParitySymbols uint32, subBlocksLength uint8, symbolAlignment uint8) (*Oti, error) {
	if symbolAlignment == 0 {
		return nil, fmt.Errorf("%w: symbol alignment must be at least 1", ErrConfig)
	}
	if encodingSymbolLength%uint16(symbolAlignment) != 0 {
		return nil, fmt.Errorf("%w: encoding symbol length must be a multiple of the symbol alignment", ErrConfig)
	}
	return &Oti{
		FecEncodingID:            Raptor,
		FecInstanceID:            0,
		MaximumSourceBlockLength: uint32(maximumSourceBlockLength),
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: maxNumberOfParitySymbols,
		RaptorSchemeSpecific: &RaptorSchemeSpecific{
			SourceBlocksLength: 1,
			SubBlocksLength:    subBlocksLength,
			SymbolAlignment:    symbolAlignment,
		},
		InBandFti: true,
	}, nil
}

// MaxTransferLength 该 OTI 能承载的最大传输长度
func (o *Oti) MaxTransferLength() uint64 {
	switch o.FecEncodingID {
	case RaptorQ, Raptor:
		return 0xFFFFFFFFFF // 40 bits
	default:
		return 0xFFFFFFFFFFFF // 48 bits
	}
}

// MaxSourceBlockNumber SBN 字段的取值上限
func (o *Oti) MaxSourceBlockNumber() uint64 {
	switch o.FecEncodingID {
	case NoCode, Raptor:
		return uint64(^uint16(0))
	case ReedSolomonGF28:
		return 0xFFFFFF // 24 bits
	case RaptorQ:
		return uint64(^uint8(0))
	case ReedSolomonGF2M:
		m := uint8(8)
		if o.ReedSolomonGF2MSchemeSpecific != nil {
			m = o.ReedSolomonGF2MSchemeSpecific.M
		}
		return (uint64(1) << (32 - m)) - 1
	case ReedSolomonGF28UnderSpecified:
		return uint64(^uint32(0))
	default:
		return uint64(^uint8(0))
	}
}

// GetAttributes 生成 FDT 的 FEC-OTI 属性
func (o *Oti) GetAttributes() OtiAttributes {
	attr := OtiAttributes{
		FecOtiFecEncodingID:            tools.Uint8Ptr(uint8(o.FecEncodingID)),
		FecOtiMaximumSourceBlockLength: tools.Uint64Ptr(uint64(o.MaximumSourceBlockLength)),
		FecOtiEncodingSymbolLength:     tools.Uint64Ptr(uint64(o.EncodingSymbolLength)),
		FecOtiMaxNumberOfEncodingSymbols: tools.Uint64Ptr(
			uint64(o.MaximumSourceBlockLength) + uint64(o.MaxNumberOfParitySymbols)),
	}

	if o.FecEncodingID == ReedSolomonGF28UnderSpecified {
		attr.FecOtiFecInstanceID = tools.Uint64Ptr(uint64(o.FecInstanceID))
	}

	switch {
	case o.ReedSolomonGF2MSchemeSpecific != nil:
		attr.FecOtiSchemeSpecificInfo = tools.StrPtr(o.ReedSolomonGF2MSchemeSpecific.SchemeSpecific())
	case o.RaptorQSchemeSpecific != nil:
		attr.FecOtiSchemeSpecificInfo = tools.StrPtr(o.RaptorQSchemeSpecific.SchemeSpecific())
	case o.RaptorSchemeSpecific != nil:
		attr.FecOtiSchemeSpecificInfo = tools.StrPtr(o.RaptorSchemeSpecific.SchemeSpecific())
	}

	return attr
}
