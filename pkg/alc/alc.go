package alc

import (
	"errors"
	"fmt"
	"time"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/profile"
	"github.com/ypo/flute/pkg/tools"
	t "github.com/ypo/flute/pkg/type"
)

// AlcPkt 表示一个 ALC 数据包（引用数据版本）
type AlcPkt struct {
	Lct                 lct.LCTHeader // LCT协议头
	Oti                 *oti.Oti      // 传输参数（FEC编码类型等），可选
	TransferLength      *uint64       // 传输数据总长度，可选
	Cenc                *lct.Cenc     // 内容编码（如Gzip），可选
	ServerTime          *time.Time    // 发送方时间（用于同步），可选
	Data                []byte        // 原始数据引用
	DataAlcHeaderOffset int           // ALC头偏移量
	DataPayloadOffset   int           // 有效载荷偏移量
	FdtInfo             *ExtFDT       // 文件描述表扩展信息，可选
}

// AlcPktCache 可缓存的数据包（持有数据所有权版本）
type AlcPktCache struct {
	Lct                 lct.LCTHeader
	Oti                 *oti.Oti
	TransferLength      *uint64
	Cenc                *lct.Cenc
	ServerTime          *time.Time
	DataAlcHeaderOffset int
	DataPayloadOffset   int
	Data                []byte
	FdtInfo             *ExtFDT
}

// ToCache 复制数据，得到可长期持有的版本
func (p *AlcPkt) ToCache() AlcPktCache {
	return AlcPktCache{
		Lct:                 p.Lct,
		Oti:                 p.Oti,
		TransferLength:      p.TransferLength,
		Cenc:                p.Cenc,
		ServerTime:          p.ServerTime,
		DataAlcHeaderOffset: p.DataAlcHeaderOffset,
		DataPayloadOffset:   p.DataPayloadOffset,
		Data:                append([]byte(nil), p.Data...),
		FdtInfo:             p.FdtInfo,
	}
}

// ToPkt 从缓存版本还原引用版本
func (c *AlcPktCache) ToPkt() AlcPkt {
	return AlcPkt{
		Lct:                 c.Lct,
		Oti:                 c.Oti,
		TransferLength:      c.TransferLength,
		Cenc:                c.Cenc,
		ServerTime:          c.ServerTime,
		Data:                c.Data,
		DataAlcHeaderOffset: c.DataAlcHeaderOffset,
		DataPayloadOffset:   c.DataPayloadOffset,
		FdtInfo:             c.FdtInfo,
	}
}

// PayloadID FEC Payload 标识符
type PayloadID struct {
	Sbn               uint32  // Source Block Number
	Esi               uint32  // Encoding Symbol ID
	SourceBlockLength *uint32 // Source Block Length，可选
}

// ExtFDT 文件描述表扩展信息 (EXT_FDT)
type ExtFDT struct {
	Version       uint32 // FDT 版本
	FdtInstanceID uint32 // FDT 实例 ID (20 bit)
}

// AlcCodec FEC 方案相关的 FTI / FEC Payload ID 编解码
type AlcCodec interface {
	AddFti(data *[]byte, oti oti.Oti, transferLength uint64)
	GetFti(data []byte, lctHeader lct.LCTHeader) (*oti.Oti, uint64, error)
	AddFecPayloadId(data *[]byte, oti oti.Oti, pkt object.Pkt)
	GetFecPayloadId(pkt AlcPkt, oti oti.Oti) (PayloadID, error)
	GetFecInlinePayloadId(pkt AlcPkt) (PayloadID, error)
	FecPayloadIdBlockLength() uint
}

var ErrNotRegistered = errors.New("alc codec not registered")

// 注册表：FECEncodingID -> 实例（单例）
var registry = map[oti.FECEncodingID]AlcCodec{}

// Register 各实现文件在其 init() 里调用
func Register(id oti.FECEncodingID, impl AlcCodec) {
	registry[id] = impl
}

// Instance 返回注册的实现
func Instance(id oti.FECEncodingID) (AlcCodec, error) {
	if impl, ok := registry[id]; ok {
		return impl, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
}

// NewAlcPktCloseSession 生成 Close-Session ALC 包
func NewAlcPktCloseSession(cci t.Uint128, tsi uint64) []byte {
	buf := make([]byte, 0, 64)

	otiNoCode := oti.NewNoCode(0, 0)

	// psi=0, closeObject=false, closeSession=true
	lct.PushLCTHeader(&buf, 0, cci, tsi, t.Uint128{}, uint8(otiNoCode.FecEncodingID), false, true)

	codec, _ := Instance(otiNoCode.FecEncodingID)
	codec.AddFti(&buf, *otiNoCode, 0)

	// FEC Payload ID 占位
	buf = append(buf, 0, 0, 0, 0)

	return buf
}

// NewAlcPkt 把 pkt 封成 ALC/LCT 原始字节
func NewAlcPkt(
	o *oti.Oti,
	cci t.Uint128,
	tsi uint64,
	p *object.Pkt,
	prof profile.Profile,
	now time.Time,
) ([]byte, error) {
	codec, err := Instance(o.FecEncodingID)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(p.Payload)+64)

	// 1) LCT 头（psi=0）
	lct.PushLCTHeader(&buf, 0, cci, tsi, p.Toi, uint8(o.FecEncodingID), p.CloseObject, false)

	// 2) FDT 扩展（仅 FDT 包）
	if p.Toi.Equal(lct.TOI_FDT) && p.FdtID != nil {
		var version uint32
		switch prof {
		case profile.RFC3926:
			version = 1
		default:
			version = 2
		}
		pushExtFDT(&buf, version, *p.FdtID)
	}

	// 3) CENC 扩展（FDT 且非 Null，或者 inband_cenc）
	if (p.Toi.Equal(lct.TOI_FDT) && p.Cenc != lct.CencNull) || p.InbandCenc {
		pushCenc(&buf, uint8(p.Cenc))
	}

	// 4) Sender Current Time
	if p.SenderCurrentTime {
		pushSCT(&buf, now)
	}

	// 5) FTI + FEC Payload ID
	if p.Toi.Equal(lct.TOI_FDT) || o.InBandFti {
		codec.AddFti(&buf, *o, p.TransferLength)
	}
	codec.AddFecPayloadId(&buf, *o, *p)

	// 6) Payload
	buf = append(buf, p.Payload...)

	return buf, nil
}

// ParseAlcPkt 解析 ALC 包
func ParseAlcPkt(data []byte) (*AlcPkt, error) {
	hdr, err := lct.ParseLCTHeader(data)
	if err != nil {
		return nil, err
	}

	fecID, err := oti.FECEncodingIDFromByte(hdr.Cp)
	if err != nil {
		return nil, err
	}

	codec, err := Instance(fecID)
	if err != nil {
		return nil, err
	}
	fecPIDLen := codec.FecPayloadIdBlockLength()
	if int(fecPIDLen)+int(hdr.Len) > len(data) {
		return nil, fmt.Errorf("%w: wrong ALC size: fecPIDLen=%d, lctLen=%d, dataLen=%d",
			lct.ErrMalformedPacket, fecPIDLen, hdr.Len, len(data))
	}

	// FTI
	otiPtr, transferLen, err := codec.GetFti(data, *hdr)
	if err != nil {
		return nil, err
	}
	var tlPtr *uint64
	if otiPtr != nil {
		tlPtr = &transferLen
	}

	alcHeaderOffset := int(hdr.Len)
	payloadOffset := int(fecPIDLen) + int(hdr.Len)

	// CENC
	var cencPtr *lct.Cenc
	if ext, err := lct.GetExt(data, hdr, uint8(lct.ExtCenc)); err == nil && ext != nil {
		if c, err := parseCenc(ext); err == nil {
			cencPtr = &c
		}
	}

	// FDT info (仅当 TOI==FDT)
	var fdtInfo *ExtFDT
	if hdr.Toi.Equal(lct.TOI_FDT) {
		if ext, err := lct.GetExt(data, hdr, uint8(lct.ExtFdt)); err == nil && ext != nil {
			if info, err := parseExtFDT(ext); err == nil {
				fdtInfo = info
			}
		}
	}

	return &AlcPkt{
		Lct:                 *hdr,
		Oti:                 otiPtr,
		TransferLength:      tlPtr,
		Cenc:                cencPtr,
		ServerTime:          nil,
		Data:                data,
		DataAlcHeaderOffset: alcHeaderOffset,
		DataPayloadOffset:   payloadOffset,
		FdtInfo:             fdtInfo,
	}, nil
}

// GetSenderCurrentTime 解析 EXT_TIME
func GetSenderCurrentTime(pkt *AlcPkt) (*time.Time, error) {
	ext, err := lct.GetExt(pkt.Data, &pkt.Lct, uint8(lct.ExtTime))
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, nil
	}
	return parseSCT(ext)
}

// ParsePayloadID 使用 codec 从包中解析 PayloadID
func ParsePayloadID(pkt *AlcPkt, o *oti.Oti) (*PayloadID, error) {
	codec, err := Instance(o.FecEncodingID)
	if err != nil {
		return nil, err
	}
	pl, err := codec.GetFecPayloadId(*pkt, *o)
	if err != nil {
		return nil, err
	}
	return &pl, nil
}

// GetFecInlinePayloadId 解析 inline FEC Payload Id
func GetFecInlinePayloadId(pkt *AlcPkt) (*PayloadID, error) {
	fecID, err := oti.FECEncodingIDFromByte(pkt.Lct.Cp)
	if err != nil {
		return nil, err
	}
	codec, err := Instance(fecID)
	if err != nil {
		return nil, err
	}
	pl, err := codec.GetFecInlinePayloadId(*pkt)
	if err != nil {
		return nil, err
	}
	return &pl, nil
}

// ---------------- helpers ----------------

func pushExtFDT(buf *[]byte, version uint32, fdtID uint32) {
	// (HET=192)<<24 | (V)<<20 | FDT Instance ID(20bit)
	ext := (uint32(lct.ExtFdt) << 24) | (version << 20) | (fdtID & 0xFFFFF)
	*buf = append(*buf, byte(ext>>24), byte(ext>>16), byte(ext>>8), byte(ext))
	lct.IncHdrLen(*buf, 1)
}

func pushCenc(buf *[]byte, cenc uint8) {
	// HET=193, Cenc in bits[23:16]
	ext := (uint32(lct.ExtCenc) << 24) | (uint32(cenc) << 16)
	*buf = append(*buf, byte(ext>>24), byte(ext>>16), byte(ext>>8), byte(ext))
	lct.IncHdrLen(*buf, 1)
}

func parseCenc(ext []byte) (lct.Cenc, error) {
	if len(ext) != 4 {
		return lct.CencNull, fmt.Errorf("%w: wrong CENC ext len", lct.ErrMalformedPacket)
	}
	val := ext[1]
	switch lct.Cenc(val) {
	case lct.CencNull, lct.CencZlib, lct.CencDeflate, lct.CencGzip:
		return lct.Cenc(val), nil
	default:
		return lct.CencNull, fmt.Errorf("unsupported Cenc=%d", val)
	}
}

func pushSCT(buf *[]byte, tm time.Time) {
	// HET=2, HEL=3, Use: SCT_hi=1, SCT_low=1
	header := (uint32(lct.ExtTime) << 24) | (3 << 16) | (1 << 15) | (1 << 14)

	ntp, err := tools.SystemTimeToNTP(tm)
	if err != nil {
		return
	}
	*buf = append(*buf, byte(header>>24), byte(header>>16), byte(header>>8), byte(header))
	*buf = append(*buf, byte(ntp>>56), byte(ntp>>48), byte(ntp>>40), byte(ntp>>32)) // seconds (hi 32)
	*buf = append(*buf, byte(ntp>>24), byte(ntp>>16), byte(ntp>>8), byte(ntp))      // fraction (low 32)
	lct.IncHdrLen(*buf, 3)
}

func parseSCT(ext []byte) (*time.Time, error) {
	if len(ext) < 4 {
		return nil, fmt.Errorf("%w: sct too short", lct.ErrMalformedPacket)
	}
	useBits := ext[2]
	sctHi := (useBits >> 7) & 1
	sctLo := (useBits >> 6) & 1
	ert := (useBits >> 5) & 1
	slc := (useBits >> 4) & 1

	expected := int((sctHi + sctLo + ert + slc + 1) * 4)
	if len(ext) != expected {
		return nil, fmt.Errorf("%w: wrong sct length: expect=%d, got=%d", lct.ErrMalformedPacket, expected, len(ext))
	}
	if sctHi == 0 {
		return nil, nil
	}

	sec := uint32(ext[4])<<24 | uint32(ext[5])<<16 | uint32(ext[6])<<8 | uint32(ext[7])
	fra := uint32(0)
	if sctLo == 1 && len(ext) >= 12 {
		fra = uint32(ext[8])<<24 | uint32(ext[9])<<16 | uint32(ext[10])<<8 | uint32(ext[11])
	}
	ntp := (uint64(sec) << 32) | uint64(fra)
	tm, err := tools.NTPToSystemTime(ntp)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func parseExtFDT(ext []byte) (*ExtFDT, error) {
	if len(ext) != 4 {
		return nil, fmt.Errorf("%w: wrong FDT ext len", lct.ErrMalformedPacket)
	}
	val := uint32(ext[0])<<24 | uint32(ext[1])<<16 | uint32(ext[2])<<8 | uint32(ext[3])
	version := (val >> 20) & 0xF
	instanceID := val & 0xFFFFF
	return &ExtFDT{
		Version:       version,
		FdtInstanceID: instanceID,
	}, nil
}
