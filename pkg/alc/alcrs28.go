package alc

import (
	"encoding/binary"
	"fmt"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
)

// AlcRS28 FEC id 5 (RS GF(2^8), RFC 5510)
type AlcRS28 struct{}

// AddFti 写入 FTI 扩展
/*
 0                   1                   2                   3
 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|   HET = 64    |    HEL = 3    |                               |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+                               +
|                      Transfer Length (L)                      |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|   Encoding Symbol Length (E)  | MaxBlkLen (B) |     max_n     |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
func (c *AlcRS28) AddFti(data *[]byte, o oti.Oti, transferLength uint64) {
	const het = uint64(lct.ExtFti) // 64
	const hel = uint64(3)          // 3 * 4 = 12 字节
	extHeaderL := (het << 56) | (hel << 48) | (transferLength & 0xFFFFFFFFFFFF)

	// max_n = 源块长 + 冗余符号数（总符号数）
	maxN := (o.MaxNumberOfParitySymbols + o.MaximumSourceBlockLength) & 0xFF

	// E/B/N 打包成 32-bit：E(16) | B(8) | N(8)
	eBn := (uint32(o.EncodingSymbolLength) << 16) |
		((o.MaximumSourceBlockLength & 0xFF) << 8) |
		(maxN & 0xFF)

	var tmp8 [8]byte
	binary.BigEndian.PutUint64(tmp8[:], extHeaderL)
	*data = append(*data, tmp8[:]...)

	var tmp4 [4]byte
	binary.BigEndian.PutUint32(tmp4[:], eBn)
	*data = append(*data, tmp4[:]...)

	lct.IncHdrLen(*data, 3)
}

func (c *AlcRS28) GetFti(pktBytes []byte, lctHeader lct.LCTHeader) (*oti.Oti, uint64, error) {
	fti, err := lct.GetExt(pktBytes, &lctHeader, uint8(lct.ExtFti))
	if err != nil {
		return nil, 0, err
	}
	if fti == nil {
		return nil, 0, nil
	}
	if len(fti) != 12 {
		return nil, 0, fmt.Errorf("%w: wrong extension size: %d", lct.ErrMalformedPacket, len(fti))
	}
	if fti[0] != uint8(lct.ExtFti) {
		return nil, 0, fmt.Errorf("%w: wrong HET: %d", lct.ErrMalformedPacket, fti[0])
	}
	if fti[1] != 3 {
		return nil, 0, fmt.Errorf("%w: wrong HEL: %d", lct.ErrMalformedPacket, fti[1])
	}

	// 前 8 字节：HET|HEL|TransferLength(48-bit)
	x := binary.BigEndian.Uint64(fti[0:8])
	transferLength := x & 0xFFFFFFFFFFFF

	encodingSymbolLength := binary.BigEndian.Uint16(fti[8:10])
	maxBlkLen := uint32(fti[10])
	numEncodingSymbols := uint32(fti[11])

	var parity uint32
	if numEncodingSymbols >= maxBlkLen {
		parity = numEncodingSymbols - maxBlkLen
	}

	o := &oti.Oti{
		FecEncodingID:            oti.ReedSolomonGF28,
		FecInstanceID:            0,
		MaximumSourceBlockLength: maxBlkLen,
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: parity,
		InBandFti:                true,
	}
	return o, transferLength, nil
}

// AddFecPayloadId 写入 SBN(24) | ESI(8)
func (c *AlcRS28) AddFecPayloadId(data *[]byte, _ oti.Oti, pkt object.Pkt) {
	sbn := pkt.Sbn & 0xFFFFFF
	esi := pkt.Esi & 0xFF
	header := (sbn << 8) | esi

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], header)
	*data = append(*data, b[:]...)
}

func (c *AlcRS28) GetFecPayloadId(pkt AlcPkt, _ oti.Oti) (PayloadID, error) {
	return c.GetFecInlinePayloadId(pkt)
}

func (c *AlcRS28) GetFecInlinePayloadId(pkt AlcPkt) (PayloadID, error) {
	data := pkt.Data[pkt.DataAlcHeaderOffset:pkt.DataPayloadOffset]
	if len(data) != 4 {
		return PayloadID{}, fmt.Errorf("%w: invalid inline payload id length: %d", lct.ErrMalformedPacket, len(data))
	}

	x := binary.BigEndian.Uint32(data)
	return PayloadID{
		Sbn:               x >> 8,
		Esi:               x & 0xFF,
		SourceBlockLength: nil,
	}, nil
}

func (c *AlcRS28) FecPayloadIdBlockLength() uint { return 4 }

func init() {
	Register(oti.ReedSolomonGF28, &AlcRS28{})
}
