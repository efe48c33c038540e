package alc

import (
	"encoding/binary"
	"fmt"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
)

// AlcRS2m FEC id 2 (RS GF(2^m), RFC 5510)
type AlcRS2m struct{}

// AddFti 写入 FTI 扩展 (HET=64, HEL=4, 长度16字节)
func (c *AlcRS2m) AddFti(data *[]byte, o oti.Oti, transferLength uint64) {
	if o.ReedSolomonGF2MSchemeSpecific == nil {
		return
	}
	rs := o.ReedSolomonGF2MSchemeSpecific

	extHeaderL := (uint64(lct.ExtFti) << 56) | (4 << 48) | (transferLength & 0xFFFFFFFFFFFF)

	b := uint16(o.MaximumSourceBlockLength)
	maxN := uint16(o.MaxNumberOfParitySymbols + o.MaximumSourceBlockLength)

	var buf8 [8]byte
	binary.BigEndian.PutUint64(buf8[:], extHeaderL)
	*data = append(*data, buf8[:]...)

	*data = append(*data, rs.M, rs.G)

	var buf2 [2]byte
	binary.BigEndian.PutUint16(buf2[:], o.EncodingSymbolLength)
	*data = append(*data, buf2[:]...)

	binary.BigEndian.PutUint16(buf2[:], b)
	*data = append(*data, buf2[:]...)

	binary.BigEndian.PutUint16(buf2[:], maxN)
	*data = append(*data, buf2[:]...)

	lct.IncHdrLen(*data, 4)
}

func (c *AlcRS2m) GetFti(pktBytes []byte, lctHeader lct.LCTHeader) (*oti.Oti, uint64, error) {
	fti, err := lct.GetExt(pktBytes, &lctHeader, uint8(lct.ExtFti))
	if err != nil {
		return nil, 0, err
	}
	if fti == nil {
		return nil, 0, nil
	}
	if len(fti) != 16 {
		return nil, 0, fmt.Errorf("%w: wrong extension size: %d", lct.ErrMalformedPacket, len(fti))
	}
	if fti[0] != uint8(lct.ExtFti) {
		return nil, 0, fmt.Errorf("%w: wrong HET: %d", lct.ErrMalformedPacket, fti[0])
	}
	if fti[1] != 4 {
		return nil, 0, fmt.Errorf("%w: wrong HEL: %d", lct.ErrMalformedPacket, fti[1])
	}

	x := binary.BigEndian.Uint64(fti[0:8])
	transferLength := x & 0xFFFFFFFFFFFF

	m := fti[8]
	g := fti[9]
	encodingSymbolLength := binary.BigEndian.Uint16(fti[10:12])
	b := binary.BigEndian.Uint16(fti[12:14])
	maxN := binary.BigEndian.Uint16(fti[14:16])

	var parity uint32
	if uint32(maxN) >= uint32(b) {
		parity = uint32(maxN) - uint32(b)
	}

	if m == 0 {
		m = 8
	}
	if g == 0 {
		g = 1
	}

	o := &oti.Oti{
		FecEncodingID:            oti.ReedSolomonGF2M,
		FecInstanceID:            0,
		MaximumSourceBlockLength: uint32(b),
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: parity,
		ReedSolomonGF2MSchemeSpecific: &oti.ReedSolomonGF2MSchemeSpecific{
			M: m,
			G: g,
		},
		InBandFti: true,
	}
	return o, transferLength, nil
}

// AddFecPayloadId 写入 (SBN << m) | ESI
func (c *AlcRS2m) AddFecPayloadId(data *[]byte, o oti.Oti, pkt object.Pkt) {
	m := uint8(8)
	if o.ReedSolomonGF2MSchemeSpecific != nil {
		m = o.ReedSolomonGF2MSchemeSpecific.M
	}
	esiMask := (uint32(1) << m) - 1
	header := (pkt.Sbn << m) | (pkt.Esi & esiMask)

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], header)
	*data = append(*data, buf[:]...)
}

func (c *AlcRS2m) GetFecPayloadId(pkt AlcPkt, o oti.Oti) (PayloadID, error) {
	data := pkt.Data[pkt.DataAlcHeaderOffset:pkt.DataPayloadOffset]
	if len(data) != 4 {
		return PayloadID{}, fmt.Errorf("%w: invalid payload id length: %d", lct.ErrMalformedPacket, len(data))
	}
	x := binary.BigEndian.Uint32(data)

	m := uint8(8)
	if o.ReedSolomonGF2MSchemeSpecific != nil {
		m = o.ReedSolomonGF2MSchemeSpecific.M
	}

	esiMask := (uint32(1) << m) - 1
	return PayloadID{
		Sbn:               x >> m,
		Esi:               x & esiMask,
		SourceBlockLength: nil,
	}, nil
}

// GetFecInlinePayloadId RS2M 的 payload id 依赖 OTI 的 m，无法内联解析
func (c *AlcRS2m) GetFecInlinePayloadId(_ AlcPkt) (PayloadID, error) {
	return PayloadID{}, fmt.Errorf("not supported")
}

func (c *AlcRS2m) FecPayloadIdBlockLength() uint { return 4 }

func init() {
	Register(oti.ReedSolomonGF2M, &AlcRS2m{})
}
