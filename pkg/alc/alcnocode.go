package alc

import (
	"encoding/binary"
	"fmt"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
)

// AlcNoCode FEC id 0 (Compact No-Code, RFC 5445)
type AlcNoCode struct{}

// AddFti 写入 FTI 扩展
/*
| HET = 64      |    HEL = 4    |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                      Transfer Length                          |
+                               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                               |           Reserved            |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|    Encoding Symbol Length     | Max. Source Block Length (MSB)|
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
| Max. Source Block Length (LSB)|
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
func (c *AlcNoCode) AddFti(data *[]byte, o oti.Oti, transferLength uint64) {
	extHeader := (uint16(lct.ExtFti) << 8) | 4
	transferHeader := transferLength << 16
	esl := o.EncodingSymbolLength
	sblMSB := uint16((o.MaximumSourceBlockLength >> 16) & 0xFFFF)
	sblLSB := uint16(o.MaximumSourceBlockLength & 0xFFFF)

	var u16 [2]byte
	var u64 [8]byte

	binary.BigEndian.PutUint16(u16[:], extHeader)
	*data = append(*data, u16[:]...)

	binary.BigEndian.PutUint64(u64[:], transferHeader)
	*data = append(*data, u64[:]...)

	binary.BigEndian.PutUint16(u16[:], esl)
	*data = append(*data, u16[:]...)

	binary.BigEndian.PutUint16(u16[:], sblMSB)
	*data = append(*data, u16[:]...)

	binary.BigEndian.PutUint16(u16[:], sblLSB)
	*data = append(*data, u16[:]...)

	lct.IncHdrLen(*data, 4)
}

func (c *AlcNoCode) GetFti(data []byte, lctHeader lct.LCTHeader) (*oti.Oti, uint64, error) {
	fti, err := lct.GetExt(data, &lctHeader, uint8(lct.ExtFti))
	if err != nil {
		return nil, 0, err
	}
	if fti == nil {
		return nil, 0, nil
	}
	if len(fti) != 16 {
		return nil, 0, fmt.Errorf("%w: wrong extension size: %d", lct.ErrMalformedPacket, len(fti))
	}
	if fti[0] != uint8(lct.ExtFti) || fti[1] != 4 {
		return nil, 0, fmt.Errorf("%w: wrong HET/HEL for FTI", lct.ErrMalformedPacket)
	}

	transferLength := binary.BigEndian.Uint64(fti[2:10]) >> 16
	encodingSymbolLength := binary.BigEndian.Uint16(fti[10:12])
	maximumSourceBlockLength := binary.BigEndian.Uint32(fti[12:16])

	o := &oti.Oti{
		FecEncodingID:            oti.NoCode,
		FecInstanceID:            0,
		MaximumSourceBlockLength: maximumSourceBlockLength,
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: 0,
		InBandFti:                true,
	}
	return o, transferLength, nil
}

// AddFecPayloadId 写入 SBN(16) | ESI(16)
func (c *AlcNoCode) AddFecPayloadId(data *[]byte, _ oti.Oti, pkt object.Pkt) {
	header := ((pkt.Sbn & 0xFFFF) << 16) | (pkt.Esi & 0xFFFF)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], header)
	*data = append(*data, b[:]...)
}

func (c *AlcNoCode) GetFecPayloadId(pkt AlcPkt, _ oti.Oti) (PayloadID, error) {
	return c.GetFecInlinePayloadId(pkt)
}

func (c *AlcNoCode) GetFecInlinePayloadId(pkt AlcPkt) (PayloadID, error) {
	data := pkt.Data[pkt.DataAlcHeaderOffset:pkt.DataPayloadOffset]
	if len(data) != 4 {
		return PayloadID{}, fmt.Errorf("%w: invalid payload id length: %d", lct.ErrMalformedPacket, len(data))
	}
	x := binary.BigEndian.Uint32(data)
	return PayloadID{
		Sbn:               x >> 16,
		Esi:               x & 0xFFFF,
		SourceBlockLength: nil,
	}, nil
}

func (c *AlcNoCode) FecPayloadIdBlockLength() uint { return 4 }

func init() {
	Register(oti.NoCode, &AlcNoCode{})
}
