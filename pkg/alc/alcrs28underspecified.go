package alc

import (
	"encoding/binary"
	"fmt"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/tools"
)

// AlcRS28UnderSpecified FEC id 129 (Small Block Systematic, RFC 5445)
type AlcRS28UnderSpecified struct{}

// AddFti 写入 FTI 扩展：HET|HEL | TL(48)+FEC Instance(16) | E(16) | B(16) | max_n(16)
/*
 0                   1                   2                   3
 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                      Transfer Length                          |
+                               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                               |         FEC Instance ID       |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|    Encoding Symbol Length     |  Maximum Source Block Length  |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
| Max. Num. of Encoding Symbols |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
func (c *AlcRS28UnderSpecified) AddFti(data *[]byte, o oti.Oti, transferLength uint64) {
	extHeader := (uint16(lct.ExtFti) << 8) | 4

	// TL 放在高 48 位，与 16 位 FEC Instance 拼成 64 位
	transferHeaderFecID := (transferLength << 16) | uint64(o.FecInstanceID)

	esl := o.EncodingSymbolLength
	sbl := uint16(o.MaximumSourceBlockLength & 0xFFFF)
	mne := uint16((o.MaxNumberOfParitySymbols + o.MaximumSourceBlockLength) & 0xFFFF)

	var u16 [2]byte
	var u64 [8]byte

	binary.BigEndian.PutUint16(u16[:], extHeader)
	*data = append(*data, u16[:]...)

	binary.BigEndian.PutUint64(u64[:], transferHeaderFecID)
	*data = append(*data, u64[:]...)

	binary.BigEndian.PutUint16(u16[:], esl)
	*data = append(*data, u16[:]...)

	binary.BigEndian.PutUint16(u16[:], sbl)
	*data = append(*data, u16[:]...)

	binary.BigEndian.PutUint16(u16[:], mne)
	*data = append(*data, u16[:]...)

	lct.IncHdrLen(*data, 4)
}

func (c *AlcRS28UnderSpecified) GetFti(pktBytes []byte, lctHeader lct.LCTHeader) (*oti.Oti, uint64, error) {
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
		return nil, 0, fmt.Errorf("%w: wrong ext header size %d != 4 for FTI", lct.ErrMalformedPacket, fti[1])
	}

	transferLength := binary.BigEndian.Uint64(fti[2:10]) >> 16
	fecInstanceID := binary.BigEndian.Uint16(fti[8:10])
	encodingSymbolLength := binary.BigEndian.Uint16(fti[10:12])
	maximumSourceBlockLength := binary.BigEndian.Uint16(fti[12:14])
	numEncodingSymbols := binary.BigEndian.Uint16(fti[14:16])

	var parity uint32
	if numEncodingSymbols >= maximumSourceBlockLength {
		parity = uint32(numEncodingSymbols) - uint32(maximumSourceBlockLength)
	}

	o := &oti.Oti{
		FecEncodingID:            oti.ReedSolomonGF28UnderSpecified,
		FecInstanceID:            fecInstanceID,
		MaximumSourceBlockLength: uint32(maximumSourceBlockLength),
		EncodingSymbolLength:     encodingSymbolLength,
		MaxNumberOfParitySymbols: parity,
		InBandFti:                true,
	}
	return o, transferLength, nil
}

// AddFecPayloadId 写入 8 字节：SBN(32) | SBL(16) | ESI(16)
func (c *AlcRS28UnderSpecified) AddFecPayloadId(data *[]byte, _ oti.Oti, pkt object.Pkt) {
	var b4 [4]byte
	var b2 [2]byte

	binary.BigEndian.PutUint32(b4[:], pkt.Sbn)
	*data = append(*data, b4[:]...)

	binary.BigEndian.PutUint16(b2[:], uint16(pkt.SourceBlockLength))
	*data = append(*data, b2[:]...)

	binary.BigEndian.PutUint16(b2[:], uint16(pkt.Esi))
	*data = append(*data, b2[:]...)
}

func (c *AlcRS28UnderSpecified) GetFecPayloadId(pkt AlcPkt, _ oti.Oti) (PayloadID, error) {
	return c.GetFecInlinePayloadId(pkt)
}

func (c *AlcRS28UnderSpecified) GetFecInlinePayloadId(pkt AlcPkt) (PayloadID, error) {
	data := pkt.Data[pkt.DataAlcHeaderOffset:pkt.DataPayloadOffset]
	if len(data) != 8 {
		return PayloadID{}, fmt.Errorf("%w: invalid inline payload id length: %d", lct.ErrMalformedPacket, len(data))
	}

	x := binary.BigEndian.Uint64(data)
	sbn := uint32(x >> 32)
	sbl := uint32((x >> 16) & 0xFFFF)
	esi := uint32(x & 0xFFFF)

	return PayloadID{
		Sbn:               sbn,
		Esi:               esi,
		SourceBlockLength: tools.Uint32Ptr(sbl),
	}, nil
}

func (c *AlcRS28UnderSpecified) FecPayloadIdBlockLength() uint { return 8 }

func init() {
	Register(oti.ReedSolomonGF28UnderSpecified, &AlcRS28UnderSpecified{})
}
