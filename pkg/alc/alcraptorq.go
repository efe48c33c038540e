package alc

import (
	"encoding/binary"
	"fmt"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/tools"
)

// AlcRaptorQ FEC id 6 (RFC 6330)
type AlcRaptorQ struct{}

// AddFti 写入 FTI 扩展
/*
| HET = 64      |    HEL = 4    |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|                      Transfer Length (F)                      |
+               +-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|               |    Reserved   |           Symbol Size (T)     |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|       Z       |              N                |       Al      |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
|          PADDING              |
+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+

Transfer Length (F): 40-bit unsigned integer
Symbol Size (T): 16-bit unsigned integer.
The number of source blocks (Z): 8-bit unsigned integer.
The number of sub-blocks (N): 16-bit unsigned integer.
A symbol alignment parameter (Al): 8-bit unsigned integer.
*/
func (c *AlcRaptorQ) AddFti(data *[]byte, o oti.Oti, transferLength uint64) {
	if o.RaptorQSchemeSpecific == nil {
		return
	}
	rq := o.RaptorQSchemeSpecific

	const hel = 4
	extHeader := (uint16(lct.ExtFti) << 8) | hel
	transferHeader := (transferLength << 24) | (uint64(o.EncodingSymbolLength) & 0xFFFF)

	var u16 [2]byte
	var u64 [8]byte

	binary.BigEndian.PutUint16(u16[:], extHeader)
	*data = append(*data, u16[:]...)

	binary.BigEndian.PutUint64(u64[:], transferHeader)
	*data = append(*data, u64[:]...)

	// Z 按实际分块数下发，接收端由 Z 反推块结构
	z := rq.SourceBlocksLength
	if blockBytes := uint64(o.MaximumSourceBlockLength) * uint64(o.EncodingSymbolLength); blockBytes > 0 && transferLength > 0 {
		nb := tools.DivCeil(transferLength, blockBytes)
		if nb > 0 && nb <= 0xFF {
			z = uint8(nb)
		}
	}

	*data = append(*data, z)
	binary.BigEndian.PutUint16(u16[:], rq.SubBlocksLength)
	*data = append(*data, u16[:]...)
	*data = append(*data, rq.SymbolAlignment)

	// padding
	*data = append(*data, 0, 0)

	lct.IncHdrLen(*data, hel)
}

func (c *AlcRaptorQ) GetFti(pktBytes []byte, lctHeader lct.LCTHeader) (*oti.Oti, uint64, error) {
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

	transferLength := binary.BigEndian.Uint64(fti[2:10]) >> 24
	symbolSize := binary.BigEndian.Uint16(fti[8:10])
	z := fti[10]
	n := binary.BigEndian.Uint16(fti[11:13])
	al := fti[13]

	if z == 0 {
		return nil, 0, fmt.Errorf("%w: Z is null", lct.ErrMalformedPacket)
	}
	if al == 0 {
		return nil, 0, fmt.Errorf("%w: AL must be at least 1", lct.ErrMalformedPacket)
	}
	if symbolSize%uint16(al) != 0 {
		return nil, 0, fmt.Errorf("%w: symbol size is not properly aligned", lct.ErrMalformedPacket)
	}

	blockSize := tools.DivCeil(transferLength, uint64(z))
	maximumSourceBlockLength := tools.DivCeil(blockSize, uint64(symbolSize))

	o := &oti.Oti{
		FecEncodingID:            oti.RaptorQ,
		FecInstanceID:            0,
		MaximumSourceBlockLength: uint32(maximumSourceBlockLength),
		EncodingSymbolLength:     symbolSize,
		MaxNumberOfParitySymbols: 0, // FTI 不携带，喷泉码无硬上限
		RaptorQSchemeSpecific: &oti.RaptorQSchemeSpecific{
			SourceBlocksLength: z,
			SubBlocksLength:    n,
			SymbolAlignment:    al,
		},
		InBandFti: true,
	}
	return o, transferLength, nil
}

// AddFecPayloadId 写入 SBN(8) | ESI(24)
func (c *AlcRaptorQ) AddFecPayloadId(data *[]byte, _ oti.Oti, pkt object.Pkt) {
	header := ((pkt.Sbn & 0xFF) << 24) | (pkt.Esi & 0xFFFFFF)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], header)
	*data = append(*data, b[:]...)
}

func (c *AlcRaptorQ) GetFecPayloadId(pkt AlcPkt, _ oti.Oti) (PayloadID, error) {
	return c.GetFecInlinePayloadId(pkt)
}

func (c *AlcRaptorQ) GetFecInlinePayloadId(pkt AlcPkt) (PayloadID, error) {
	data := pkt.Data[pkt.DataAlcHeaderOffset:pkt.DataPayloadOffset]
	if len(data) != 4 {
		return PayloadID{}, fmt.Errorf("%w: invalid inline payload id length: %d", lct.ErrMalformedPacket, len(data))
	}
	x := binary.BigEndian.Uint32(data)
	return PayloadID{
		Sbn:               x >> 24,
		Esi:               x & 0xFFFFFF,
		SourceBlockLength: nil,
	}, nil
}

func (c *AlcRaptorQ) FecPayloadIdBlockLength() uint { return 4 }

func init() {
	Register(oti.RaptorQ, &AlcRaptorQ{})
}
