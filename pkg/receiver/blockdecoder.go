package receiver

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/fec"
	"github.com/ypo/flute/pkg/oti"
)

// ErrFECDecode 该块判定为不可恢复
var ErrFECDecode = errors.New("fec decode failure")

// BlockDecoder 一个源块的符号缓存 + 解码器
type BlockDecoder struct {
	Completed   bool
	Initialized bool
	BlockSize   int
	decoder     fec.FecDecoder
}

func NewBlockDecoder() *BlockDecoder {
	return &BlockDecoder{}
}

func (b *BlockDecoder) Init(o *oti.Oti, nbSourceSymbols uint32, blockSize int, sbn uint32) error {
	if b.Initialized {
		return nil
	}

	switch o.FecEncodingID {
	case oti.NoCode:
		b.decoder = fec.NewNoCodeDecoder(int(nbSourceSymbols))

	case oti.ReedSolomonGF28, oti.ReedSolomonGF28UnderSpecified:
		codec, err := fec.NewRSGalois8Codec(
			uint(nbSourceSymbols),
			uint(o.MaxNumberOfParitySymbols),
			uint(o.EncodingSymbolLength),
		)
		if err != nil {
			return err
		}
		b.decoder = codec

	case oti.RaptorQ:
		if o.RaptorQSchemeSpecific == nil {
			return errors.New("RaptorQ scheme not found")
		}
		codec, err := fec.NewRaptorQDecoder(
			int(nbSourceSymbols),
			int(o.MaxNumberOfParitySymbols),
			int(o.EncodingSymbolLength),
			blockSize,
		)
		if err != nil {
			return err
		}
		b.decoder = codec

	case oti.ReedSolomonGF2M, oti.Raptor:
		log.Warn().Msgf("FEC decoder not implemented for %s", o.FecEncodingID)
		return errors.New("FEC decoder not implemented for " + o.FecEncodingID.String())

	default:
		return errors.New("unknown FEC encoding ID")
	}

	b.Initialized = true
	b.BlockSize = blockSize
	return nil
}

// SourceBlock 取出解码后的块字节
func (b *BlockDecoder) SourceBlock() ([]byte, error) {
	if b.decoder == nil {
		return nil, ErrFECDecode
	}
	return b.decoder.SourceBlock()
}

// Deallocate 释放符号缓存
func (b *BlockDecoder) Deallocate() {
	b.decoder = nil
	b.BlockSize = 0
}

// Push 接收一个符号，重复到达幂等；达到可解码阈值时尝试解码
func (b *BlockDecoder) Push(pkt *alc.AlcPkt, payloadID *alc.PayloadID) {
	if !b.Initialized || b.Completed {
		return
	}

	payload := pkt.Data[pkt.DataPayloadOffset:]
	b.decoder.PushSymbol(payload, payloadID.Esi)

	if b.decoder.CanDecode() {
		b.Completed = b.decoder.Decode()
		if b.Completed {
			log.Debug().Msg("Block completed")
		}
	}
}
