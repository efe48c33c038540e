package fec

import (
	"errors"
	"fmt"

	raptorq "github.com/xssnick/raptorq"
)

// 只依赖用到的库方法
type raptorqSymbolDecoder interface {
	AddSymbol(id uint32, data []byte) (bool, error)
	Decode() (bool, []byte, error)
}

// RaptorQEncoder FEC id 6，喷泉码。每个源块一个编码器实例，
// 源符号 ESI 0..k-1，修复符号 ESI k..k+r-1。
type RaptorQEncoder struct {
	nbParitySymbols uint
	symbolLength    uint
}

func NewRaptorQEncoder(nbParitySymbols, encodingSymbolLength uint) *RaptorQEncoder {
	return &RaptorQEncoder{
		nbParitySymbols: nbParitySymbols,
		symbolLength:    encodingSymbolLength,
	}
}

func (e *RaptorQEncoder) Encode(data []byte) ([]FecShard, error) {
	r := raptorq.NewRaptorQ(uint32(e.symbolLength))
	encoder, err := r.CreateEncoder(data)
	if err != nil {
		return nil, fmt.Errorf("fail to create RaptorQ encoder: %w", err)
	}

	nbSource := encoder.BaseSymbolsNum()
	out := make([]FecShard, 0, int(nbSource)+int(e.nbParitySymbols))
	for esi := uint32(0); esi < nbSource+uint32(e.nbParitySymbols); esi++ {
		raw := encoder.GenSymbol(esi)
		dup := make([]byte, len(raw))
		copy(dup, raw)
		out = append(out, NewDataFecShard(dup, esi))
	}
	return out, nil
}

// RaptorQDecoder 收集符号直至库判定可解码
type RaptorQDecoder struct {
	decoder      raptorqSymbolDecoder
	nbSource     int
	maxSymbols   int
	nbReceived   int
	seen         map[uint32]struct{}
	data         []byte
	blockSize    int
	symbolLength int
	failed       bool
}

func NewRaptorQDecoder(nbSourceSymbols, nbParitySymbols, encodingSymbolLength, blockSize int) (*RaptorQDecoder, error) {
	if nbParitySymbols <= 0 {
		// FTI 不携带修复符号数，留出收集余量
		nbParitySymbols = nbSourceSymbols/2 + 8
	}
	r := raptorq.NewRaptorQ(uint32(encodingSymbolLength))
	decoder, err := r.CreateDecoder(uint32(blockSize))
	if err != nil {
		return nil, fmt.Errorf("fail to create RaptorQ decoder: %w", err)
	}
	return &RaptorQDecoder{
		decoder:      decoder,
		nbSource:     nbSourceSymbols,
		maxSymbols:   nbSourceSymbols + nbParitySymbols,
		seen:         make(map[uint32]struct{}),
		blockSize:    blockSize,
		symbolLength: encodingSymbolLength,
	}, nil
}

func (d *RaptorQDecoder) PushSymbol(encodingSymbol []byte, esi uint32) {
	if d.data != nil || d.failed {
		return
	}
	if _, dup := d.seen[esi]; dup {
		return
	}
	// 缓存上限 (k+r) 个符号
	if d.nbReceived >= d.maxSymbols {
		return
	}
	d.seen[esi] = struct{}{}
	if _, err := d.decoder.AddSymbol(esi, encodingSymbol); err != nil {
		return
	}
	d.nbReceived++
}

func (d *RaptorQDecoder) CanDecode() bool {
	return d.data != nil || d.nbReceived >= d.nbSource
}

func (d *RaptorQDecoder) Decode() bool {
	if d.data != nil {
		return true
	}
	if !d.CanDecode() {
		return false
	}
	can, decoded, err := d.decoder.Decode()
	if err != nil {
		d.failed = true
		return false
	}
	if !can || decoded == nil {
		// 符号还不够，继续收集
		return false
	}
	if len(decoded) > d.blockSize {
		decoded = decoded[:d.blockSize]
	}
	d.data = decoded
	d.seen = nil
	return true
}

func (d *RaptorQDecoder) SourceBlock() ([]byte, error) {
	if d.data == nil {
		return nil, errors.New("block not decoded")
	}
	return d.data, nil
}
