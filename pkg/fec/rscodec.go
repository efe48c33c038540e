package fec

import (
	"errors"
	"fmt"

	rs "github.com/klauspost/reedsolomon"
)

type RsCodecParam struct {
	NbSourceSymbols      uint
	NbParitySymbols      uint
	EncodingSymbolLength uint
}

// RSGalois8Codec RS GF(2^8)，MDS：任意 k 个符号可重建源块
type RSGalois8Codec struct {
	Params RsCodecParam
	Rs     rs.Encoder

	// 解码状态
	shards     [][]byte // k+r，nil 表示缺失
	nbReceived uint
	data       []byte
}

// createShards 把源块切成 k 个定长分片，末片补零，再追加 r 个空的校验分片
func (param *RsCodecParam) createShards(data []byte) ([][]byte, error) {
	esl := int(param.EncodingSymbolLength)
	shards := make([][]byte, 0, param.NbSourceSymbols+param.NbParitySymbols)
	for i := 0; i < len(data); i += esl {
		end := i + esl
		if end > len(data) {
			end = len(data)
		}
		shard := make([]byte, esl)
		copy(shard, data[i:end])
		shards = append(shards, shard)
	}
	if uint(len(shards)) != param.NbSourceSymbols {
		return nil, fmt.Errorf("nb source symbols is %d instead of %d",
			len(shards), param.NbSourceSymbols)
	}
	for i := uint(0); i < param.NbParitySymbols; i++ {
		shards = append(shards, make([]byte, esl))
	}
	return shards, nil
}

func NewRSGalois8Codec(nbSourceSymbols, nbParitySymbols, encodingSymbolLength uint) (*RSGalois8Codec, error) {
	if nbSourceSymbols+nbParitySymbols > 255 {
		return nil, errors.New("fail to create RS codec, k+r > 255")
	}
	encoder, err := rs.New(int(nbSourceSymbols), int(nbParitySymbols))
	if err != nil {
		return nil, fmt.Errorf("fail to create RS codec: %w", err)
	}
	return &RSGalois8Codec{
		Params: RsCodecParam{
			NbSourceSymbols:      nbSourceSymbols,
			NbParitySymbols:      nbParitySymbols,
			EncodingSymbolLength: encodingSymbolLength,
		},
		Rs:     encoder,
		shards: make([][]byte, nbSourceSymbols+nbParitySymbols),
	}, nil
}

func (codec *RSGalois8Codec) PushSymbol(encodingSymbol []byte, esi uint32) {
	if int(esi) >= len(codec.shards) {
		return
	}
	if codec.shards[esi] != nil {
		// 重复符号，忽略
		return
	}
	shard := make([]byte, codec.Params.EncodingSymbolLength)
	copy(shard, encodingSymbol)
	codec.shards[esi] = shard
	codec.nbReceived++
}

func (codec *RSGalois8Codec) CanDecode() bool {
	return codec.nbReceived >= codec.Params.NbSourceSymbols
}

func (codec *RSGalois8Codec) Decode() bool {
	if codec.data != nil {
		return true
	}
	if !codec.CanDecode() {
		return false
	}

	if err := codec.Rs.Reconstruct(codec.shards); err != nil {
		return false
	}

	k := int(codec.Params.NbSourceSymbols)
	output := make([]byte, 0, k*int(codec.Params.EncodingSymbolLength))
	for _, shard := range codec.shards[:k] {
		output = append(output, shard...)
	}
	codec.data = output

	// 释放符号缓存
	codec.shards = nil
	return true
}

func (codec *RSGalois8Codec) SourceBlock() ([]byte, error) {
	if codec.data == nil {
		return nil, errors.New("block not decoded")
	}
	return codec.data, nil
}

func (codec *RSGalois8Codec) Encode(data []byte) ([]FecShard, error) {
	shards, err := codec.Params.createShards(data)
	if err != nil {
		return nil, err
	}
	if err := codec.Rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("fail to encode RS: %w", err)
	}
	out := make([]FecShard, 0, len(shards))
	for i, shard := range shards {
		out = append(out, NewDataFecShard(shard, uint32(i)))
	}
	return out, nil
}
