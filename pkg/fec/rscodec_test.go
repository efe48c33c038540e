package fec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRSEncoder(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5}

	encoder, err := NewRSGalois8Codec(2, 3, 4)
	require.NoError(t, err)

	shards, err := encoder.Encode(data)
	require.NoError(t, err)
	require.Len(t, shards, 5)
	for i, s := range shards {
		require.Equal(t, uint32(i), s.ESI())
		require.Len(t, s.Data(), 4)
	}
}

func TestRSTooManySymbols(t *testing.T) {
	_, err := NewRSGalois8Codec(200, 100, 16)
	require.Error(t, err)
}

func TestRSRoundTripWithLoss(t *testing.T) {
	const k, r, esl = 8, 4, 64
	data := make([]byte, k*esl)
	for i := range data {
		data[i] = byte(i * 7)
	}

	encoder, err := NewRSGalois8Codec(k, r, esl)
	require.NoError(t, err)
	shards, err := encoder.Encode(data)
	require.NoError(t, err)
	require.Len(t, shards, k+r)

	// 丢 r 个源符号，乱序注入，重复注入一遍
	decoder, err := NewRSGalois8Codec(k, r, esl)
	require.NoError(t, err)
	for i := len(shards) - 1; i >= 0; i-- {
		if i < r {
			continue // 丢 ESI 0..r-1
		}
		decoder.PushSymbol(shards[i].Data(), shards[i].ESI())
		decoder.PushSymbol(shards[i].Data(), shards[i].ESI()) // 重复幂等
	}

	require.True(t, decoder.CanDecode())
	require.True(t, decoder.Decode())

	block, err := decoder.SourceBlock()
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, block))
}

func TestRSNotEnoughSymbols(t *testing.T) {
	const k, r, esl = 8, 4, 64
	data := make([]byte, k*esl)

	encoder, err := NewRSGalois8Codec(k, r, esl)
	require.NoError(t, err)
	shards, err := encoder.Encode(data)
	require.NoError(t, err)

	// 只给 k-1 个符号
	decoder, err := NewRSGalois8Codec(k, r, esl)
	require.NoError(t, err)
	for _, s := range shards[:k-1] {
		decoder.PushSymbol(s.Data(), s.ESI())
	}
	require.False(t, decoder.CanDecode())
	require.False(t, decoder.Decode())

	_, err = decoder.SourceBlock()
	require.Error(t, err)
}
