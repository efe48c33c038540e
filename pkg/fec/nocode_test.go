package fec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoCodeDecoder(t *testing.T) {
	symbols := [][]byte{
		[]byte("hello "),
		[]byte("world "),
		[]byte("!"),
	}

	decoder := NewNoCodeDecoder(len(symbols))

	// 乱序注入
	decoder.PushSymbol(symbols[2], 2)
	require.False(t, decoder.CanDecode())
	decoder.PushSymbol(symbols[0], 0)
	decoder.PushSymbol(symbols[0], 0) // 重复
	require.False(t, decoder.CanDecode())
	decoder.PushSymbol(symbols[1], 1)

	require.True(t, decoder.CanDecode())
	require.True(t, decoder.Decode())

	block, err := decoder.SourceBlock()
	require.NoError(t, err)
	require.True(t, bytes.Equal([]byte("hello world !"), block))
}

func TestNoCodeDecoderOutOfRangeESI(t *testing.T) {
	decoder := NewNoCodeDecoder(2)
	decoder.PushSymbol([]byte("xx"), 5)
	require.False(t, decoder.CanDecode())
}
