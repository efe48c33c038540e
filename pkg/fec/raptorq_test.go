package fec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRaptorQRoundTrip(t *testing.T) {
	const esl = 64
	data := make([]byte, 10*esl)
	for i := range data {
		data[i] = byte(i * 13)
	}

	encoder := NewRaptorQEncoder(4, esl)
	shards, err := encoder.Encode(data)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(shards), 10)

	decoder, err := NewRaptorQDecoder(10, 4, esl, len(data))
	require.NoError(t, err)

	for _, s := range shards {
		if decoder.CanDecode() && decoder.Decode() {
			break
		}
		decoder.PushSymbol(s.Data(), s.ESI())
	}

	require.True(t, decoder.Decode())
	block, err := decoder.SourceBlock()
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, block))
}
