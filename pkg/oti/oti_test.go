package oti

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReedSolomonRS28BlockTooLarge(t *testing.T) {
	_, err := NewReedSolomonRS28(1024, 250, 10)
	require.ErrorIs(t, err, ErrConfig)

	o, err := NewReedSolomonRS28(1024, 250, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(250), o.MaximumSourceBlockLength)
}

func TestRaptorQAlignment(t *testing.T) {
	_, err := NewRaptorQ(1025, 64, 8, 1, 4)
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewRaptorQ(1024, 64, 8, 1, 0)
	require.ErrorIs(t, err, ErrConfig)

	o, err := NewRaptorQ(1024, 64, 8, 1, 4)
	require.NoError(t, err)
	require.NotNil(t, o.RaptorQSchemeSpecific)
}

func TestSchemeSpecificRoundTrip(t *testing.T) {
	rs := ReedSolomonGF2MSchemeSpecific{M: 8, G: 1}
	decoded, err := DecodeReedSolomonGF2MSchemeSpecific(rs.SchemeSpecific())
	require.NoError(t, err)
	require.Equal(t, rs, *decoded)

	rq := RaptorQSchemeSpecific{SourceBlocksLength: 3, SubBlocksLength: 0x0102, SymbolAlignment: 4}
	decodedRq, err := DecodeRaptorQSchemeSpecific(rq.SchemeSpecific())
	require.NoError(t, err)
	require.Equal(t, rq, *decodedRq)

	rp := RaptorSchemeSpecific{SourceBlocksLength: 0x0304, SubBlocksLength: 2, SymbolAlignment: 1}
	decodedRp, err := DecodeRaptorSchemeSpecific(rp.SchemeSpecific())
	require.NoError(t, err)
	require.Equal(t, rp, *decodedRp)

	_, err = DecodeRaptorQSchemeSpecific("not-base64!!")
	require.Error(t, err)
}

func TestFECEncodingIDFromByte(t *testing.T) {
	for _, id := range []FECEncodingID{NoCode, Raptor, ReedSolomonGF2M, ReedSolomonGF28, RaptorQ, ReedSolomonGF28UnderSpecified} {
		got, err := FECEncodingIDFromByte(uint8(id))
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
	_, err := FECEncodingIDFromByte(42)
	require.Error(t, err)
}
