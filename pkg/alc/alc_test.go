package alc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/profile"
	t "github.com/ypo/flute/pkg/type"
)

func buildPkt(toi t.Uint128) *object.Pkt {
	return &object.Pkt{
		Payload:           []byte("0123456789"),
		TransferLength:    1000,
		Esi:               3,
		Sbn:               2,
		Toi:               toi,
		Cenc:              lct.CencNull,
		InbandCenc:        false,
		CloseObject:       false,
		SourceBlockLength: 8,
		SenderCurrentTime: true,
	}
}

func roundTrip(tt *testing.T, o *oti.Oti) *AlcPkt {
	pkt := buildPkt(t.FromUint64(5))
	now := time.Unix(1718000000, 0).UTC()

	data, err := NewAlcPkt(o, t.Uint128{}, 77, pkt, profile.RFC6726, now)
	require.NoError(tt, err)

	decoded, err := ParseAlcPkt(data)
	require.NoError(tt, err)
	require.Equal(tt, uint64(77), decoded.Lct.Tsi)
	require.True(tt, decoded.Lct.Toi.Equal(pkt.Toi))
	require.Equal(tt, uint8(o.FecEncodingID), decoded.Lct.Cp)

	// 带内 FTI
	require.NotNil(tt, decoded.Oti)
	require.Equal(tt, o.FecEncodingID, decoded.Oti.FecEncodingID)
	require.Equal(tt, o.EncodingSymbolLength, decoded.Oti.EncodingSymbolLength)
	require.NotNil(tt, decoded.TransferLength)
	require.Equal(tt, uint64(1000), *decoded.TransferLength)

	// EXT_TIME
	sct, err := GetSenderCurrentTime(decoded)
	require.NoError(tt, err)
	require.NotNil(tt, sct)
	require.Equal(tt, now.Unix(), sct.Unix())

	// Payload
	require.Equal(tt, []byte("0123456789"), decoded.Data[decoded.DataPayloadOffset:])

	return decoded
}

func TestAlcNoCodeRoundTrip(tt *testing.T) {
	o := oti.NewNoCode(10, 8)
	decoded := roundTrip(tt, o)
	require.Equal(tt, uint32(8), decoded.Oti.MaximumSourceBlockLength)

	pl, err := ParsePayloadID(decoded, decoded.Oti)
	require.NoError(tt, err)
	require.Equal(tt, uint32(2), pl.Sbn)
	require.Equal(tt, uint32(3), pl.Esi)
}

func TestAlcRS28RoundTrip(tt *testing.T) {
	o, err := oti.NewReedSolomonRS28(10, 8, 4)
	require.NoError(tt, err)
	decoded := roundTrip(tt, o)
	require.Equal(tt, uint32(4), decoded.Oti.MaxNumberOfParitySymbols)

	pl, err := ParsePayloadID(decoded, decoded.Oti)
	require.NoError(tt, err)
	require.Equal(tt, uint32(2), pl.Sbn)
	require.Equal(tt, uint32(3), pl.Esi)
}

func TestAlcRS28UnderSpecifiedRoundTrip(tt *testing.T) {
	o, err := oti.NewReedSolomonRS28UnderSpecified(10, 8, 4)
	require.NoError(tt, err)
	decoded := roundTrip(tt, o)

	pl, err := ParsePayloadID(decoded, decoded.Oti)
	require.NoError(tt, err)
	require.Equal(tt, uint32(2), pl.Sbn)
	require.Equal(tt, uint32(3), pl.Esi)
	require.NotNil(tt, pl.SourceBlockLength)
	require.Equal(tt, uint32(8), *pl.SourceBlockLength)
}

func TestAlcRS2mRoundTrip(tt *testing.T) {
	o, err := oti.NewReedSolomonRS2M(10, 8, 4, 8, 1)
	require.NoError(tt, err)
	decoded := roundTrip(tt, o)
	require.NotNil(tt, decoded.Oti.ReedSolomonGF2MSchemeSpecific)
	require.Equal(tt, uint8(8), decoded.Oti.ReedSolomonGF2MSchemeSpecific.M)

	pl, err := ParsePayloadID(decoded, decoded.Oti)
	require.NoError(tt, err)
	require.Equal(tt, uint32(2), pl.Sbn)
	require.Equal(tt, uint32(3), pl.Esi)
}

func TestAlcRaptorQRoundTrip(tt *testing.T) {
	o, err := oti.NewRaptorQ(10, 8, 4, 1, 1)
	require.NoError(tt, err)
	decoded := roundTrip(tt, o)
	require.NotNil(tt, decoded.Oti.RaptorQSchemeSpecific)

	pl, err := ParsePayloadID(decoded, decoded.Oti)
	require.NoError(tt, err)
	require.Equal(tt, uint32(2), pl.Sbn)
	require.Equal(tt, uint32(3), pl.Esi)
}

func TestAlcFdtPacket(tt *testing.T) {
	o := oti.NewNoCode(1400, 64)
	pkt := buildPkt(lct.TOI_FDT)
	pkt.FdtID = uint32Ptr(7)
	pkt.Cenc = lct.CencGzip
	now := time.Unix(1718000000, 0).UTC()

	data, err := NewAlcPkt(o, t.Uint128{}, 1, pkt, profile.RFC6726, now)
	require.NoError(tt, err)

	decoded, err := ParseAlcPkt(data)
	require.NoError(tt, err)
	require.True(tt, decoded.Lct.Toi.Equal(lct.TOI_FDT))
	require.NotNil(tt, decoded.FdtInfo)
	require.Equal(tt, uint32(7), decoded.FdtInfo.FdtInstanceID)
	require.Equal(tt, uint32(2), decoded.FdtInfo.Version)
	require.NotNil(tt, decoded.Cenc)
	require.Equal(tt, lct.CencGzip, *decoded.Cenc)
}

func TestAlcCloseSession(tt *testing.T) {
	data := NewAlcPktCloseSession(t.Uint128{}, 42)
	decoded, err := ParseAlcPkt(data)
	require.NoError(tt, err)
	require.True(tt, decoded.Lct.CloseSession)
	require.Equal(tt, uint64(42), decoded.Lct.Tsi)
}

func TestAlcTruncatedPacket(tt *testing.T) {
	o := oti.NewNoCode(10, 8)
	pkt := buildPkt(t.FromUint64(5))
	now := time.Unix(1718000000, 0).UTC()

	data, err := NewAlcPkt(o, t.Uint128{}, 77, pkt, profile.RFC6726, now)
	require.NoError(tt, err)

	// 截断到 LCT 头部中间
	_, err = ParseAlcPkt(data[:3])
	require.Error(tt, err)
}

func uint32Ptr(v uint32) *uint32 { return &v }
