package lct

import (
	"testing"

	"github.com/stretchr/testify/require"

	t "github.com/ypo/flute/pkg/type"
)

func TestLCTHeaderRoundTrip(tt *testing.T) {
	cases := []struct {
		name         string
		cci          t.Uint128
		tsi          uint64
		toi          t.Uint128
		closeObject  bool
		closeSession bool
	}{
		{"small", t.Uint128{}, 1, t.FromUint64(1), false, false},
		{"fdt", t.Uint128{}, 42, t.Uint128{}, false, false},
		{"tsi32", t.Uint128{}, 0xABCD1234, t.FromUint64(7), false, false},
		{"tsi64", t.Uint128{}, 0xABCD1234DEADBEEF, t.FromUint64(7), false, false},
		{"toi48", t.Uint128{}, 5, t.FromUint64(0x123456789ABC), false, false},
		{"toi112", t.Uint128{}, 5, t.Uint128{High: 0xFFFF, Low: 0x1122334455667788}, false, false},
		{"close_object", t.Uint128{}, 9, t.FromUint64(3), true, false},
		{"close_session", t.Uint128{}, 9, t.Uint128{}, false, true},
	}

	for _, c := range cases {
		tt.Run(c.name, func(tt *testing.T) {
			buf := make([]byte, 0)
			PushLCTHeader(&buf, 0, c.cci, c.tsi, c.toi, 5, c.closeObject, c.closeSession)

			// 头部长度与 HDR_LEN 字段一致
			require.Equal(tt, int(buf[2])*4, len(buf))

			hdr, err := ParseLCTHeader(buf)
			require.NoError(tt, err)
			require.Equal(tt, c.tsi, hdr.Tsi)
			require.True(tt, c.toi.Equal(hdr.Toi), "toi %s != %s", c.toi, hdr.Toi)
			require.Equal(tt, uint8(5), hdr.Cp)
			require.Equal(tt, c.closeObject, hdr.CloseObject)
			require.Equal(tt, c.closeSession, hdr.CloseSession)
			require.Equal(tt, uint64(len(buf)), hdr.Len)
		})
	}
}

func TestLCTHeaderTruncated(tt *testing.T) {
	buf := make([]byte, 0)
	PushLCTHeader(&buf, 0, t.Uint128{}, 1, t.FromUint64(1), 0, false, false)

	_, err := ParseLCTHeader(buf[:2])
	require.Error(tt, err)

	// HDR_LEN 超过数据包长度
	bad := append([]byte(nil), buf...)
	bad[2] = 0xFF
	_, err = ParseLCTHeader(bad)
	require.Error(tt, err)
}

func TestGetExtSkipsUnknown(tt *testing.T) {
	buf := make([]byte, 0)
	PushLCTHeader(&buf, 0, t.Uint128{}, 1, t.FromUint64(1), 0, false, false)

	// 未知扩展 (HET=130, 固定 4 字节) + EXT_CENC
	buf = append(buf, 130, 0, 0, 0)
	IncHdrLen(buf, 1)
	buf = append(buf, uint8(ExtCenc), uint8(CencGzip), 0, 0)
	IncHdrLen(buf, 1)

	hdr, err := ParseLCTHeader(buf)
	require.NoError(tt, err)

	ext, err := GetExt(buf, hdr, uint8(ExtCenc))
	require.NoError(tt, err)
	require.NotNil(tt, ext)
	require.Equal(tt, uint8(CencGzip), ext[1])

	// 不存在的扩展
	ext, err = GetExt(buf, hdr, uint8(ExtFdt))
	require.NoError(tt, err)
	require.Nil(tt, ext)
}

func TestGetExtMalformed(tt *testing.T) {
	buf := make([]byte, 0)
	PushLCTHeader(&buf, 0, t.Uint128{}, 1, t.FromUint64(1), 0, false, false)

	// HEL=0 的非法扩展
	buf = append(buf, 64, 0, 0, 0)
	IncHdrLen(buf, 1)

	hdr, err := ParseLCTHeader(buf)
	require.NoError(tt, err)

	_, err = GetExt(buf, hdr, uint8(ExtFti))
	require.ErrorIs(tt, err, ErrMalformedPacket)
}
