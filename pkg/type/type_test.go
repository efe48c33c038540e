package _type

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint128Decimal(t *testing.T) {
	require.Equal(t, "0", Uint128{}.Decimal())
	require.Equal(t, "42", FromUint64(42).Decimal())
	require.Equal(t, "18446744073709551616", Uint128{High: 1, Low: 0}.Decimal())

	u, err := ParseDecimal("18446744073709551616")
	require.NoError(t, err)
	require.True(t, u.Equal(Uint128{High: 1, Low: 0}))

	u, err = ParseDecimal("42")
	require.NoError(t, err)
	require.True(t, u.Equal(FromUint64(42)))

	_, err = ParseDecimal("12x")
	require.Error(t, err)
	_, err = ParseDecimal("")
	require.Error(t, err)
}

func TestUint128HexString(t *testing.T) {
	u := Uint128{High: 0xAB, Low: 0xCD}
	require.Equal(t, u, StringToUint128(u.String()))
	require.Equal(t, Uint128{}, StringToUint128("zz"))
}

func TestUint128Arithmetic(t *testing.T) {
	u := Uint128{High: 0, Low: ^uint64(0)}
	v := u.AddUint64(1)
	require.Equal(t, Uint128{High: 1, Low: 0}, v)

	res, carry := u.Add(FromUint64(1))
	require.False(t, carry)
	require.Equal(t, Uint128{High: 1, Low: 0}, res)

	res, borrow := res.Sub(FromUint64(1))
	require.False(t, borrow)
	require.Equal(t, u, res)

	require.True(t, FromUint64(1).Less(FromUint64(2)))
	require.True(t, Uint128{High: 1}.Greater(FromUint64(2)))
}
