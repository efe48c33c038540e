package object

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockPartitioning(t *testing.T) {
	cases := []struct {
		b, l, e uint64
	}{
		{64, 11, 1400},
		{64, 100 * 1024, 1024},
		{8, 1000, 16},
		{64, 64 * 1400, 1400},
		{64, 64*1400 + 1, 1400},
		{1, 5000, 1400},
	}

	for _, c := range cases {
		aLarge, aSmall, nbALarge, nbBlocks := BlockPartitioning(c.b, c.l, c.e)
		require.NotZero(t, nbBlocks, "b=%d l=%d e=%d", c.b, c.l, c.e)

		// 块大小最多相差一个符号
		require.LessOrEqual(t, aLarge-aSmall, uint64(1))
		require.LessOrEqual(t, aLarge, c.b)

		// 符号总数守恒
		totalSymbols := nbALarge*aLarge + (nbBlocks-nbALarge)*aSmall
		require.Equal(t, (c.l+c.e-1)/c.e, totalSymbols)

		// 块字节数之和等于传输长度
		var total uint64
		for sbn := uint64(0); sbn < nbBlocks; sbn++ {
			bl := BlockLength(aLarge, aSmall, nbALarge, c.l, c.e, uint32(sbn))
			require.NotZero(t, bl)
			total += bl
		}
		require.Equal(t, c.l, total, "b=%d l=%d e=%d", c.b, c.l, c.e)
	}
}

func TestBlockPartitioningZeroInput(t *testing.T) {
	_, _, _, nbBlocks := BlockPartitioning(0, 100, 10)
	require.Zero(t, nbBlocks)

	_, _, _, nbBlocks = BlockPartitioning(10, 100, 0)
	require.Zero(t, nbBlocks)
}
