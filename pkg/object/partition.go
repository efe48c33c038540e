package object

import (
	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/tools"
)

// BlockPartitioning 块划分算法
// See <https://www.rfc-editor.org/rfc/rfc5052#section-9.1>
//
// b: Maximum Source Block Length，每个源块的最大符号数
// l: Transfer Length，字节
// e: Encoding Symbol Length，字节
//
// 返回 (a_large, a_small, nb_a_large, nb_blocks)：
// 大块符号数 / 小块符号数 / 大块个数 / 总块数。
// 块与块之间最多相差一个符号。
func BlockPartitioning(b, l, e uint64) (uint64, uint64, uint64, uint64) {
	if b == 0 {
		log.Warn().Msg("Maximum Source Block Length can not be 0")
		return 0, 0, 0, 0
	}

	if e == 0 {
		log.Warn().Msg("Encoding Symbol Length can not be 0")
		return 0, 0, 0, 0
	}

	t := tools.DivCeil(l, e)
	n := tools.DivCeil(t, b)

	if n == 0 {
		return 0, 0, 0, 0
	}

	aLarge := tools.DivCeil(t, n)
	aSmall := tools.DivFloor(t, n)
	nbALarge := t - (aSmall * n)
	nbBlocks := n
	return aLarge, aSmall, nbALarge, nbBlocks
}

// BlockLength 计算 SBN 对应源块的字节长度
//
// aLarge/aSmall/nbALarge 来自 BlockPartitioning；l 是传输长度，e 是符号长度。
func BlockLength(aLarge, aSmall, nbALarge, l, e uint64, sbn uint32) uint64 {
	sbn64 := uint64(sbn)

	largeBlockSize := aLarge * e
	smallBlockSize := aSmall * e

	if sbn64+1 < nbALarge {
		return largeBlockSize
	}

	if sbn64+1 == nbALarge {
		// 最后一个大块可能被传输长度截断
		remaining := l - sbn64*largeBlockSize
		if remaining < largeBlockSize {
			return remaining
		}
		return largeBlockSize
	}

	// 小块区域
	l -= nbALarge * largeBlockSize
	sbn64 -= nbALarge
	if (sbn64+1)*smallBlockSize <= l {
		return smallBlockSize
	}

	return l - (sbn64 * smallBlockSize)
}
