package sender

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"

	t "github.com/ypo/flute/pkg/type"
)

// TOIMaxLength TOI 的最大位宽。按 maximum_source_block_length 和预期对象数选择，
// 默认 112 位（LCT 头 O=3 + H）。
type TOIMaxLength int

const (
	ToiMax16 TOIMaxLength = iota
	ToiMax32
	ToiMax48
	ToiMax64
	ToiMax80
	ToiMax112
)

type toiAllocatorInternal struct {
	toiReserved  map[string]struct{}
	toi          t.Uint128
	toiMaxLength TOIMaxLength
}

// ToiAllocator 会话内的 TOI 分配器。TOI=0 保留给 FDT。
type ToiAllocator struct {
	mu    sync.Mutex
	state *toiAllocatorInternal
}

// Toi 已分配的 TOI
type Toi struct {
	allocator *ToiAllocator
	value     t.Uint128
}

func newInternal(toiMaxLength TOIMaxLength, toiInitialValue *t.Uint128) *toiAllocatorInternal {
	var toi t.Uint128
	if toiInitialValue != nil {
		if toiInitialValue.IsZero() {
			toi = t.Uint128{High: 0, Low: 1}
		} else {
			toi = *toiInitialValue
		}
	} else {
		// 随机起点
		toi = t.Uint128{High: rand.Uint64(), Low: rand.Uint64()}
	}

	toi = toMaxLength(toi, toiMaxLength)
	if toi.IsZero() {
		toi = toi.AddUint64(1)
	}

	return &toiAllocatorInternal{
		toiReserved:  make(map[string]struct{}),
		toi:          toi,
		toiMaxLength: toiMaxLength,
	}
}

// toMaxLength 按位掩码限制 TOI 长度
func toMaxLength(toi t.Uint128, toiMaxLength TOIMaxLength) t.Uint128 {
	switch toiMaxLength {
	case ToiMax16:
		return toi.And64(0xFFFF)
	case ToiMax32:
		return toi.And64(0xFFFFFFFF)
	case ToiMax48:
		return toi.And64(0xFFFFFFFFFFFF)
	case ToiMax64:
		return t.Uint128{High: 0, Low: toi.Low}
	case ToiMax80:
		return t.Uint128{High: toi.High & 0xFFFF, Low: toi.Low}
	case ToiMax112:
		return t.Uint128{High: toi.High & 0xFFFFFFFFFFFF, Low: toi.Low}
	default:
		return toi
	}
}

func (i *toiAllocatorInternal) allocate() t.Uint128 {
	ret := i.toi
	key := ret.String()
	if _, ok := i.toiReserved[key]; ok {
		panic("TOI already reserved")
	}
	i.toiReserved[key] = struct{}{}

	// 找下一个可用值；回绕时跳过 TOI=0
	for {
		i.toi = toMaxLength(i.toi.AddUint64(1), i.toiMaxLength)
		if i.toi.IsZero() {
			i.toi = t.Uint128{High: 0, Low: 1}
		}
		if _, ok := i.toiReserved[i.toi.String()]; !ok {
			break
		}
		log.Warn().Msgf("TOI %s is already used by a file or reserved", i.toi.String())
	}
	return ret
}

func (i *toiAllocatorInternal) release(toi t.Uint128) {
	delete(i.toiReserved, toi.String())
}

func NewToiAllocator(toiMaxLength TOIMaxLength, toiInitialValue *t.Uint128) *ToiAllocator {
	return &ToiAllocator{
		state: newInternal(toiMaxLength, toiInitialValue),
	}
}

func (a *ToiAllocator) Allocate() *Toi {
	a.mu.Lock()
	defer a.mu.Unlock()
	val := a.state.allocate()
	return &Toi{
		allocator: a,
		value:     val,
	}
}

// AllocateToiFDT FDT 固定使用 TOI=0
func (a *ToiAllocator) AllocateToiFDT() *Toi {
	return &Toi{
		allocator: a,
		value:     t.Uint128{},
	}
}

func (a *ToiAllocator) Release(toi t.Uint128) {
	if toi.IsZero() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.release(toi)
}

func (toi *Toi) Get() t.Uint128 {
	return toi.value
}

// Release 手动释放 TOI（Go 没有析构）
func (toi *Toi) Release() {
	toi.allocator.Release(toi.value)
}
