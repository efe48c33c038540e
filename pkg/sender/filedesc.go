package sender

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/tools"
	t "github.com/ypo/flute/pkg/type"
)

type FDTPublishMode int

const (
	// FullFDT 每个 FDT 实例列出全部在册对象
	FullFDT FDTPublishMode = iota
	// ObjectsBeingTransferred 增量模式：只列出正在传输的对象
	ObjectsBeingTransferred
)

// TransferInfo 单个文件的传输进度
type TransferInfo struct {
	transferring           bool
	transferCount          uint32
	totalNbTransfer        uint64
	lastTransferEndTime    *time.Time
	lastTransferStartTime  *time.Time
	nextTransferTimestamp  *time.Time
	packetTransmissionTick *time.Duration
	transferStartTime      *time.Time
}

func (ti *TransferInfo) init(obj *ObjectDesc, o *oti.Oti, now time.Time) {
	ti.transferring = true
	now2 := now
	ti.lastTransferStartTime = &now2

	// target acquisition：把剩余时间平摊到每个包，得到逐包节拍
	var pktTick *time.Duration
	if obj.TargetAcquisition != nil {
		switch obj.TargetAcquisition.Choice {
		case AsFastAsPossible:
			// 不限速
		case WithinDuration:
			nbPackets := tools.DivCeil(obj.TransferLength, uint64(o.EncodingSymbolLength))
			if nbPackets > 0 {
				d := tools.DurationDivFloat(obj.TargetAcquisition.Duration, float64(nbPackets))
				pktTick = &d
			}
		case WithinTime:
			dur := obj.TargetAcquisition.At.Sub(now)
			if dur <= 0 {
				log.Warn().Msgf("Target acquisition time is in the past for %s", obj.ContentLocation)
			}
			nbPackets := tools.DivCeil(obj.TransferLength, uint64(o.EncodingSymbolLength))
			if nbPackets > 0 && dur > 0 {
				d := tools.DurationDivFloat(dur, float64(nbPackets))
				pktTick = &d
			}
		}
	}

	ti.packetTransmissionTick = pktTick
	if ti.packetTransmissionTick != nil {
		nt := now
		ti.nextTransferTimestamp = &nt
	} else {
		ti.nextTransferTimestamp = nil
	}

	// 轮播：计数到达最大次数后清零，进入新一轮
	if obj.MaxTransferCount > 0 && obj.CarouselMode != nil {
		if ti.transferCount == obj.MaxTransferCount {
			ti.transferCount = 0
		}
	}
}

func (ti *TransferInfo) done(now time.Time) {
	ti.transferring = false
	ti.transferCount++
	ti.totalNbTransfer++
	now2 := now
	ti.lastTransferEndTime = &now2
}

func (ti *TransferInfo) tick() {
	if ti.packetTransmissionTick == nil || ti.nextTransferTimestamp == nil {
		return
	}
	next := ti.nextTransferTimestamp.Add(*ti.packetTransmissionTick)
	ti.nextTransferTimestamp = &next
}

// FileDesc 在册文件，持有传输状态
type FileDesc struct {
	Priority          uint32
	Object            *ObjectDesc
	Oti               oti.Oti
	FdtID             *uint32
	SenderCurrentTime bool
	TOI               t.Uint128

	published    atomic.Bool
	mu           sync.RWMutex
	transferInfo TransferInfo
}

func NewFileDesc(
	priority uint32,
	obj *ObjectDesc,
	defaultOti *oti.Oti,
	fdtID *uint32,
	senderCurrentTime bool,
) (*FileDesc, error) {
	if obj.Toi == nil {
		return nil, fmt.Errorf("object TOI is required")
	}

	// 对象级 OTI 优先，否则会话默认
	otiVal := *defaultOti
	if obj.OTI != nil {
		otiVal = *obj.OTI
	}

	maxTransferLen := otiVal.MaxTransferLength()
	if obj.TransferLength > maxTransferLen {
		return nil, fmt.Errorf(
			"object transfer length of %d is bigger than %d, incompatible with OTI",
			obj.TransferLength, maxTransferLen,
		)
	}

	ti := TransferInfo{
		transferStartTime: obj.TransferStartTime,
	}

	fd := &FileDesc{
		Priority:          priority,
		Object:            obj,
		Oti:               otiVal,
		FdtID:             fdtID,
		SenderCurrentTime: senderCurrentTime,
		TOI:               obj.Toi.value,
		transferInfo:      ti,
	}
	return fd, nil
}

func (f *FileDesc) TotalNbTransfer() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.transferInfo.totalNbTransfer
}

func (f *FileDesc) CanTransferBeStopped() bool {
	if f.Object.AllowImmediateStopBeforeFirstTransfer {
		return true
	}
	return f.TotalNbTransfer() > 0
}

func (f *FileDesc) TransferStarted(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferInfo.init(f.Object, &f.Oti, now)
}

func (f *FileDesc) TransferDone(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferInfo.done(now)
}

// IsExpired 所有计划中的传输都已完成
func (f *FileDesc) IsExpired() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.Object.MaxTransferCount > f.transferInfo.transferCount {
		return false
	}
	// 轮播对象不过期
	return f.Object.CarouselMode == nil
}

func (f *FileDesc) IsTransferring() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.transferInfo.transferring
}

func (f *FileDesc) NextTransferTimestamp() (time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.transferInfo.nextTransferTimestamp == nil {
		return time.Time{}, false
	}
	return *f.transferInfo.nextTransferTimestamp, true
}

func (f *FileDesc) IncNextTransferTimestamp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferInfo.tick()
}

func (f *FileDesc) ResetLastTransfer(startTime *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferInfo.lastTransferEndTime = nil
	f.transferInfo.lastTransferStartTime = nil
	if startTime != nil {
		f.transferInfo.transferStartTime = startTime
	}
}

// IsLastTransfer 本次是否为该文件计划内的最后一次传输
func (f *FileDesc) IsLastTransfer() bool {
	if f.Object.CarouselMode != nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.Object.MaxTransferCount <= f.transferInfo.transferCount+1
}

// ShouldTransferNow 判断此刻是否可以开始（或继续）传输
func (f *FileDesc) ShouldTransferNow(priority uint32, mode FDTPublishMode, now time.Time) bool {
	if f.Priority != priority {
		return false
	}
	if mode == FullFDT && !f.IsPublished() {
		// FullFDT 模式下，文件必须先出现在已发布的 FDT 中
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	// 未到开始时间
	if f.transferInfo.transferStartTime != nil && now.Before(*f.transferInfo.transferStartTime) {
		return false
	}
	// 正在传输
	if f.transferInfo.transferring {
		return false
	}

	// 还没达到最大次数：立刻可以传
	if f.Object.MaxTransferCount > f.transferInfo.transferCount {
		return true
	}

	// 没有轮播 || 上次时间缺失：允许传
	if f.Object.CarouselMode == nil ||
		f.transferInfo.lastTransferEndTime == nil ||
		f.transferInfo.lastTransferStartTime == nil {
		return true
	}

	// 轮播策略
	cm := f.Object.CarouselMode
	var last time.Time
	switch cm.Choice {
	case DelayBetweenTransfers:
		last = *f.transferInfo.lastTransferEndTime
	case IntervalBetweenStartTimes:
		last = *f.transferInfo.lastTransferStartTime
	}
	return now.Sub(last) >= cm.Interval
}

func (f *FileDesc) IsPublished() bool {
	return f.published.Load()
}

func (f *FileDesc) SetPublished() {
	f.published.Store(true)
}

// ToFileXML 生成 FDT 的 File 项
func (f *FileDesc) ToFileXML(now time.Time) object.FdtFile {
	attr := f.Oti.GetAttributes()

	return object.FdtFile{
		ContentLocation: f.Object.ContentLocation.String(),
		TOI:             f.TOI.Decimal(),

		ContentLength:  &f.Object.ContentLength,
		TransferLength: &f.Object.TransferLength,

		ContentType:     &f.Object.ContentType,
		ContentEncoding: tools.StrPtr(f.Object.Cenc.String()),
		ContentMD5:      f.Object.MD5,
		ETag:            f.Object.ETag,

		FECEncID:      attr.FecOtiFecEncodingID,
		FECInstanceID: attr.FecOtiFecInstanceID,
		FECMaxSBL:     attr.FecOtiMaximumSourceBlockLength,
		FECESL:        attr.FecOtiEncodingSymbolLength,
		FECMaxN:       attr.FecOtiMaxNumberOfEncodingSymbols,
		FECSchemeInfo: attr.FecOtiSchemeSpecificInfo,

		CacheControl: CreateFdtCacheControl(f.Object.CacheControl, now),
		Group:        f.Object.Groups,
	}
}
