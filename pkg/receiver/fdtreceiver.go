package receiver

import (
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/receiver/writer"
	"github.com/ypo/flute/pkg/transport"
	t "github.com/ypo/flute/pkg/type"
)

type FdtState int

const (
	FdtReceiving FdtState = iota
	FdtComplete
	FdtError
	FdtExpired
)

// FdtReceiver TOI=0 的接收器：复用对象接收机制组装 FDT，
// 完成时解析 XML 并跟踪过期状态。
type FdtReceiver struct {
	FdtID uint32

	obj   *ObjectReceiver
	inner *fdtWriterInner

	fdtInstance *object.FdtInstance

	senderCurrentTime   *time.Time
	receiverCurrentTime time.Time
}

type fdtWriterInner struct {
	data    []byte
	fdt     *object.FdtInstance
	expires *time.Time
	state   FdtState
}

// fdtWriter 把 FDT 对象的字节收进内存，Complete 时解析
type fdtWriter struct {
	inner *fdtWriterInner
}

type fdtWriterBuilder struct {
	inner *fdtWriterInner
}

func (b *fdtWriterBuilder) NewObjectWriter(_ *transport.UDPEndpoint, _ uint64, _ t.Uint128) writer.ObjectWriter {
	return &fdtWriter{inner: b.inner}
}

func (b *fdtWriterBuilder) SetCacheDuration(_ *transport.UDPEndpoint, _ uint64, _ t.Uint128, _ *url.URL, _ time.Duration) {
}

func NewFdtReceiver(endpoint *transport.UDPEndpoint, tsi uint64, fdtID uint32, now time.Time) *FdtReceiver {
	inner := &fdtWriterInner{state: FdtReceiving}

	obj := NewObjectReceiver(endpoint, tsi, lct.TOI_FDT, &fdtWriterBuilder{inner: inner}, 0, false, now)

	return &FdtReceiver{
		FdtID:               fdtID,
		obj:                 obj,
		inner:               inner,
		receiverCurrentTime: now,
	}
}

func (f *FdtReceiver) Push(pkt *alc.AlcPkt, now time.Time) {
	if f.senderCurrentTime == nil {
		if sct, err := alc.GetSenderCurrentTime(pkt); err == nil && sct != nil {
			f.senderCurrentTime = sct
		}
	}

	f.obj.Push(pkt, now)
	if f.obj.State == ObjectError {
		f.inner.state = FdtError
	}
}

func (f *FdtReceiver) State() FdtState {
	return f.inner.state
}

func (f *FdtReceiver) FdtInstance() *object.FdtInstance {
	if f.fdtInstance == nil {
		f.fdtInstance = f.inner.fdt
	}
	return f.fdtInstance
}

// GetServerTime EXT_TIME 校准后的发送方时间
func (f *FdtReceiver) GetServerTime(now time.Time) *time.Time {
	if f.senderCurrentTime == nil {
		return nil
	}
	st := f.senderCurrentTime.Add(now.Sub(f.receiverCurrentTime))
	return &st
}

// UpdateExpiredState 按 Expires 属性和时钟校准结果更新过期状态
func (f *FdtReceiver) UpdateExpiredState(now time.Time) {
	if f.State() != FdtComplete {
		return
	}
	if f.isExpired(now) {
		log.Info().Msgf("FDT %d is expired", f.FdtID)
		f.inner.state = FdtExpired
	}
}

func (f *FdtReceiver) isExpired(now time.Time) bool {
	expires := f.inner.expires
	if expires == nil {
		return true
	}

	if f.senderCurrentTime != nil {
		// 以发送方时钟度量过期时长
		expiresDuration := expires.Sub(*f.senderCurrentTime)
		if expiresDuration < 0 {
			return true
		}
		return now.Sub(f.receiverCurrentTime) > expiresDuration
	}

	return now.After(*expires)
}

func (w *fdtWriter) Open(_ *writer.ObjectMetadata) error {
	return nil
}

func (w *fdtWriter) Write(data []byte) {
	w.inner.data = append(w.inner.data, data...)
}

func (w *fdtWriter) Complete() {
	inst, err := object.ParseFdtInstance(w.inner.data)
	if err != nil {
		log.Warn().Msgf("Fail to parse FDT: %v", err)
		w.inner.state = FdtError
		return
	}
	w.inner.expires = inst.GetExpirationDate()
	w.inner.fdt = &inst
	w.inner.state = FdtComplete
}

func (w *fdtWriter) Error() {
	w.inner.state = FdtError
}

func (w *fdtWriter) Interrupted() {
	w.inner.state = FdtError
}
