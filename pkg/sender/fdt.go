package sender

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/tools"
	t "github.com/ypo/flute/pkg/type"
)

// Fdt 发送端的文件描述表：在册文件 + 待传输队列 + FDT 自身的轮播
type Fdt struct {
	tsi                uint64
	fdtID              uint32
	oti                oti.Oti
	filesTransferQueue []*FileDesc
	fdtTransferQueue   []*FileDesc
	files              map[string]*FileDesc // key: TOI (hex)
	currentFdtTransfer *FileDesc
	complete           *bool

	cenc         lct.Cenc
	duration     time.Duration
	carouselMode CarouselRepeatMode
	inbandSCT    bool
	lastPublish  *time.Time

	observers *ObserverList
	groups    []string

	toiAllocator *ToiAllocator
	publishMode  FDTPublishMode
}

func NewFdt(
	tsi uint64,
	fdtID uint32,
	defaultOti *oti.Oti,
	cenc lct.Cenc,
	duration time.Duration,
	carouselMode CarouselRepeatMode,
	inbandSCT bool,
	observers *ObserverList,
	toiMaxLength TOIMaxLength,
	toiInitialValue *t.Uint128,
	groups []string,
	publishMode FDTPublishMode,
) *Fdt {
	return &Fdt{
		tsi:                tsi,
		fdtID:              fdtID & 0xFFFFF,
		oti:                *defaultOti,
		filesTransferQueue: make([]*FileDesc, 0),
		fdtTransferQueue:   make([]*FileDesc, 0),
		files:              make(map[string]*FileDesc),
		cenc:               cenc,
		duration:           duration,
		carouselMode:       carouselMode,
		inbandSCT:          inbandSCT,
		observers:          observers,
		groups:             groups,
		toiAllocator:       NewToiAllocator(toiMaxLength, toiInitialValue),
		publishMode:        publishMode,
	}
}

// getFdtInstance 构建 FDT-Instance
func (f *Fdt) getFdtInstance(now time.Time) *object.FdtInstance {
	ntp, _ := tools.SystemTimeToNTP(now)
	expiresNTP := (ntp >> 32) + uint64(f.duration.Seconds())

	attr := f.oti.GetAttributes()

	// 选文件集合
	var list []*FileDesc
	switch f.publishMode {
	case ObjectsBeingTransferred:
		for _, fd := range f.files {
			if fd.IsTransferring() {
				list = append(list, fd)
			}
		}
	default: // FullFDT
		list = make([]*FileDesc, 0, len(f.files))
		for _, fd := range f.files {
			list = append(list, fd)
		}
	}
	// 输出稳定，按 TOI 排序
	sort.Slice(list, func(i, j int) bool { return list[i].TOI.Less(list[j].TOI) })

	files := make([]object.FdtFile, 0, len(list))
	for _, fd := range list {
		files = append(files, fd.ToFileXML(now))
	}

	var fullFDT *bool
	if f.publishMode == FullFDT {
		fullFDT = tools.BoolPtr(true)
	}

	inst := &object.FdtInstance{
		XMLNS:    tools.StrPtr(object.XMLNSFdt),
		XMLNSXSI: tools.StrPtr(object.XMLNSXSI),
		XMLNSSV:  tools.StrPtr(object.XMLNSSV),

		Expires:  fmt.Sprintf("%d", expiresNTP),
		Complete: f.complete,
		FullFDT:  fullFDT,

		FECEncID:      attr.FecOtiFecEncodingID,
		FECInstanceID: attr.FecOtiFecInstanceID,
		FECMaxSBL:     attr.FecOtiMaximumSourceBlockLength,
		FECESL:        attr.FecOtiEncodingSymbolLength,
		FECMaxN:       attr.FecOtiMaxNumberOfEncodingSymbols,
		FECSchemeInfo: attr.FecOtiSchemeSpecificInfo,

		Files: files,

		SchemaVersion: tools.Uint32Ptr(4),
		Group:         f.groups,
	}

	// 用到的 3GPP 扩展命名空间
	if fullFDT != nil {
		inst.XMLNSMBMS2012 = tools.StrPtr(object.XMLNSMBMS2012)
	}
	if len(f.groups) > 0 {
		inst.XMLNSMBMS2009 = tools.StrPtr(object.XMLNSMBMS2009)
	}
	for i := range files {
		if files[i].CacheControl != nil {
			inst.XMLNSMBMS2007 = tools.StrPtr(object.XMLNSMBMS2007)
		}
		if files[i].ETag != nil {
			inst.XMLNSMBMS2015 = tools.StrPtr(object.XMLNSMBMS2015)
		}
		if len(files[i].Group) > 0 {
			inst.XMLNSMBMS2009 = tools.StrPtr(object.XMLNSMBMS2009)
		}
	}

	return inst
}

func (f *Fdt) GetFilesBeingTransferred() []*FileDesc {
	out := make([]*FileDesc, 0)
	for _, fd := range f.files {
		if fd.IsTransferring() {
			out = append(out, fd)
		}
	}
	return out
}

func (f *Fdt) AllocateToi() *Toi {
	return f.toiAllocator.Allocate()
}

func (f *Fdt) AddObject(priority uint32, obj *ObjectDesc) (string, error) {
	if f.complete != nil && *f.complete {
		return "", errors.New("FDT is complete, no new object should be added")
	}
	if obj.Toi == nil {
		obj.SetToi(f.AllocateToi())
	}
	fd, err := NewFileDesc(priority, obj, &f.oti, nil, false)
	if err != nil {
		return "", err
	}
	toi := fd.TOI
	if _, dup := f.files[toi.String()]; dup {
		return "", errors.New("duplicate TOI in FDT")
	}
	f.files[toi.String()] = fd
	f.filesTransferQueue = append(f.filesTransferQueue, fd)
	return toi.String(), nil
}

func (f *Fdt) TriggerTransferAt(toi string, ts *time.Time) bool {
	fd, ok := f.files[toi]
	if !ok {
		return false
	}
	if fd.IsTransferring() {
		return true
	}
	fd.ResetLastTransfer(ts)
	return true
}

func (f *Fdt) GetObjectsInFDT() map[string]*ObjectDesc {
	out := make(map[string]*ObjectDesc, len(f.files))
	for k, v := range f.files {
		out[k] = v.Object
	}
	return out
}

func (f *Fdt) IsAdded(toi string) bool {
	_, ok := f.files[toi]
	return ok
}

func (f *Fdt) RemoveObject(toi string) bool {
	fd, ok := f.files[toi]
	if !ok {
		return false
	}
	delete(f.files, toi)
	dst := f.filesTransferQueue[:0]
	for _, it := range f.filesTransferQueue {
		if it.TOI.String() != toi {
			dst = append(dst, it)
		}
	}
	f.filesTransferQueue = dst
	f.toiAllocator.Release(fd.TOI)
	return true
}

func (f *Fdt) NbTransfers(toi string) (uint64, bool) {
	fd, ok := f.files[toi]
	if !ok {
		return 0, false
	}
	return fd.TotalNbTransfer(), true
}

func (f *Fdt) NbObjects() int {
	return len(f.files)
}

// Publish 生成新的 FDT 实例并排队传输
func (f *Fdt) Publish(now time.Time) error {
	buf, err := f.ToXML(now)
	if err != nil {
		return err
	}

	obj, err := CreateFromBuffer(
		buf,
		"text/xml",
		mustParseURL("file:///"),
		1,
		&f.carouselMode,
		nil,
		nil,
		f.groups,
		f.cenc,
		true, // inband cenc
		nil,
		false,
	)
	if err != nil {
		return err
	}
	obj.Toi = f.toiAllocator.AllocateToiFDT()

	fd, err := NewFileDesc(0, obj, &f.oti, tools.Uint32Ptr(f.fdtID), f.inbandSCT)
	if err != nil {
		return err
	}
	fd.SetPublished()
	f.fdtTransferQueue = append(f.fdtTransferQueue, fd)

	// FDT Instance ID 按 20 位回绕单调递增
	f.fdtID = (f.fdtID + 1) & 0xFFFFF
	nowCopy := now
	f.lastPublish = &nowCopy

	for _, it := range f.files {
		it.SetPublished()
	}
	return nil
}

func (f *Fdt) NeedTransferFDT() bool {
	return len(f.fdtTransferQueue) > 0
}

// currentFdtWillExpire 当前在播的 FDT 是否临近过期，需要重新发布
func (f *Fdt) currentFdtWillExpire(now time.Time) bool {
	if len(f.fdtTransferQueue) > 0 {
		return false
	}
	if f.currentFdtTransfer == nil || f.lastPublish == nil {
		return true
	}
	d := now.Sub(*f.lastPublish)
	if f.duration > 30*time.Second {
		return f.duration < d+5*time.Second
	}
	return f.duration <= d
}

func (f *Fdt) GetNextFdtTransfer(now time.Time) *FileDesc {
	if f.currentFdtTransfer != nil && f.currentFdtTransfer.IsTransferring() {
		return nil
	}
	if f.currentFdtWillExpire(now) {
		if err := f.Publish(now); err != nil {
			log.Error().Msgf("Fail to republish FDT: %v", err)
		}
	}
	if len(f.fdtTransferQueue) > 0 {
		f.currentFdtTransfer = f.fdtTransferQueue[0]
		f.fdtTransferQueue = f.fdtTransferQueue[1:]
	}
	if f.currentFdtTransfer == nil {
		return nil
	}
	if !f.currentFdtTransfer.ShouldTransferNow(0, f.publishMode, now) {
		return nil
	}
	f.currentFdtTransfer.TransferStarted(now)
	return f.currentFdtTransfer
}

func (f *Fdt) GetNextFileTransfer(priority uint32, now time.Time) *FileDesc {
	idx := -1
	for i, fd := range f.filesTransferQueue {
		if fd.ShouldTransferNow(priority, f.publishMode, now) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	fd := f.filesTransferQueue[idx]
	copy(f.filesTransferQueue[idx:], f.filesTransferQueue[idx+1:])
	f.filesTransferQueue = f.filesTransferQueue[:len(f.filesTransferQueue)-1]

	f.observers.Dispatch(Event{
		Kind: EventStartTransfer,
		File: FileInfo{Toi: fd.TOI.String()},
	}, now)

	fd.TransferStarted(now)

	if f.publishMode == ObjectsBeingTransferred {
		if err := f.Publish(now); err != nil {
			log.Error().Msgf("Fail to publish FDT: %v", err)
		}
	}
	return fd
}

func (f *Fdt) TransferDone(fd *FileDesc, now time.Time) {
	fd.TransferDone(now)

	if fd.TOI.Equal(lct.TOI_FDT) {
		if fd.IsExpired() {
			f.currentFdtTransfer = nil
		}
		return
	}

	f.observers.Dispatch(Event{
		Kind: EventStopTransfer,
		File: FileInfo{Toi: fd.TOI.String()},
	}, now)

	if _, ok := f.files[fd.TOI.String()]; !ok {
		// 已被移除
		return
	}
	if !fd.IsExpired() {
		// 继续轮播
		f.filesTransferQueue = append(f.filesTransferQueue, fd)
		return
	}
	// 过期则从 FDT 中移除
	delete(f.files, fd.TOI.String())
	f.toiAllocator.Release(fd.TOI)
}

func (f *Fdt) SetComplete() {
	f.complete = tools.BoolPtr(true)
}

// ToXML 序列化当前 FDT-Instance
func (f *Fdt) ToXML(now time.Time) ([]byte, error) {
	inst := f.getFdtInstance(now)
	out, err := xml.MarshalIndent(inst, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header) // <?xml version="1.0" encoding="UTF-8"?>
	buf.Write(out)
	return buf.Bytes(), nil
}

func mustParseURL(s string) *url.URL {
	u, _ := url.Parse(s)
	return u
}
