package receiver

import (
	"errors"
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

// ErrFDTParse FDT 实例解析失败，旧实例保持有效
var ErrFDTParse = errors.New("fail to decode FDT")

// Config 接收端配置
type Config struct {
	// 跟踪的已完成对象上限，轮播场景避免重复重建。0 = 不限
	MaxObjectsCompleted int
	// 跟踪的失败对象上限（墓碑），重复包直接丢弃
	MaxObjectsError int
	// 会话空闲超时；nil 表示只随 Close-Session 结束
	SessionTimeout *time.Duration
	// 对象空闲超时；nil 表示不超时（不推荐，未完成对象会一直占内存）
	ObjectTimeout *time.Duration
	// 单对象暂存区字节上限（OTI 未知时），溢出丢最旧
	MaxParkedBytesPerObject int
	// 待验证 FDT 实例的缓存上限
	MaxCachedFDTs int
	// 是否校验 Content-MD5
	MD5CheckEnabled bool
	// 收到 Close-Session 后是否立即驱逐会话
	EnableCloseSessionEviction bool
}

func DefaultConfig() Config {
	objectTimeout := 10 * time.Second
	return Config{
		MaxObjectsCompleted:        100,
		MaxObjectsError:            0,
		SessionTimeout:             nil,
		ObjectTimeout:              &objectTimeout,
		MaxParkedBytesPerObject:    10 * 1024 * 1024,
		MaxCachedFDTs:              10,
		MD5CheckEnabled:            true,
		EnableCloseSessionEviction: true,
	}
}

type objectCompletedMeta struct {
	expirationDate  time.Time
	contentLocation string
}

// Receiver 单个 (endpoint, TSI) 会话：从 ALC/LCT 包重建对象。
// 非并发安全，见 MultiReceiver。
type Receiver struct {
	tsi              uint64
	objects          map[string]*ObjectReceiver // key: TOI (hex)
	objectsCompleted map[string]*objectCompletedMeta
	objectsError     map[string]struct{}
	fdtReceivers     map[uint32]*FdtReceiver
	fdtCurrent       *FdtReceiver
	writer           writer.ObjectWriterBuilder
	config           Config
	lastActivity     time.Time
	closedIsImminent bool
	endpoint         transport.UDPEndpoint
}

func NewReceiver(endpoint *transport.UDPEndpoint, tsi uint64, w writer.ObjectWriterBuilder, config *Config, now time.Time) *Receiver {
	if config == nil {
		def := DefaultConfig()
		config = &def
	}
	return &Receiver{
		tsi:              tsi,
		objects:          make(map[string]*ObjectReceiver),
		objectsCompleted: make(map[string]*objectCompletedMeta),
		objectsError:     make(map[string]struct{}),
		fdtReceivers:     make(map[uint32]*FdtReceiver),
		writer:           w,
		config:           *config,
		lastActivity:     now,
		endpoint:         *endpoint,
	}
}

// IsExpired 会话过期则应销毁以释放资源
func (r *Receiver) IsExpired(now time.Time) bool {
	if r.closedIsImminent && r.config.EnableCloseSessionEviction && r.nbActiveObjects() == 0 {
		return true
	}
	if r.config.SessionTimeout == nil {
		return false
	}
	return now.Sub(r.lastActivity) > *r.config.SessionTimeout
}

func (r *Receiver) NbObjects() int {
	return len(r.objects)
}

func (r *Receiver) NbObjectsError() int {
	return len(r.objectsError)
}

func (r *Receiver) nbActiveObjects() int {
	n := 0
	for _, obj := range r.objects {
		if obj.State == ObjectReceiving && obj.oti != nil {
			n++
		}
	}
	return n
}

// Cleanup 释放超时对象与过期 FDT。幂等。
func (r *Receiver) Cleanup(now time.Time) {
	r.cleanupObjects(now)
	r.cleanupFdt(now)
}

func (r *Receiver) cleanupFdt(now time.Time) {
	for _, fdt := range r.fdtReceivers {
		fdt.UpdateExpiredState(now)
	}
	for id, fdt := range r.fdtReceivers {
		state := fdt.State()
		if state != FdtComplete && state != FdtReceiving {
			delete(r.fdtReceivers, id)
		}
	}
}

func (r *Receiver) cleanupObjects(now time.Time) {
	if r.config.ObjectTimeout == nil {
		return
	}
	objectTimeout := *r.config.ObjectTimeout

	for key, obj := range r.objects {
		if now.Sub(obj.LastActivity()) > objectTimeout {
			log.Warn().Msgf("Remove expired object tsi=%d toi=%s", r.tsi, obj.TOI.String())
			delete(r.objectsError, key)
			delete(r.objects, key)
		}
	}
}

// PushData 输入一个 UDP 载荷
func (r *Receiver) PushData(data []byte, now time.Time) error {
	pkt, err := alc.ParseAlcPkt(data)
	if err != nil {
		return err
	}
	if pkt.Lct.Tsi != r.tsi {
		return nil
	}
	return r.Push(pkt, now)
}

// Push 输入一个已解析的 ALC 包
func (r *Receiver) Push(pkt *alc.AlcPkt, now time.Time) error {
	r.lastActivity = now

	if pkt.Lct.CloseSession {
		log.Info().Msgf("Close session tsi=%d", r.tsi)
		r.closedIsImminent = true
	}

	if pkt.Lct.Toi.Equal(lct.TOI_FDT) {
		return r.pushFdtObj(pkt, now)
	}
	return r.pushObj(pkt, now)
}

func (r *Receiver) pushFdtObj(pkt *alc.AlcPkt, now time.Time) error {
	if pkt.FdtInfo == nil {
		if pkt.Lct.CloseObject || pkt.Lct.CloseSession {
			return nil
		}
		return errors.New("FDT pkt received without FDT extension")
	}
	fdtInstanceID := pkt.FdtInfo.FdtInstanceID

	if r.fdtCurrent != nil && r.fdtCurrent.FdtID == fdtInstanceID {
		// FDT already received
		return nil
	}

	fdtReceiver, ok := r.fdtReceivers[fdtInstanceID]
	if !ok {
		if r.config.MaxCachedFDTs > 0 && len(r.fdtReceivers) >= r.config.MaxCachedFDTs {
			r.gcFdtReceivers(now)
		}
		fdtReceiver = NewFdtReceiver(&r.endpoint, r.tsi, fdtInstanceID, now)
		r.fdtReceivers[fdtInstanceID] = fdtReceiver
	}

	if fdtReceiver.State() != FdtReceiving {
		return nil
	}

	fdtReceiver.Push(pkt, now)

	if fdtReceiver.State() == FdtComplete {
		fdtReceiver.UpdateExpiredState(now)
	}

	switch fdtReceiver.State() {
	case FdtReceiving:
		return nil
	case FdtComplete:
		// fallthrough below
	case FdtError:
		delete(r.fdtReceivers, fdtInstanceID)
		return ErrFDTParse
	case FdtExpired:
		log.Warn().Msg("FDT has been received but is already expired")
		return nil
	}

	delete(r.fdtReceivers, fdtInstanceID)

	// 实例 ID 按 20 位回绕比较，旧实例不接管当前视图
	if r.fdtCurrent != nil && !fdtIDIsNewer(fdtInstanceID, r.fdtCurrent.FdtID) {
		return nil
	}

	// FullFDT：整体替换视图；增量模式：与之前的文件列表求并
	if r.fdtCurrent != nil {
		inst := fdtReceiver.FdtInstance()
		if inst != nil && (inst.FullFDT == nil || !*inst.FullFDT) {
			if prev := r.fdtCurrent.FdtInstance(); prev != nil {
				mergeFdtFiles(inst, prev)
			}
		}
	}
	r.fdtCurrent = fdtReceiver

	r.attachFdtToObjects(now)
	r.updateExpirationDateOfCompletedObjects(now)

	return nil
}

// fdtIDIsNewer 20 位回绕：前向距离小于半量程视为更新
func fdtIDIsNewer(id, current uint32) bool {
	if id == current {
		return false
	}
	return ((id - current) & 0xFFFFF) < 0x80000
}

// mergeFdtFiles 增量 FDT：把旧实例中新实例没有的文件并入
func mergeFdtFiles(inst *object.FdtInstance, prev *object.FdtInstance) {
	seen := make(map[string]struct{}, len(inst.Files))
	for i := range inst.Files {
		seen[inst.Files[i].TOI] = struct{}{}
	}
	for i := range prev.Files {
		if _, ok := seen[prev.Files[i].TOI]; !ok {
			inst.Files = append(inst.Files, prev.Files[i])
		}
	}
}

// gcFdtReceivers 缓存满时丢弃最旧的未完成实例
func (r *Receiver) gcFdtReceivers(now time.Time) {
	r.cleanupFdt(now)
	for len(r.fdtReceivers) >= r.config.MaxCachedFDTs {
		var oldest uint32
		first := true
		for id := range r.fdtReceivers {
			if first || id < oldest {
				oldest = id
				first = false
			}
		}
		if first {
			return
		}
		delete(r.fdtReceivers, oldest)
	}
}

func (r *Receiver) attachFdtToObjects(now time.Time) {
	if r.fdtCurrent == nil {
		return
	}
	fdtID := r.fdtCurrent.FdtID
	serverTime := r.fdtCurrent.GetServerTime(now)
	fdtInstance := r.fdtCurrent.FdtInstance()
	if fdtInstance == nil {
		return
	}

	var checkState []string
	for key, obj := range r.objects {
		if obj.AttachFdt(fdtID, fdtInstance, now, serverTime) {
			checkState = append(checkState, key)
		}
	}

	for _, key := range checkState {
		r.checkObjectState(key, now)
	}
}

// updateExpirationDateOfCompletedObjects 新 FDT 可能更新已完成对象的缓存时长
func (r *Receiver) updateExpirationDateOfCompletedObjects(now time.Time) {
	if r.fdtCurrent == nil {
		return
	}
	serverTime := r.fdtCurrent.GetServerTime(now)
	fdtInstance := r.fdtCurrent.FdtInstance()
	if fdtInstance == nil {
		return
	}
	expirationDate := fdtInstance.GetExpirationDate()

	for i := range fdtInstance.Files {
		file := &fdtInstance.Files[i]
		toi, err := t.ParseDecimal(file.TOI)
		if err != nil {
			continue
		}
		meta, ok := r.objectsCompleted[toi.String()]
		if !ok {
			continue
		}
		cc := file.GetObjectCacheControl(expirationDate)
		exp := cacheExpirationDate(cc, serverTime, now)
		if exp == nil {
			continue
		}
		meta.expirationDate = *exp
		if loc, err := url.Parse(meta.contentLocation); err == nil {
			r.writer.SetCacheDuration(&r.endpoint, r.tsi, toi, loc, exp.Sub(now))
		}
	}
}

func (r *Receiver) pushObj(pkt *alc.AlcPkt, now time.Time) error {
	key := pkt.Lct.Toi.String()

	if _, ok := r.objectsCompleted[key]; ok {
		r.gcObjectCompleted(now)
		if _, still := r.objectsCompleted[key]; still {
			return nil
		}
	}
	if _, ok := r.objectsError[key]; ok {
		return nil
	}

	obj, ok := r.objects[key]
	if !ok {
		obj = r.createObj(pkt.Lct.Toi, now)
	}

	obj.Push(pkt, now)
	r.checkObjectState(key, now)

	return nil
}

func (r *Receiver) checkObjectState(key string, now time.Time) {
	obj, ok := r.objects[key]
	if !ok {
		return
	}

	switch obj.State {
	case ObjectReceiving:
		return

	case ObjectCompleted:
		log.Info().Msgf("Object state is completed tsi=%d toi=%s", r.tsi, obj.TOI.String())
		if obj.CacheExpirationDate != nil && obj.ContentLocation != nil {
			r.objectsCompleted[key] = &objectCompletedMeta{
				expirationDate:  *obj.CacheExpirationDate,
				contentLocation: obj.ContentLocation.String(),
			}
			r.gcObjectCompleted(now)
		}

	case ObjectError:
		log.Error().Msgf("Object in error state tsi=%d toi=%s", r.tsi, obj.TOI.String())
		r.objectsError[key] = struct{}{}
		r.gcObjectError()
	}

	delete(r.objects, key)
}

func (r *Receiver) gcObjectCompleted(now time.Time) {
	for key, meta := range r.objectsCompleted {
		if !meta.expirationDate.After(now) {
			delete(r.objectsCompleted, key)
		}
	}

	if r.config.MaxObjectsCompleted == 0 {
		return
	}
	for len(r.objectsCompleted) > r.config.MaxObjectsCompleted {
		// 随便挑一个驱逐（到这里都是同等候选）
		for key := range r.objectsCompleted {
			delete(r.objectsCompleted, key)
			delete(r.objects, key)
			break
		}
	}
}

func (r *Receiver) gcObjectError() {
	for len(r.objectsError) > r.config.MaxObjectsError {
		for key := range r.objectsError {
			delete(r.objectsError, key)
			delete(r.objects, key)
			break
		}
	}
}

func (r *Receiver) createObj(toi t.Uint128, now time.Time) *ObjectReceiver {
	obj := NewObjectReceiver(
		&r.endpoint,
		r.tsi,
		toi,
		r.writer,
		r.config.MaxParkedBytesPerObject,
		r.config.MD5CheckEnabled,
		now,
	)

	if r.fdtCurrent != nil {
		fdtID := r.fdtCurrent.FdtID
		serverTime := r.fdtCurrent.GetServerTime(now)
		r.fdtCurrent.UpdateExpiredState(now)
		if r.fdtCurrent.State() == FdtComplete {
			if fdtInstance := r.fdtCurrent.FdtInstance(); fdtInstance != nil {
				obj.AttachFdt(fdtID, fdtInstance, now, serverTime)
			}
		}
	}

	r.objects[toi.String()] = obj
	return obj
}
