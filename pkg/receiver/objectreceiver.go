package receiver

import (
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/receiver/writer"
	"github.com/ypo/flute/pkg/transport"
	"github.com/ypo/flute/pkg/tools"
	t "github.com/ypo/flute/pkg/type"
)

type ObjectState int

const (
	ObjectReceiving ObjectState = iota
	ObjectCompleted
	ObjectError
)

type writerSessionState int

const (
	writerClosed writerSessionState = iota
	writerOpened
	writerError
)

// ObjectReceiver 单个 (TSI, TOI) 的接收状态机。
// OTI 未知时数据包进入有界暂存区（溢出丢最旧），
// FDT 或带内 FTI 到达后排空暂存、逐块解码、按序落盘。
type ObjectReceiver struct {
	State ObjectState
	TOI   t.Uint128

	endpoint *transport.UDPEndpoint
	tsi      uint64

	oti            *oti.Oti
	cache          []*alc.AlcPktCache
	cacheSize      int
	maxCacheSize   int
	blocks         []*BlockDecoder
	blocksVarSize  bool
	transferLength *uint64
	cenc           *lct.Cenc
	contentMD5     *string

	aLarge   uint64
	aSmall   uint64
	nbALarge uint64

	writerBuilder writer.ObjectWriterBuilder
	writerSession writer.ObjectWriter
	writerState   writerSessionState
	blockWriter   *BlockWriter

	fdtInstanceID *uint32
	meta          *writer.ObjectMetadata

	// session 通过非拥有引用回看这两个字段
	ContentLocation     *url.URL
	CacheExpirationDate *time.Time

	md5CheckEnabled bool
	lastActivity    time.Time
}

func NewObjectReceiver(
	endpoint *transport.UDPEndpoint,
	tsi uint64,
	toi t.Uint128,
	writerBuilder writer.ObjectWriterBuilder,
	maxCacheSize int,
	md5CheckEnabled bool,
	now time.Time,
) *ObjectReceiver {
	log.Debug().Msgf("Create new Object Receiver with toi %s", toi.String())
	return &ObjectReceiver{
		State:           ObjectReceiving,
		TOI:             toi,
		endpoint:        endpoint,
		tsi:             tsi,
		writerBuilder:   writerBuilder,
		maxCacheSize:    maxCacheSize,
		md5CheckEnabled: md5CheckEnabled,
		lastActivity:    now,
	}
}

func (o *ObjectReceiver) LastActivity() time.Time {
	return o.lastActivity
}

// Push 处理一个属于该对象的 ALC 包
func (o *ObjectReceiver) Push(pkt *alc.AlcPkt, now time.Time) {
	if o.State != ObjectReceiving {
		return
	}

	o.lastActivity = now
	o.setFdtIDFromPkt(pkt)
	o.setCencFromPkt(pkt)
	o.setOtiFromPkt(pkt)

	o.initBlocksPartitioning()
	o.initBlockWriter()
	o.pushFromCache(now)

	if o.oti == nil {
		// Awaiting-OTI：暂存
		o.park(pkt)
		return
	}

	if err := o.pushToBlock(pkt, now); err != nil {
		log.Warn().Msgf("Fail to push pkt to block tsi=%d toi=%s: %v", o.tsi, o.TOI.String(), err)
		o.error()
		return
	}

	// 纯关闭包：发送端中断了该对象
	if pkt.Lct.CloseObject && o.State == ObjectReceiving && pkt.DataPayloadOffset >= len(pkt.Data) {
		log.Info().Msgf("Transfer interrupted by sender tsi=%d toi=%s", o.tsi, o.TOI.String())
		o.interrupted()
	}
}

func (o *ObjectReceiver) pushToBlock(pkt *alc.AlcPkt, now time.Time) error {
	payloadID, err := alc.ParsePayloadID(pkt, o.oti)
	if err != nil {
		return err
	}
	log.Debug().Msgf("Receive sbn=%d esi=%d toi=%s", payloadID.Sbn, payloadID.Esi, o.TOI.String())

	if o.transferLength != nil && *o.transferLength == 0 {
		o.complete(now)
		return nil
	}

	if int(payloadID.Sbn) >= len(o.blocks) {
		if !o.blocksVarSize {
			return ErrFECDecode
		}
		for int(payloadID.Sbn) >= len(o.blocks) {
			o.blocks = append(o.blocks, NewBlockDecoder())
		}
	}

	block := o.blocks[payloadID.Sbn]
	if block.Completed {
		return nil
	}

	if !block.Initialized {
		sourceBlockLength := uint32(o.aSmall)
		if payloadID.SourceBlockLength != nil {
			sourceBlockLength = *payloadID.SourceBlockLength
		} else if uint64(payloadID.Sbn) < o.nbALarge {
			sourceBlockLength = uint32(o.aLarge)
		}

		blockSize := object.BlockLength(
			o.aLarge, o.aSmall, o.nbALarge,
			*o.transferLength,
			uint64(o.oti.EncodingSymbolLength),
			payloadID.Sbn,
		)
		if err := block.Init(o.oti, sourceBlockLength, int(blockSize), payloadID.Sbn); err != nil {
			return err
		}
	}

	block.Push(pkt, payloadID)
	if block.Completed {
		log.Debug().Msgf("block %d is completed", payloadID.Sbn)
		return o.writeBlocks(payloadID.Sbn, now)
	}

	return nil
}

// AttachFdt FDT 实例绑定。返回 true 表示本次绑定成功。
// FDT 可能先于或晚于对象数据到达，重入安全。
func (o *ObjectReceiver) AttachFdt(fdtInstanceID uint32, fdt *object.FdtInstance, now time.Time, serverTime *time.Time) bool {
	if o.TOI.Equal(lct.TOI_FDT) {
		return false
	}
	if o.fdtInstanceID != nil {
		return false
	}

	file := fdt.GetFile(o.TOI.Decimal())
	if file == nil {
		return false
	}

	if o.cenc == nil {
		cenc := file.GetContentEncoding()
		o.cenc = &cenc
		log.Debug().Msgf("Set cenc from FDT %s", cenc)
	}

	if o.oti == nil {
		o.oti = fdt.GetOtiForFile(file)
		tl := file.GetTransferLength()
		o.transferLength = &tl
	}

	contentLocation, err := url.Parse(file.ContentLocation)
	if err != nil {
		log.Warn().Msgf("Fail to parse content-location %q to URL", file.ContentLocation)
		o.error()
		return false
	}

	o.contentMD5 = file.ContentMD5
	o.fdtInstanceID = tools.Uint32Ptr(fdtInstanceID)
	o.ContentLocation = contentLocation

	fdtExpiration := fdt.GetExpirationDate()
	cacheControl := file.GetObjectCacheControl(fdtExpiration)
	o.CacheExpirationDate = cacheExpirationDate(cacheControl, serverTime, now)

	o.meta = &writer.ObjectMetadata{
		ContentLocation: contentLocation,
		ContentLength:   file.ContentLength,
		TransferLength:  o.transferLength,
		ContentType:     file.ContentType,
		CacheControl:    cacheControl,
		Groups:          file.Group,
		MD5:             file.ContentMD5,
		Oti:             o.oti,
		Cenc:            o.cenc,
		ETag:            file.ETag,
	}

	o.initBlocksPartitioning()
	o.initBlockWriter()
	o.pushFromCache(now)
	if o.State == ObjectReceiving {
		if err := o.writeBlocks(0, now); err != nil {
			o.error()
		}
	}
	return true
}

// cacheExpirationDate 按缓存指令推导过期时间。
// 有 EXT_TIME 时先用发送方时钟校准。
func cacheExpirationDate(cc object.ObjectCacheControl, serverTime *time.Time, now time.Time) *time.Time {
	var at time.Time
	switch v := cc.(type) {
	case object.ObjectCacheControlNoCacheT:
		at = now
	case object.ObjectCacheControlMaxStaleT:
		at = now.Add(10 * 365 * 24 * time.Hour)
	case object.ObjectCacheControlExpiresAt:
		at = v.Time
	case object.ObjectCacheControlExpiresAtHint:
		at = v.Time
	default:
		at = now
	}
	if serverTime != nil {
		// 发送端与接收端时钟差
		at = at.Add(now.Sub(*serverTime))
	}
	return &at
}

func (o *ObjectReceiver) initBlockWriter() {
	if o.writerState != writerClosed {
		return
	}
	if o.fdtInstanceID == nil || o.cenc == nil || o.transferLength == nil {
		return
	}

	o.writerSession = o.writerBuilder.NewObjectWriter(o.endpoint, o.tsi, o.TOI)
	if err := o.writerSession.Open(o.meta); err != nil {
		log.Error().Msgf("Fail to open destination for toi %s", o.TOI.String())
		o.error()
		return
	}
	if *o.transferLength != 0 {
		withMD5 := o.md5CheckEnabled && o.contentMD5 != nil
		o.blockWriter = NewBlockWriter(*o.transferLength, *o.cenc, withMD5)
	}

	o.writerState = writerOpened
}

func (o *ObjectReceiver) writeBlocks(sbnStart uint32, now time.Time) error {
	if o.writerState != writerOpened {
		return nil
	}
	if o.blockWriter == nil {
		return nil
	}

	sbn := int(sbnStart)
	for sbn < len(o.blocks) {
		block := o.blocks[sbn]
		if !block.Completed {
			break
		}

		ok, err := o.blockWriter.Write(uint32(sbn), block, o.writerSession)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		block.Deallocate()
		sbn++

		if o.blockWriter.IsCompleted() {
			md5Valid := true
			if o.contentMD5 != nil && o.md5CheckEnabled {
				md5Valid = o.blockWriter.CheckMD5(*o.contentMD5)
			}

			if md5Valid {
				log.Info().Msgf("Object with toi %s completed", o.TOI.String())
				o.complete(now)
			} else {
				log.Error().Msgf("MD5 does not match for toi %s", o.TOI.String())
				o.error()
			}
			break
		}
	}
	return nil
}

func (o *ObjectReceiver) complete(_ time.Time) {
	o.State = ObjectCompleted
	if o.writerSession != nil {
		o.writerSession.Complete()
	}
	o.writerState = writerClosed
	// 释放缓存
	o.blocks = nil
	o.cache = nil
	o.cacheSize = 0
}

func (o *ObjectReceiver) error() {
	o.State = ObjectError
	if o.writerSession != nil {
		o.writerSession.Error()
	}
	o.writerState = writerError
	o.blocks = nil
	o.cache = nil
	o.cacheSize = 0
}

func (o *ObjectReceiver) interrupted() {
	o.State = ObjectError
	if o.writerSession != nil {
		o.writerSession.Interrupted()
	}
	o.writerState = writerError
	o.blocks = nil
	o.cache = nil
	o.cacheSize = 0
}

func (o *ObjectReceiver) pushFromCache(now time.Time) {
	// 空对象 (transfer_length==0) 没有块，也要排空
	if len(o.blocks) == 0 && (o.transferLength == nil || *o.transferLength != 0) {
		return
	}

	// 按到达顺序排空暂存区
	for len(o.cache) > 0 && o.State == ObjectReceiving {
		item := o.cache[0]
		o.cache = o.cache[1:]
		o.cacheSize -= len(item.Data)
		pkt := item.ToPkt()
		if err := o.pushToBlock(&pkt, now); err != nil {
			log.Warn().Msgf("Fail to push cached pkt: %v", err)
			o.error()
			return
		}
	}
	if len(o.cache) == 0 {
		o.cache = nil
		o.cacheSize = 0
	}
}

func (o *ObjectReceiver) setCencFromPkt(pkt *alc.AlcPkt) {
	if o.cenc != nil {
		return
	}
	o.cenc = pkt.Cenc
	if o.TOI.Equal(lct.TOI_FDT) && o.cenc == nil {
		// FDT 缺省 Null
		cenc := lct.CencNull
		o.cenc = &cenc
	}
}

func (o *ObjectReceiver) setFdtIDFromPkt(pkt *alc.AlcPkt) {
	if o.fdtInstanceID != nil || !pkt.Lct.Toi.Equal(lct.TOI_FDT) {
		return
	}
	if pkt.FdtInfo != nil {
		o.fdtInstanceID = tools.Uint32Ptr(pkt.FdtInfo.FdtInstanceID)
	}
}

func (o *ObjectReceiver) setOtiFromPkt(pkt *alc.AlcPkt) {
	if o.oti != nil {
		return
	}
	if pkt.Oti == nil {
		return
	}

	if pkt.TransferLength == nil {
		log.Warn().Msg("Bug? Pkt contains OTI without transfer length")
		return
	}

	o.oti = pkt.Oti
	o.transferLength = pkt.TransferLength

	if o.cenc == nil {
		// CENC 不在带内，等 FDT 给出
		log.Debug().Msgf("Cenc still unknown for toi %s", o.TOI.String())
	}
}

// park 进入有界暂存区；溢出时丢弃最旧的包
func (o *ObjectReceiver) park(pkt *alc.AlcPkt) {
	cached := pkt.ToCache()
	for o.maxCacheSize > 0 && o.cacheSize+len(cached.Data) > o.maxCacheSize && len(o.cache) > 0 {
		oldest := o.cache[0]
		o.cache = o.cache[1:]
		o.cacheSize -= len(oldest.Data)
		log.Warn().Msgf("Parked packets overflow for toi %s, drop oldest", o.TOI.String())
	}
	o.cache = append(o.cache, &cached)
	o.cacheSize += len(cached.Data)
}

// initBlocksPartitioning 块划分，见 RFC 5052
func (o *ObjectReceiver) initBlocksPartitioning() {
	if len(o.blocks) != 0 {
		return
	}
	if o.oti == nil || o.transferLength == nil {
		return
	}

	aLarge, aSmall, nbALarge, nbBlocks := object.BlockPartitioning(
		uint64(o.oti.MaximumSourceBlockLength),
		*o.transferLength,
		uint64(o.oti.EncodingSymbolLength),
	)
	o.aLarge = aLarge
	o.aSmall = aSmall
	o.nbALarge = nbALarge

	o.blocksVarSize = o.oti.FecEncodingID == oti.ReedSolomonGF28UnderSpecified
	log.Debug().Msgf("Preallocate %d blocks of %d or %d symbols to decode a file of %d bytes with toi %s",
		nbBlocks, aLarge, aSmall, *o.transferLength, o.TOI.String())

	o.blocks = make([]*BlockDecoder, nbBlocks)
	for i := range o.blocks {
		o.blocks[i] = NewBlockDecoder()
	}
}
