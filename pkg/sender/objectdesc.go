package sender

import (
	"bufio"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/tools"
)

type CacheControlChoice int

const (
	CacheNoCache CacheControlChoice = iota
	CacheMaxStale
	CacheExpires
	CacheExpiresAt
)

// CacheControl 对象的缓存指令，映射到 FDT 的 mbms2007:Cache-Control
type CacheControl struct {
	Choice   CacheControlChoice
	Duration time.Duration // 当 Choice==CacheExpires
	At       time.Time     // 当 Choice==CacheExpiresAt
}

// Target Acquisition for Object

type TargetAcquisitionChoice int

const (
	AsFastAsPossible TargetAcquisitionChoice = iota
	WithinDuration
	WithinTime
)

// TargetAcquisition 期望的获取时限：调度器据此为对象安排逐包节拍
type TargetAcquisition struct {
	Choice   TargetAcquisitionChoice
	Duration time.Duration // Choice == WithinDuration
	At       time.Time     // Choice == WithinTime
}

// 线程安全由上层保证
type ObjectDataStream = io.ReadSeeker

// Md5Base64 计算 io.ReadSeeker 的 MD5 并返回 base64 编码
func Md5Base64(rs io.ReadSeeker) (string, error) {
	sum, err := md5Digest(rs)
	if err != nil {
		return "", err
	}
	// RFC 2616 Content-MD5 使用 base64
	return base64.StdEncoding.EncodeToString(sum), nil
}

func md5Digest(rs io.ReadSeeker) ([]byte, error) {
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(rs)
	h := md5.New()
	buf := make([]byte, 102400)

	for {
		n, rerr := reader.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}

	// 再 seek 回文件开头
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

type ObjectDataSourceChoice int

const (
	DataStream ObjectDataSourceChoice = iota
	DataBuffer
)

type ObjectDataSource struct {
	Choice ObjectDataSourceChoice

	// Source from a stream
	streamMu sync.Mutex
	stream   ObjectDataStream

	// Source from a buffer
	buffer []byte
}

// ObjectDataSourceFromBuffer 创建自 buffer，非 Null CENC 在此处完成压缩
func ObjectDataSourceFromBuffer(buf []byte, cenc lct.Cenc) (*ObjectDataSource, error) {
	var data []byte
	switch cenc {
	case lct.CencNull:
		data = append([]byte(nil), buf...)
	default:
		var err error
		data, err = CompressBuffer(buf, cenc)
		if err != nil {
			return nil, err
		}
	}
	return &ObjectDataSource{
		Choice: DataBuffer,
		buffer: data,
	}, nil
}

// ObjectDataSourceFromStream 创建自 stream
func ObjectDataSourceFromStream(rs ObjectDataStream) *ObjectDataSource {
	return &ObjectDataSource{
		Choice: DataStream,
		stream: rs,
	}
}

// Len 获取数据长度
func (o *ObjectDataSource) Len() (uint64, error) {
	switch o.Choice {
	case DataBuffer:
		return uint64(len(o.buffer)), nil
	case DataStream:
		o.streamMu.Lock()
		defer o.streamMu.Unlock()

		cur, err := o.stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		end, err := o.stream.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := o.stream.Seek(cur, io.SeekStart); err != nil {
			return 0, err
		}
		return uint64(end), nil
	default:
		return 0, errors.New("unknown ObjectDataSource choice")
	}
}

type CarouselRepeatModeChoice int

const (
	DelayBetweenTransfers CarouselRepeatModeChoice = iota
	IntervalBetweenStartTimes
)

// CarouselRepeatMode 轮播策略
type CarouselRepeatMode struct {
	Choice   CarouselRepeatModeChoice
	Interval time.Duration
}

// ObjectDesc 待发送对象的描述
type ObjectDesc struct {
	ContentLocation *url.URL
	Source          *ObjectDataSource

	ContentType      string
	ContentLength    uint64
	TransferLength   uint64
	Cenc             lct.Cenc
	InbandCenc       bool
	MD5              *string
	OTI              *oti.Oti // 覆盖会话默认 OTI，可选
	MaxTransferCount uint32

	TargetAcquisition                     *TargetAcquisition
	CarouselMode                          *CarouselRepeatMode
	TransferStartTime                     *time.Time
	CacheControl                          *CacheControl
	Groups                                []string
	Toi                                   *Toi
	ETag                                  *string
	AllowImmediateStopBeforeFirstTransfer bool
}

func (o *ObjectDesc) SetToi(t *Toi) { o.Toi = t }

// CreateFromFile 创建文件对象。cacheInRAM=false 时以流式读取，内存占用与文件大小无关
func CreateFromFile(
	path string,
	contentLocation *url.URL, // 可为 nil，默认 file:///<basename>
	contentType string,
	cacheInRAM bool,
	maxTransferCount uint32,
	carouselMode *CarouselRepeatMode,
	targetAcquisition *TargetAcquisition,
	cacheControl *CacheControl,
	groups []string,
	cenc lct.Cenc,
	inbandCenc bool,
	otiOver *oti.Oti,
	withMD5 bool,
) (*ObjectDesc, error) {

	cl := contentLocation
	if cl == nil {
		fn := filepath.Base(path)
		u, _ := url.Parse("file:///")
		if fn != "" && fn != "." {
			u, _ = url.Parse("file:///" + fn)
		}
		cl = u
	}

	if cacheInRAM {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return CreateFromBuffer(
			content, contentType, cl, maxTransferCount,
			carouselMode, targetAcquisition, cacheControl, groups,
			cenc, inbandCenc, otiOver, withMD5,
		)
	}

	if cenc != lct.CencNull {
		return nil, errors.New("compressed object is not compatible with file path")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return CreateFromStream(
		f, contentType, cl, maxTransferCount,
		carouselMode, targetAcquisition, cacheControl, groups,
		inbandCenc, otiOver, withMD5,
	)
}

// CreateFromStream 创建流式对象，CENC 只支持 Null
func CreateFromStream(
	stream io.ReadSeeker,
	contentType string,
	contentLocation *url.URL,
	maxTransferCount uint32,
	carouselMode *CarouselRepeatMode,
	targetAcquisition *TargetAcquisition,
	cacheControl *CacheControl,
	groups []string,
	inbandCenc bool,
	otiOver *oti.Oti,
	withMD5 bool,
) (*ObjectDesc, error) {

	var md5b64 *string
	if withMD5 {
		s, err := Md5Base64(stream)
		if err != nil {
			return nil, err
		}
		md5b64 = &s
	}

	src := ObjectDataSourceFromStream(stream)
	transferLen, err := src.Len()
	if err != nil {
		return nil, err
	}

	return &ObjectDesc{
		ContentLocation:   contentLocation,
		Source:            src,
		ContentType:       contentType,
		ContentLength:     transferLen,
		TransferLength:    transferLen,
		Cenc:              lct.CencNull,
		InbandCenc:        inbandCenc,
		MD5:               md5b64,
		OTI:               otiOver,
		MaxTransferCount:  maxTransferCount,
		CarouselMode:      carouselMode,
		TargetAcquisition: targetAcquisition,
		CacheControl:      cacheControl,
		Groups:            groups,
	}, nil
}

// CreateFromBuffer 创建内存对象
func CreateFromBuffer(
	content []byte,
	contentType string,
	contentLocation *url.URL,
	maxTransferCount uint32,
	carouselMode *CarouselRepeatMode,
	targetAcquisition *TargetAcquisition,
	cacheControl *CacheControl,
	groups []string,
	cenc lct.Cenc,
	inbandCenc bool,
	otiOver *oti.Oti,
	withMD5 bool,
) (*ObjectDesc, error) {

	contentLen := uint64(len(content))

	var md5b64 *string
	if withMD5 {
		sum := md5.Sum(content)
		s := base64.StdEncoding.EncodeToString(sum[:])
		md5b64 = &s
	}

	src, err := ObjectDataSourceFromBuffer(content, cenc)
	if err != nil {
		return nil, err
	}
	transferLen, err := src.Len()
	if err != nil {
		return nil, err
	}

	return &ObjectDesc{
		ContentLocation:   contentLocation,
		Source:            src,
		ContentType:       contentType,
		ContentLength:     contentLen,
		TransferLength:    transferLen,
		Cenc:              cenc,
		InbandCenc:        inbandCenc,
		MD5:               md5b64,
		OTI:               otiOver,
		MaxTransferCount:  maxTransferCount,
		CarouselMode:      carouselMode,
		TargetAcquisition: targetAcquisition,
		CacheControl:      cacheControl,
		Groups:            groups,
	}, nil
}

// CreateFdtCacheControl 把缓存指令转为 FDT XML 片段
func CreateFdtCacheControl(cc *CacheControl, now time.Time) *object.CacheControl {
	if cc == nil {
		return nil
	}
	var choice object.CacheControlChoice
	switch cc.Choice {
	case CacheNoCache:
		choice.NoCache = tools.BoolPtr(true)
	case CacheMaxStale:
		choice.MaxStale = tools.BoolPtr(true)
	case CacheExpires:
		expires := now.Add(cc.Duration)
		if ntp, err := tools.SystemTimeToNTP(expires); err == nil {
			choice.Expires = tools.Uint32Ptr(uint32(ntp >> 32))
		}
	case CacheExpiresAt:
		if ntp, err := tools.SystemTimeToNTP(cc.At); err == nil {
			choice.Expires = tools.Uint32Ptr(uint32(ntp >> 32))
		}
	}
	return &object.CacheControl{Value: choice}
}
