package object

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/tools"
)

// 命名空间常量，编码时按需写入
const (
	XMLNSFdt      = "urn:IETF:metadata:2005:FLUTE:FDT"
	XMLNSXSI      = "http://www.w3.org/2001/XMLSchema-instance"
	XMLNSMBMS2005 = "urn:3GPP:metadata:2005:MBMS:FLUTE:FDT"
	XMLNSMBMS2007 = "urn:3GPP:metadata:2007:MBMS:FLUTE:FDT"
	XMLNSMBMS2008 = "urn:3GPP:metadata:2008:MBMS:FLUTE:FDT_ext"
	XMLNSMBMS2009 = "urn:3GPP:metadata:2009:MBMS:FLUTE:FDT_ext"
	XMLNSMBMS2012 = "urn:3GPP:metadata:2012:MBMS:FLUTE:FDT_ext"
	XMLNSMBMS2015 = "urn:3GPP:metadata:2015:MBMS:FLUTE:FDT_ext"
	XMLNSSV       = "urn:3gpp:metadata:2009:MBMS:schemaVersion"
)

// FdtInstance FDT-Instance 顶层元素 (RFC 6726 + 3GPP TS 26.346 扩展)
type FdtInstance struct {
	XMLName xml.Name `xml:"FDT-Instance"`

	// 命名空间属性
	XMLNS         *string `xml:"xmlns,attr,omitempty"`
	XMLNSXSI      *string `xml:"xmlns:xsi,attr,omitempty"`
	XMLNSMBMS2005 *string `xml:"xmlns:mbms2005,attr,omitempty"`
	XMLNSMBMS2007 *string `xml:"xmlns:mbms2007,attr,omitempty"`
	XMLNSMBMS2008 *string `xml:"xmlns:mbms2008,attr,omitempty"`
	XMLNSMBMS2009 *string `xml:"xmlns:mbms2009,attr,omitempty"`
	XMLNSMBMS2012 *string `xml:"xmlns:mbms2012,attr,omitempty"`
	XMLNSMBMS2015 *string `xml:"xmlns:mbms2015,attr,omitempty"`
	XMLNSSV       *string `xml:"xmlns:sv,attr,omitempty"`

	// 必要属性
	Expires         string  `xml:"Expires,attr"` // NTP 高 32 位十进制字符串
	Complete        *bool   `xml:"Complete,attr,omitempty"`
	ContentType     *string `xml:"Content-Type,attr,omitempty"`
	ContentEncoding *string `xml:"Content-Encoding,attr,omitempty"`

	// 3GPP 扩展属性
	FullFDT *bool `xml:"mbms2012:FullFDT,attr,omitempty"`

	// 顶层 FEC OTI
	FECEncID      *uint8  `xml:"FEC-OTI-FEC-Encoding-ID,attr,omitempty"`
	FECInstanceID *uint64 `xml:"FEC-OTI-FEC-Instance-ID,attr,omitempty"`
	FECMaxSBL     *uint64 `xml:"FEC-OTI-Maximum-Source-Block-Length,attr,omitempty"`
	FECESL        *uint64 `xml:"FEC-OTI-Encoding-Symbol-Length,attr,omitempty"`
	FECMaxN       *uint64 `xml:"FEC-OTI-Max-Number-of-Encoding-Symbols,attr,omitempty"`
	FECSchemeInfo *string `xml:"FEC-OTI-Scheme-Specific-Info,attr,omitempty"` // Base64

	// 文件列表
	Files []FdtFile `xml:"File"`

	// 3GPP 扩展元素
	SchemaVersion *uint32  `xml:"sv:schemaVersion,omitempty"`
	Group         []string `xml:"mbms2009:Group,omitempty"`
	BaseURL1      []string `xml:"mbms2012:Base-URL-1,omitempty"`
	BaseURL2      []string `xml:"mbms2012:Base-URL-2,omitempty"`
}

// FdtFile 单个文件项
type FdtFile struct {
	// 子元素
	CacheControl *CacheControl `xml:"mbms2007:Cache-Control,omitempty"`
	Group        []string      `xml:"mbms2009:Group,omitempty"`

	AlternateContentLocation1 []string `xml:"mbms2012:Alternate-Content-Location-1,omitempty"`
	AlternateContentLocation2 []string `xml:"mbms2012:Alternate-Content-Location-2,omitempty"`

	// 标识
	ContentLocation string  `xml:"Content-Location,attr"`
	TOI             string  `xml:"TOI,attr"`
	ContentLength   *uint64 `xml:"Content-Length,attr,omitempty"`
	TransferLength  *uint64 `xml:"Transfer-Length,attr,omitempty"`

	// 内容类型
	ContentType     *string `xml:"Content-Type,attr,omitempty"`
	ContentEncoding *string `xml:"Content-Encoding,attr,omitempty"`
	ContentMD5      *string `xml:"Content-MD5,attr,omitempty"`

	// 3GPP 扩展属性
	ETag                     *string `xml:"mbms2015:File-ETag,attr,omitempty"`
	FECRedundancyLevel       *string `xml:"mbms2008:FEC-Redundancy-Level,attr,omitempty"`
	IndependentUnitPositions *string `xml:"mbms2012:IndependentUnitPositions,attr,omitempty"`

	// 文件级 FEC OTI
	FECEncID      *uint8  `xml:"FEC-OTI-FEC-Encoding-ID,attr,omitempty"`
	FECInstanceID *uint64 `xml:"FEC-OTI-FEC-Instance-ID,attr,omitempty"`
	FECMaxSBL     *uint64 `xml:"FEC-OTI-Maximum-Source-Block-Length,attr,omitempty"`
	FECESL        *uint64 `xml:"FEC-OTI-Encoding-Symbol-Length,attr,omitempty"`
	FECMaxN       *uint64 `xml:"FEC-OTI-Max-Number-of-Encoding-Symbols,attr,omitempty"`
	FECSchemeInfo *string `xml:"FEC-OTI-Scheme-Specific-Info,attr,omitempty"` // Base64
}

// CacheControlChoice 三个字段互斥，仅会设置其中之一
type CacheControlChoice struct {
	NoCache  *bool   `xml:"mbms2007:no-cache,omitempty"`
	MaxStale *bool   `xml:"mbms2007:max-stale,omitempty"`
	Expires  *uint32 `xml:"mbms2007:Expires,omitempty"`
}

type CacheControl struct {
	Value CacheControlChoice `xml:",any"`
}

// UnmarshalXML 只解析我们关心的三类子元素，其余按 processContents="skip" 跳过
func (c *CacheControl) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tt := tok.(type) {
		case xml.StartElement:
			var e struct {
				XMLName xml.Name
				Value   string `xml:",chardata"`
			}
			if err := d.DecodeElement(&e, &tt); err != nil {
				return err
			}
			switch e.XMLName.Local {
			case "no-cache":
				c.Value.NoCache = tools.BoolPtr(true)
			case "max-stale":
				c.Value.MaxStale = tools.BoolPtr(true)
			case "Expires":
				if v, err := strconv.ParseUint(e.Value, 10, 32); err == nil {
					c.Value.Expires = tools.Uint32Ptr(uint32(v))
				}
			}
		case xml.EndElement:
			if tt.Name.Local == start.Name.Local && tt.Name.Space == start.Name.Space {
				return nil
			}
		}
	}
}

// ObjectCacheControl 对象缓存指令（交给外部 writer）
type ObjectCacheControl interface{ isCacheCtl() }

type ObjectCacheControlNoCacheT struct{}

func (ObjectCacheControlNoCacheT) isCacheCtl() {}

var ObjectCacheControlNoCache ObjectCacheControlNoCacheT

type ObjectCacheControlMaxStaleT struct{}

func (ObjectCacheControlMaxStaleT) isCacheCtl() {}

var ObjectCacheControlMaxStale ObjectCacheControlMaxStaleT

type ObjectCacheControlExpiresAt struct{ Time time.Time }

func (ObjectCacheControlExpiresAt) isCacheCtl() {}

type ObjectCacheControlExpiresAtHint struct{ Time time.Time }

func (ObjectCacheControlExpiresAtHint) isCacheCtl() {}

// ParseFdtInstance 从 XML 字节解析 FdtInstance
func ParseFdtInstance(buf []byte) (FdtInstance, error) {
	var inst FdtInstance
	if err := xml.Unmarshal(buf, &inst); err != nil {
		return FdtInstance{}, fmt.Errorf("parse FDT failed: %w", err)
	}
	// 带命名空间前缀的扩展属性按 local name 补齐
	if inst.FullFDT == nil {
		if v, ok := scanRootAttr(buf, "FullFDT"); ok {
			b := v == "true" || v == "1"
			inst.FullFDT = &b
		}
	}
	return inst, nil
}

// scanRootAttr 在根元素上按 local name 查属性，忽略命名空间
func scanRootAttr(buf []byte, local string) (string, bool) {
	d := xml.NewDecoder(bytes.NewReader(buf))
	for {
		tok, err := d.Token()
		if err != nil {
			return "", false
		}
		if start, ok := tok.(xml.StartElement); ok {
			for _, a := range start.Attr {
				if a.Name.Local == local {
					return a.Value, true
				}
			}
			return "", false
		}
	}
}

// GetExpirationDate 把 Expires(NTP 高 32 位秒) 转成 time.Time
func (f FdtInstance) GetExpirationDate() *time.Time {
	sec, err := strconv.ParseUint(f.Expires, 10, 32)
	if err != nil {
		return nil
	}
	ntp := sec << 32
	tm, err := tools.NTPToSystemTime(ntp)
	if err != nil {
		return nil
	}
	return &tm
}

// GetFile 根据 TOI（十进制字符串）查找文件
func (f FdtInstance) GetFile(toiStr string) *FdtFile {
	for i := range f.Files {
		if f.Files[i].TOI == toiStr {
			return &f.Files[i]
		}
	}
	return nil
}

// GetOtiForFile 优先文件级 OTI，否则回退顶层
func (f FdtInstance) GetOtiForFile(file *FdtFile) *oti.Oti {
	if o := file.GetOti(); o != nil {
		return o
	}
	return f.GetOti()
}

// GetOti 顶层 OTI
func (f FdtInstance) GetOti() *oti.Oti {
	return buildOti(f.FECEncID, f.FECInstanceID, f.FECMaxSBL, f.FECESL, f.FECMaxN, f.FECSchemeInfo)
}

// GetOti 文件级 OTI
func (f *FdtFile) GetOti() *oti.Oti {
	return buildOti(f.FECEncID, f.FECInstanceID, f.FECMaxSBL, f.FECESL, f.FECMaxN, f.FECSchemeInfo)
}

func buildOti(encID *uint8, instanceID, maxSBL, esl, maxN *uint64, schemeInfo *string) *oti.Oti {
	if encID == nil || maxSBL == nil || esl == nil {
		return nil
	}
	enc, err := oti.FECEncodingIDFromByte(*encID)
	if err != nil {
		return nil
	}

	n := maxN
	if n == nil {
		n = maxSBL
	}
	parity := uint32(0)
	if *n >= *maxSBL {
		parity = uint32(*n - *maxSBL)
	}

	o := &oti.Oti{
		FecEncodingID:            enc,
		MaximumSourceBlockLength: uint32(*maxSBL),
		EncodingSymbolLength:     uint16(*esl),
		MaxNumberOfParitySymbols: parity,
		InBandFti:                false,
	}
	if instanceID != nil {
		o.FecInstanceID = uint16(*instanceID)
	}

	if schemeInfo != nil {
		switch enc {
		case oti.ReedSolomonGF2M:
			if ss, err := oti.DecodeReedSolomonGF2MSchemeSpecific(*schemeInfo); err == nil {
				o.ReedSolomonGF2MSchemeSpecific = ss
			}
		case oti.RaptorQ:
			if ss, err := oti.DecodeRaptorQSchemeSpecific(*schemeInfo); err == nil {
				o.RaptorQSchemeSpecific = ss
			}
		case oti.Raptor:
			if ss, err := oti.DecodeRaptorSchemeSpecific(*schemeInfo); err == nil {
				o.RaptorSchemeSpecific = ss
			}
		}
	}
	return o
}

// GetContentEncoding 解析 Content-Encoding 属性
func (f *FdtFile) GetContentEncoding() lct.Cenc {
	if f.ContentEncoding == nil {
		return lct.CencNull
	}
	cenc, err := lct.CencFromString(*f.ContentEncoding)
	if err != nil {
		return lct.CencNull
	}
	return cenc
}

// GetObjectCacheControl 计算对象的缓存指令，缺省回退 FDT 的过期时间
func (f *FdtFile) GetObjectCacheControl(fdtExp *time.Time) ObjectCacheControl {
	if f.CacheControl != nil {
		if f.CacheControl.Value.NoCache != nil && *f.CacheControl.Value.NoCache {
			return ObjectCacheControlNoCache
		}
		if f.CacheControl.Value.MaxStale != nil && *f.CacheControl.Value.MaxStale {
			return ObjectCacheControlMaxStale
		}
		if f.CacheControl.Value.Expires != nil {
			ntp := uint64(*f.CacheControl.Value.Expires) << 32
			if tm, err := tools.NTPToSystemTime(ntp); err == nil {
				return ObjectCacheControlExpiresAt{Time: tm}
			}
		}
	}
	if fdtExp != nil {
		return ObjectCacheControlExpiresAtHint{Time: *fdtExp}
	}
	return ObjectCacheControlNoCache
}

// GetTransferLength Transfer-Length 缺省时取 Content-Length
func (f *FdtFile) GetTransferLength() uint64 {
	if f.TransferLength != nil {
		return *f.TransferLength
	}
	if f.ContentLength != nil {
		return *f.ContentLength
	}
	return 0
}
