// Package writer 把接收完成的对象写到最终目的地
package writer

import (
	"net/url"
	"time"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/object"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/transport"
	t "github.com/ypo/flute/pkg/type"
)

// ObjectMetadata 对象的元信息，来自 FDT
type ObjectMetadata struct {
	// URI that can be used as an identifier for this object
	ContentLocation *url.URL
	// Final size of this object
	ContentLength *uint64
	// Transfer length (compressed) of this object
	TransferLength *uint64
	ContentType    *string
	// Object Cache Control
	CacheControl object.ObjectCacheControl
	Groups       []string
	MD5          *string
	Oti          *oti.Oti
	Cenc         *lct.Cenc
	ETag         *string
}

// ObjectWriterBuilder 为每个到达的对象创建 writer
type ObjectWriterBuilder interface {
	// NewObjectWriter 返回负责把对象落地的 writer
	NewObjectWriter(endpoint *transport.UDPEndpoint, tsi uint64, toi t.Uint128) ObjectWriter
	// SetCacheDuration 对象的缓存指令被新 FDT 更新时触发
	SetCacheDuration(endpoint *transport.UDPEndpoint, tsi uint64, toi t.Uint128, contentLocation *url.URL, duration time.Duration)
}

// ObjectWriter 单个对象的写入会话。
// Write 按字节顺序调用（块按 SBN 顺序落盘）。
type ObjectWriter interface {
	// Open 打开目的地
	Open(meta *ObjectMetadata) error
	// Write 写入一段已解码（已解压）的数据
	Write(data []byte)
	// Complete 对象校验通过，写入结束
	Complete()
	// Error 对象接收失败（解码失败 / MD5 不匹配 / 解压失败）
	Error()
	// Interrupted 发送端中断了该对象的传输
	Interrupted()
}
