package object

import (
	"github.com/ypo/flute/pkg/lct"
	t "github.com/ypo/flute/pkg/type"
)

// Pkt 发送流水线产出的一个编码符号，尚未封装 ALC/LCT
type Pkt struct {
	Payload           []byte    // 编码后的符号数据
	TransferLength    uint64    // 传输对象的总长度（字节）
	Esi               uint32    // Encoding Symbol Identifier
	Sbn               uint32    // Source Block Number
	Toi               t.Uint128 // Transport Object Identifier
	FdtID             *uint32   // 文件描述表实例ID（如果是FDT包），可选
	Cenc              lct.Cenc  // 内容编码方式（如gzip/zlib等）
	InbandCenc        bool      // 内容编码信息是否在带内传输
	CloseObject       bool      // 是否关闭对象传输的标志
	SourceBlockLength uint32    // 源块长度（符号数）
	SenderCurrentTime bool      // 是否包含发送方当前时间
}
