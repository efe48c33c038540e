package receiver

import (
	"crypto/md5"
	"encoding/base64"
	"hash"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/receiver/writer"
)

// BlockWriter 按 SBN 顺序把解码完的块冲刷到 writer，
// 同时反解 CENC、增量计算 MD5。
type BlockWriter struct {
	sbn       uint32
	bytesLeft uint64
	cenc      lct.Cenc
	// 非 Null CENC 时累积传输字节，对象收齐后一次性解压
	compressed []byte
	md5Hash    hash.Hash
	md5        *string
	failed     bool
}

func NewBlockWriter(transferLength uint64, cenc lct.Cenc, withMD5 bool) *BlockWriter {
	bw := &BlockWriter{
		bytesLeft: transferLength,
		cenc:      cenc,
	}
	if withMD5 {
		bw.md5Hash = md5.New()
	}
	return bw
}

// CheckMD5 校验 base64 的 Content-MD5
func (w *BlockWriter) CheckMD5(expected string) bool {
	log.Debug().Msgf("Check MD5 %s %v", expected, w.md5)
	if w.md5 == nil {
		return true
	}
	return *w.md5 == expected
}

// Write 尝试写入 SBN 对应的块；块未轮到时返回 false
func (w *BlockWriter) Write(sbn uint32, block *BlockDecoder, session writer.ObjectWriter) (bool, error) {
	if w.sbn != sbn {
		return false, nil
	}

	data, err := block.SourceBlock()
	if err != nil {
		return false, err
	}

	// 末块末符号的填充按剩余长度截断
	if uint64(len(data)) > w.bytesLeft {
		data = data[:w.bytesLeft]
	}

	if w.cenc == lct.CencNull {
		if w.md5Hash != nil {
			w.md5Hash.Write(data)
		}
		session.Write(data)
	} else {
		w.compressed = append(w.compressed, data...)
	}

	w.bytesLeft -= uint64(len(data))
	w.sbn++

	if w.IsCompleted() {
		if w.cenc != lct.CencNull {
			content, err := UncompressBuffer(w.compressed, w.cenc)
			w.compressed = nil
			if err != nil {
				w.failed = true
				return false, err
			}
			if w.md5Hash != nil {
				w.md5Hash.Write(content)
			}
			session.Write(content)
		}
		if w.md5Hash != nil {
			sum := base64.StdEncoding.EncodeToString(w.md5Hash.Sum(nil))
			w.md5 = &sum
		}
	}

	return true, nil
}

func (w *BlockWriter) IsCompleted() bool {
	return w.bytesLeft == 0 && !w.failed
}
