package receiver

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/ypo/flute/pkg/lct"
)

// ErrContentEncoding 反解 CENC 失败（流损坏/截断）
var ErrContentEncoding = errors.New("content encoding error")

// UncompressBuffer 反解 CENC，得到原始内容
func UncompressBuffer(data []byte, cenc lct.Cenc) ([]byte, error) {
	var r io.ReadCloser
	var err error

	switch cenc {
	case lct.CencNull:
		return data, nil
	case lct.CencZlib:
		r, err = zlib.NewReader(bytes.NewReader(data))
	case lct.CencDeflate:
		r = flate.NewReader(bytes.NewReader(data))
	case lct.CencGzip:
		r, err = gzip.NewReader(bytes.NewReader(data))
	default:
		return nil, errors.New("unsupported content encoding")
	}
	if err != nil {
		return nil, errors.Join(ErrContentEncoding, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Join(ErrContentEncoding, err)
	}
	return out, nil
}
