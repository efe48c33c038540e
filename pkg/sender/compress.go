package sender

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/ypo/flute/pkg/lct"
)

// CompressBuffer 按 CENC 压缩内存数据
func CompressBuffer(data []byte, cenc lct.Cenc) ([]byte, error) {
	switch cenc {
	case lct.CencNull:
		return nil, errors.New("null compression ?")
	case lct.CencZlib:
		return compressZlib(data)
	case lct.CencDeflate:
		return compressDeflate(data)
	case lct.CencGzip:
		return compressGzip(data)
	default:
		return nil, errors.New("unsupported compression type")
	}
}

// CompressStream 按 CENC 压缩流数据
func CompressStream(input io.Reader, cenc lct.Cenc, output io.Writer) error {
	switch cenc {
	case lct.CencNull:
		return errors.New("null compression ?")
	case lct.CencZlib:
		w := zlib.NewWriter(output)
		defer w.Close()
		_, err := io.Copy(w, input)
		return err
	case lct.CencDeflate:
		w, err := flate.NewWriter(output, flate.DefaultCompression)
		if err != nil {
			return err
		}
		defer w.Close()
		_, err = io.Copy(w, input)
		return err
	case lct.CencGzip:
		w := gzip.NewWriter(output)
		defer w.Close()
		_, err := io.Copy(w, input)
		return err
	default:
		return errors.New("unsupported compression type")
	}
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressDeflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compressZlib(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
