package writer

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/transport"
	t "github.com/ypo/flute/pkg/type"
)

// ObjectWriterFSBuilder 把对象写入目标目录，
// 文件名取 Content-Location 的路径部分。
type ObjectWriterFSBuilder struct {
	destDir string
}

func NewObjectWriterFSBuilder(destDir string) (*ObjectWriterFSBuilder, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}
	return &ObjectWriterFSBuilder{destDir: destDir}, nil
}

func (b *ObjectWriterFSBuilder) NewObjectWriter(_ *transport.UDPEndpoint, tsi uint64, toi t.Uint128) ObjectWriter {
	return &ObjectWriterFS{destDir: b.destDir, tsi: tsi, toi: toi}
}

func (b *ObjectWriterFSBuilder) SetCacheDuration(_ *transport.UDPEndpoint, _ uint64, _ t.Uint128, _ *url.URL, _ time.Duration) {
}

// ObjectWriterFS 单个对象的文件写入会话。
// 先写临时文件，Complete 时原子改名。
type ObjectWriterFS struct {
	destDir  string
	tsi      uint64
	toi      t.Uint128
	destPath string
	tmpPath  string
	file     *os.File
}

func (w *ObjectWriterFS) Open(meta *ObjectMetadata) error {
	rel := "object_" + w.toi.String()
	if meta != nil && meta.ContentLocation != nil {
		p := strings.TrimPrefix(meta.ContentLocation.Path, "/")
		if p != "" {
			rel = filepath.Clean(p)
			if strings.HasPrefix(rel, "..") {
				rel = "object_" + w.toi.String()
			}
		}
	}

	w.destPath = filepath.Join(w.destDir, rel)
	if err := os.MkdirAll(filepath.Dir(w.destPath), 0o755); err != nil {
		return err
	}

	w.tmpPath = w.destPath + ".part"
	f, err := os.Create(w.tmpPath)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

func (w *ObjectWriterFS) Write(data []byte) {
	if w.file == nil {
		return
	}
	if _, err := w.file.Write(data); err != nil {
		log.Error().Msgf("Fail to write %s: %v", w.tmpPath, err)
	}
}

func (w *ObjectWriterFS) Complete() {
	if w.file == nil {
		return
	}
	w.file.Close()
	w.file = nil
	if err := os.Rename(w.tmpPath, w.destPath); err != nil {
		log.Error().Msgf("Fail to rename %s: %v", w.tmpPath, err)
		return
	}
	log.Info().Msgf("Object received to %s", w.destPath)
}

func (w *ObjectWriterFS) Error() {
	w.discard()
}

func (w *ObjectWriterFS) Interrupted() {
	w.discard()
}

func (w *ObjectWriterFS) discard() {
	if w.file == nil {
		return
	}
	w.file.Close()
	w.file = nil
	os.Remove(w.tmpPath)
}
