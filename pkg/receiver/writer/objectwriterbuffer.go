package writer

import (
	"net/url"
	"sync"
	"time"

	"github.com/ypo/flute/pkg/transport"
	t "github.com/ypo/flute/pkg/type"
)

// ObjectWriterBufferBuilder 把对象写到内存，测试和小对象场景使用
type ObjectWriterBufferBuilder struct {
	mu      sync.Mutex
	Objects []*ObjectWriterBuffer
}

// ObjectWriterBuffer 一个对象的内存写入会话
type ObjectWriterBuffer struct {
	mu          sync.Mutex
	Complete    bool
	Error       bool
	Interrupted bool
	Data        []byte
	Meta        *ObjectMetadata
	TSI         uint64
	TOI         t.Uint128
}

func NewObjectWriterBufferBuilder() *ObjectWriterBufferBuilder {
	return &ObjectWriterBufferBuilder{}
}

func (b *ObjectWriterBufferBuilder) NewObjectWriter(_ *transport.UDPEndpoint, tsi uint64, toi t.Uint128) ObjectWriter {
	obj := &ObjectWriterBuffer{
		TSI: tsi,
		TOI: toi,
	}
	b.mu.Lock()
	b.Objects = append(b.Objects, obj)
	b.mu.Unlock()
	return &objectWriterBufferSession{obj: obj}
}

func (b *ObjectWriterBufferBuilder) SetCacheDuration(_ *transport.UDPEndpoint, _ uint64, _ t.Uint128, _ *url.URL, _ time.Duration) {
}

// CompletedObjects 返回接收成功的对象
func (b *ObjectWriterBufferBuilder) CompletedObjects() []*ObjectWriterBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ObjectWriterBuffer, 0, len(b.Objects))
	for _, obj := range b.Objects {
		if obj.Complete {
			out = append(out, obj)
		}
	}
	return out
}

// ErrorObjects 返回接收失败的对象
func (b *ObjectWriterBufferBuilder) ErrorObjects() []*ObjectWriterBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*ObjectWriterBuffer, 0)
	for _, obj := range b.Objects {
		if obj.Error {
			out = append(out, obj)
		}
	}
	return out
}

type objectWriterBufferSession struct {
	obj *ObjectWriterBuffer
}

func (s *objectWriterBufferSession) Open(meta *ObjectMetadata) error {
	s.obj.mu.Lock()
	defer s.obj.mu.Unlock()
	s.obj.Meta = meta
	return nil
}

func (s *objectWriterBufferSession) Write(data []byte) {
	s.obj.mu.Lock()
	defer s.obj.mu.Unlock()
	s.obj.Data = append(s.obj.Data, data...)
}

func (s *objectWriterBufferSession) Complete() {
	s.obj.mu.Lock()
	defer s.obj.mu.Unlock()
	s.obj.Complete = true
}

func (s *objectWriterBufferSession) Error() {
	s.obj.mu.Lock()
	defer s.obj.mu.Unlock()
	s.obj.Error = true
}

func (s *objectWriterBufferSession) Interrupted() {
	s.obj.mu.Lock()
	defer s.obj.mu.Unlock()
	s.obj.Interrupted = true
}
