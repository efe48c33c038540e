package receiver

import (
	"bytes"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/receiver/writer"
	"github.com/ypo/flute/pkg/sender"
	"github.com/ypo/flute/pkg/transport"
)

func testEndpoint() transport.UDPEndpoint {
	return transport.NewUDPEndpoint(nil, "224.0.0.1", 3000)
}

func newSender(o *oti.Oti, content []byte, location string, cenc lct.Cenc, inbandCenc bool) *sender.Sender {
	s := sender.NewSender(testEndpoint(), 1, o, nil)
	u, _ := url.Parse(location)
	obj, err := sender.CreateFromBuffer(
		content,
		"application/octet-stream",
		u,
		1,
		nil, nil, nil, nil,
		cenc,
		inbandCenc,
		nil,
		true, // md5
	)
	if err != nil {
		panic(err)
	}
	if _, err := s.AddObject(sender.PQHighest, obj); err != nil {
		panic(err)
	}
	return s
}

// pump 把 sender 的全部包灌进 receiver，drop 返回 true 的包被丢弃
func pump(t *testing.T, s *sender.Sender, multi *MultiReceiver, now time.Time, drop func(pkt *alc.AlcPkt) bool) {
	endpoint := testEndpoint()
	for {
		data := s.Read(now)
		if data == nil {
			break
		}
		if drop != nil {
			pkt, err := alc.ParseAlcPkt(data)
			require.NoError(t, err)
			if drop(pkt) {
				continue
			}
		}
		require.NoError(t, multi.Push(&endpoint, data, now))
	}
}

func TestReceiverTinyFileNoCode(t *testing.T) {
	content := []byte("hello world")
	o := oti.NewNoCode(1400, 64)
	s := newSender(o, content, "file:///hello.txt", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))
	pump(t, s, multi, now, nil)

	completed := w.CompletedObjects()
	require.Len(t, completed, 1)
	require.True(t, bytes.Equal(content, completed[0].Data))
	require.Equal(t, "file:///hello.txt", completed[0].Meta.ContentLocation.String())
	require.Zero(t, multi.NbObjectsError())
}

func TestReceiverReedSolomonUnderLoss(t *testing.T) {
	content := make([]byte, 100*1024)
	for i := range content {
		content[i] = byte(i * 31)
	}
	o, err := oti.NewReedSolomonRS28(1024, 64, 16)
	require.NoError(t, err)
	s := newSender(o, content, "file:///big.bin", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))

	// 每个块丢 16 个源符号
	pump(t, s, multi, now, func(pkt *alc.AlcPkt) bool {
		if pkt.Lct.Toi.Equal(lct.TOI_FDT) || pkt.Oti == nil {
			return false
		}
		pl, err := alc.ParsePayloadID(pkt, pkt.Oti)
		require.NoError(t, err)
		return pl.Esi < 16
	})

	completed := w.CompletedObjects()
	require.Len(t, completed, 1)
	require.True(t, bytes.Equal(content, completed[0].Data))
}

func TestReceiverReedSolomonTooMuchLoss(t *testing.T) {
	content := make([]byte, 32*1024)
	o, err := oti.NewReedSolomonRS28(1024, 32, 4)
	require.NoError(t, err)
	s := newSender(o, content, "file:///fail.bin", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))

	// 第一个块丢 5 个符号（> r=4），该块永远无法解码
	pump(t, s, multi, now, func(pkt *alc.AlcPkt) bool {
		if pkt.Lct.Toi.Equal(lct.TOI_FDT) || pkt.Oti == nil {
			return false
		}
		pl, err := alc.ParsePayloadID(pkt, pkt.Oti)
		require.NoError(t, err)
		return pl.Sbn == 0 && pl.Esi < 5
	})

	require.Empty(t, w.CompletedObjects())
	require.Equal(t, 1, multi.NbObjects())

	// 对象超时后被清理
	multi.Cleanup(now.Add(time.Minute))
	require.Zero(t, multi.NbObjects())
}

func TestReceiverCencGzip(t *testing.T) {
	content := bytes.Repeat([]byte("compress me please "), 500)
	o := oti.NewNoCode(1024, 64)
	s := newSender(o, content, "file:///comp.txt", lct.CencGzip, true)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))
	pump(t, s, multi, now, nil)

	completed := w.CompletedObjects()
	require.Len(t, completed, 1)
	require.True(t, bytes.Equal(content, completed[0].Data))
	require.Empty(t, w.ErrorObjects())
}

func TestReceiverRaptorQ(t *testing.T) {
	content := make([]byte, 40*1024)
	for i := range content {
		content[i] = byte(i * 17)
	}
	o, err := oti.NewRaptorQ(1024, 64, 8, 1, 1)
	require.NoError(t, err)
	s := newSender(o, content, "file:///rq.bin", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))
	pump(t, s, multi, now, nil)

	completed := w.CompletedObjects()
	require.Len(t, completed, 1)
	require.True(t, bytes.Equal(content, completed[0].Data))
}

func TestReceiverParkedPacketsDrainOnFdt(t *testing.T) {
	// OTI 不带内：数据包先到，FDT 后到
	content := []byte("data before fdt")
	o := oti.NewNoCode(1400, 64)
	o.InBandFti = false
	s := newSender(o, content, "file:///late.txt", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)
	endpoint := testEndpoint()

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))

	var fdtPkts [][]byte
	for {
		data := s.Read(now)
		if data == nil {
			break
		}
		pkt, err := alc.ParseAlcPkt(data)
		require.NoError(t, err)
		if pkt.Lct.Toi.Equal(lct.TOI_FDT) {
			fdtPkts = append(fdtPkts, data)
			continue
		}
		// 数据先灌入：停在 Awaiting-OTI 暂存区
		require.NoError(t, multi.Push(&endpoint, data, now))
	}

	require.Empty(t, w.CompletedObjects())
	require.NotEmpty(t, fdtPkts)

	// FDT 到达，暂存排空，对象完成
	for _, data := range fdtPkts {
		require.NoError(t, multi.Push(&endpoint, data, now))
	}

	completed := w.CompletedObjects()
	require.Len(t, completed, 1)
	require.True(t, bytes.Equal(content, completed[0].Data))
}

func TestReceiverCloseSession(t *testing.T) {
	content := []byte("bye")
	o := oti.NewNoCode(1400, 64)
	s := newSender(o, content, "file:///bye.txt", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)
	endpoint := testEndpoint()

	closed := 0
	multi.AddListener(&sessionCounter{closed: &closed})

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))
	pump(t, s, multi, now, nil)
	require.Len(t, w.CompletedObjects(), 1)

	require.NoError(t, multi.Push(&endpoint, s.ReadCloseSession(now), now))
	require.Equal(t, 1, closed)

	// 会话已被驱逐，再次 Cleanup 幂等
	multi.Cleanup(now)
	multi.Cleanup(now)
	require.Equal(t, 1, closed)
}

type sessionCounter struct {
	closed *int
}

func (c *sessionCounter) OnSessionOpen(_ *ReceiverEndpoint)   {}
func (c *sessionCounter) OnSessionClosed(_ *ReceiverEndpoint) { *c.closed++ }

func TestReceiverDuplicatePackets(t *testing.T) {
	content := make([]byte, 10*1024)
	o, err := oti.NewReedSolomonRS28(1024, 16, 4)
	require.NoError(t, err)
	s := newSender(o, content, "file:///dup.bin", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, false)
	endpoint := testEndpoint()

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))

	var pkts [][]byte
	for {
		data := s.Read(now)
		if data == nil {
			break
		}
		pkts = append(pkts, data)
	}

	// 每个包重复推两次
	for _, data := range pkts {
		require.NoError(t, multi.Push(&endpoint, data, now))
		require.NoError(t, multi.Push(&endpoint, data, now))
	}

	completed := w.CompletedObjects()
	require.Len(t, completed, 1)
	require.True(t, bytes.Equal(content, completed[0].Data))
}

func TestReceiverTsiFilter(t *testing.T) {
	content := []byte("filtered")
	o := oti.NewNoCode(1400, 64)
	s := newSender(o, content, "file:///f.txt", lct.CencNull, false)

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, nil, true)
	// 只接收 TSI=2，sender 的 TSI=1
	multi.AddListenTsi(testEndpoint(), 2)

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))
	pump(t, s, multi, now, nil)

	require.Empty(t, w.CompletedObjects())
}

func TestReceiverSessionIdleTimeout(t *testing.T) {
	content := make([]byte, 64*1024)
	o, err := oti.NewReedSolomonRS28(1024, 64, 4)
	require.NoError(t, err)
	s := newSender(o, content, "file:///idle.bin", lct.CencNull, false)

	cfg := DefaultConfig()
	sessionTimeout := 5 * time.Second
	cfg.SessionTimeout = &sessionTimeout

	w := writer.NewObjectWriterBufferBuilder()
	multi := NewMultiReceiver(w, &cfg, false)
	endpoint := testEndpoint()

	now := time.Unix(1718000000, 0)
	require.NoError(t, s.Publish(now))

	// 只灌一个包，会话建立但未完成
	data := s.Read(now)
	require.NotNil(t, data)
	require.NoError(t, multi.Push(&endpoint, data, now))

	multi.Cleanup(now.Add(time.Second))
	require.Len(t, multi.sessions, 1)

	multi.Cleanup(now.Add(10 * time.Second))
	require.Empty(t, multi.sessions)
}
