package receiver

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/receiver/writer"
	"github.com/ypo/flute/pkg/transport"
)

// ReceiverEndpoint 会话键
type ReceiverEndpoint struct {
	Endpoint transport.UDPEndpoint
	TSI      uint64
}

func (r *ReceiverEndpoint) key() string {
	return tsiKey(&r.Endpoint, r.TSI)
}

// MultiReceiverListener 会话生命周期回调
type MultiReceiverListener interface {
	// OnSessionOpen FLUTE 会话建立时触发
	OnSessionOpen(endpoint *ReceiverEndpoint)
	// OnSessionClosed FLUTE 会话结束时触发
	OnSessionClosed(endpoint *ReceiverEndpoint)
}

// MultiReceiver 多会话 FLUTE 接收端，按 (endpoint, TSI) 解复用。
// 单线程使用；并行摄取需按会话分片，每片一个实例。
type MultiReceiver struct {
	sessions           map[string]*sessionEntry
	tsifilter          *TSIFilter
	writer             writer.ObjectWriterBuilder
	config             *Config
	enableTsiFiltering bool
	listeners          map[uint64]MultiReceiverListener
	listenersID        uint64
}

type sessionEntry struct {
	key      ReceiverEndpoint
	receiver *Receiver
}

// NewMultiReceiver 创建多会话接收端。
// w 负责把对象写到最终目的地；config 为 nil 使用默认配置。
func NewMultiReceiver(w writer.ObjectWriterBuilder, config *Config, enableTsiFiltering bool) *MultiReceiver {
	return &MultiReceiver{
		sessions:           make(map[string]*sessionEntry),
		tsifilter:          NewTSIFilter(),
		writer:             w,
		config:             config,
		enableTsiFiltering: enableTsiFiltering,
		listeners:          make(map[uint64]MultiReceiverListener),
	}
}

// AddListener 注册会话生命周期回调，返回可用于移除的 id
func (m *MultiReceiver) AddListener(l MultiReceiverListener) uint64 {
	id := m.listenersID
	m.listenersID++
	m.listeners[id] = l
	return id
}

func (m *MultiReceiver) RemoveListener(id uint64) {
	delete(m.listeners, id)
}

// NbObjects 所有会话中接收中的对象数
func (m *MultiReceiver) NbObjects() int {
	n := 0
	for _, s := range m.sessions {
		n += s.receiver.NbObjects()
	}
	return n
}

// NbObjectsError 所有会话中失败对象数
func (m *MultiReceiver) NbObjectsError() int {
	n := 0
	for _, s := range m.sessions {
		n += s.receiver.NbObjectsError()
	}
	return n
}

func (m *MultiReceiver) SetTsiFiltering(enable bool) {
	m.enableTsiFiltering = enable
}

// AddListenTsi 接受指定 endpoint + TSI 的会话
func (m *MultiReceiver) AddListenTsi(endpoint transport.UDPEndpoint, tsi uint64) {
	if !m.enableTsiFiltering {
		log.Warn().Msg("TSI filtering is disabled")
	}
	log.Info().Msgf("Listen TSI %d for %s", tsi, endpoint.DestAddr())
	m.tsifilter.Add(endpoint, tsi)
}

func (m *MultiReceiver) RemoveListenTsi(endpoint *transport.UDPEndpoint, tsi uint64) {
	m.tsifilter.Remove(endpoint, tsi)
}

// AddListenAllTsi 接受指定 endpoint 的全部 TSI
func (m *MultiReceiver) AddListenAllTsi(endpoint transport.UDPEndpoint) {
	if !m.enableTsiFiltering {
		log.Warn().Msg("TSI filtering is disabled")
	}
	m.tsifilter.AddEndpointBypass(endpoint)
}

func (m *MultiReceiver) RemoveListenAllTsi(endpoint *transport.UDPEndpoint) {
	m.tsifilter.RemoveEndpointBypass(endpoint)
}

// Push 输入一个 UDP 载荷（一个 ALC 包）。
// 格式错误的包返回错误，调用方记日志后继续即可。
func (m *MultiReceiver) Push(endpoint *transport.UDPEndpoint, pkt []byte, now time.Time) error {
	alcPkt, err := alc.ParseAlcPkt(pkt)
	if err != nil {
		return err
	}

	if m.enableTsiFiltering && !m.tsifilter.IsValid(endpoint, alcPkt.Lct.Tsi) {
		log.Debug().Msgf("skip pkt with tsi %d and endpoint %s", alcPkt.Lct.Tsi, endpoint.DestAddr())
		return nil
	}

	key := ReceiverEndpoint{
		Endpoint: *endpoint,
		TSI:      alcPkt.Lct.Tsi,
	}

	if alcPkt.Lct.CloseSession {
		log.Info().Msg("Close session is set")
		entry, ok := m.sessions[key.key()]
		if !ok {
			log.Warn().Msg("A session that is not allocated is about to be closed, skip the session")
			return nil
		}
		err := entry.receiver.Push(alcPkt, now)
		delete(m.sessions, key.key())
		for _, l := range m.listeners {
			l.OnSessionClosed(&key)
		}
		return err
	}

	return m.getReceiverOrCreate(&key, now).Push(alcPkt, now)
}

// Cleanup 移除过期会话、超时对象与过期 FDT。
// 需要周期性调用以约束内存。幂等。
func (m *MultiReceiver) Cleanup(now time.Time) {
	for k, entry := range m.sessions {
		if entry.receiver.IsExpired(now) {
			delete(m.sessions, k)
			for _, l := range m.listeners {
				l.OnSessionClosed(&entry.key)
			}
		}
	}
	for _, entry := range m.sessions {
		entry.receiver.Cleanup(now)
	}
}

func (m *MultiReceiver) getReceiverOrCreate(key *ReceiverEndpoint, now time.Time) *Receiver {
	entry, ok := m.sessions[key.key()]
	if !ok {
		log.Info().Msgf("Create FLUTE Receiver %s tsi=%d", key.Endpoint.DestAddr(), key.TSI)
		for _, l := range m.listeners {
			l.OnSessionOpen(key)
		}
		entry = &sessionEntry{
			key:      *key,
			receiver: NewReceiver(&key.Endpoint, key.TSI, m.writer, m.config, now),
		}
		m.sessions[key.key()] = entry
	}
	return entry.receiver
}
