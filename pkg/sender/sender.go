package sender

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/profile"
	"github.com/ypo/flute/pkg/transport"
	t "github.com/ypo/flute/pkg/type"
)

// PriorityQueue 一个优先级的配置
type PriorityQueue struct {
	// 在该优先级队列内并行/交错传输的文件个数上限
	// 0 或 1 表示串行；>=2 表示在窗口里多文件交错
	MultiplexFiles uint32
}

const (
	PQHighest uint32 = 0
	PQHigh    uint32 = 1
	PQMedium  uint32 = 2
	PQLow     uint32 = 3
	PQVeryLow uint32 = 4
)

func NewPriorityQueue(multiplex uint32) PriorityQueue {
	return PriorityQueue{MultiplexFiles: multiplex}
}

type Config struct {
	// FDT 生存时长（过期判断使用）
	FDTDuration time.Duration
	// FDT 轮播策略
	FDTCarouselMode CarouselRepeatMode
	// FDT 起始 ID
	FDTStartID uint32
	// FDT 的内容编码
	FDTCenc lct.Cenc
	// FDT 包是否在 LCT/ALC 中携带 SCT (EXT_TIME)
	FDTInbandSCT bool
	// FDT 发布模式
	FDTPublishMode FDTPublishMode

	// 优先级队列配置：key 越小优先级越高
	PriorityQueues map[uint32]PriorityQueue

	// 单文件传输时，互相交错的源块窗口大小
	InterleaveBlocks uint8

	// 发送 Profile
	Profile profile.Profile

	// TOI 最大位数限制
	TOIMaxLength TOIMaxLength
	// TOI 初始值（nil = 随机起点）
	TOIInitialValue *t.Uint128

	// FDT-Instance 的 group 列表
	Groups []string
}

func DefaultConfig() Config {
	return Config{
		FDTDuration:     time.Hour,
		FDTCarouselMode: CarouselRepeatMode{Choice: DelayBetweenTransfers, Interval: time.Second},
		FDTStartID:      1,
		FDTCenc:         lct.CencNull,
		FDTInbandSCT:    true,
		FDTPublishMode:  FullFDT,

		PriorityQueues: map[uint32]PriorityQueue{
			PQHighest: {MultiplexFiles: 3},
		},
		InterleaveBlocks: 4,
		Profile:          profile.RFC6726,
		TOIMaxLength:     ToiMax112,
		TOIInitialValue:  &t.Uint128{High: 0, Low: 1},
	}
}

func (c *Config) SetPriorityQueue(priority uint32, pq PriorityQueue) {
	if c.PriorityQueues == nil {
		c.PriorityQueues = make(map[uint32]PriorityQueue)
	}
	c.PriorityQueues[priority] = pq
}

func (c *Config) RemovePriorityQueue(priority uint32) {
	delete(c.PriorityQueues, priority)
}

type senderSessionList struct {
	index    int
	sessions []*SenderSession
}

// Sender FLUTE 发送端。线程安全：所有导出方法都持锁；
// Read 非阻塞，没有包可发时返回 nil。
type Sender struct {
	mu          sync.Mutex
	fdt         *Fdt
	fdtSession  *SenderSession
	sessions    map[uint32]*senderSessionList
	priorities  []uint32
	observers   *ObserverList
	tsi         uint64
	udpEndpoint transport.UDPEndpoint
}

func NewSender(endpoint transport.UDPEndpoint, tsi uint64, o *oti.Oti, cfg *Config) *Sender {
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}

	observers := NewObserverList()

	fdt := NewFdt(
		tsi,
		cfg.FDTStartID,
		o,
		cfg.FDTCenc,
		cfg.FDTDuration,
		cfg.FDTCarouselMode,
		cfg.FDTInbandSCT,
		observers,
		cfg.TOIMaxLength,
		cfg.TOIInitialValue,
		cfg.Groups,
		cfg.FDTPublishMode,
	)

	fdtSession := NewSenderSession(
		0,
		tsi,
		int(cfg.InterleaveBlocks),
		true, // transfer_fdt_only
		cfg.Profile,
		endpoint,
	)

	// 每个优先级有 MultiplexFiles 个会话槽位
	sessions := make(map[uint32]*senderSessionList, len(cfg.PriorityQueues))
	priorities := make([]uint32, 0, len(cfg.PriorityQueues))
	for prio, pq := range cfg.PriorityQueues {
		m := pq.MultiplexFiles
		if m == 0 {
			m = 1
		}
		list := &senderSessionList{
			sessions: make([]*SenderSession, 0, m),
		}
		for i := uint32(0); i < m; i++ {
			list.sessions = append(list.sessions, NewSenderSession(
				prio,
				tsi,
				int(cfg.InterleaveBlocks),
				false,
				cfg.Profile,
				endpoint,
			))
		}
		sessions[prio] = list
		priorities = append(priorities, prio)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	return &Sender{
		fdt:         fdt,
		fdtSession:  fdtSession,
		sessions:    sessions,
		priorities:  priorities,
		observers:   observers,
		tsi:         tsi,
		udpEndpoint: endpoint,
	}
}

func (s *Sender) Subscribe(sub Subscriber) {
	s.observers.Subscribe(sub)
}

func (s *Sender) Unsubscribe(sub Subscriber) {
	s.observers.Unsubscribe(sub)
}

func (s *Sender) GetUDPEndpoint() *transport.UDPEndpoint {
	return &s.udpEndpoint
}

func (s *Sender) GetTSI() uint64 {
	return s.tsi
}

// AddObject 把对象注册到指定优先级队列，返回分配的 TOI
func (s *Sender) AddObject(priority uint32, obj *ObjectDesc) (t.Uint128, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[priority]; !ok {
		return t.Uint128{}, fmt.Errorf("priority queue %d does not exist", priority)
	}
	toi, err := s.fdt.AddObject(priority, obj)
	if err != nil {
		return t.Uint128{}, err
	}
	return t.StringToUint128(toi), nil
}

// TriggerTransferAt 要求对象在 ts 重新进入传输
func (s *Sender) TriggerTransferAt(toi t.Uint128, ts *time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.TriggerTransferAt(toi.String(), ts)
}

func (s *Sender) IsAdded(toi t.Uint128) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.IsAdded(toi.String())
}

// RemoveObject 移除对象；传输中的对象会以 Close-Object 包收尾
func (s *Sender) RemoveObject(toi t.Uint128) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.RemoveObject(toi.String())
}

func (s *Sender) NbTransfers(toi t.Uint128) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.NbTransfers(toi.String())
}

func (s *Sender) NbObjects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.NbObjects()
}

// Publish 发布新的 FDT 实例
func (s *Sender) Publish(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.Publish(now)
}

// SetComplete 宣告会话不再引入新 TOI
func (s *Sender) SetComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fdt.SetComplete()
}

// ReadCloseSession 生成 Close-Session 包，会话结束时发送
func (s *Sender) ReadCloseSession(_ time.Time) []byte {
	return alc.NewAlcPktCloseSession(t.Uint128{}, s.tsi)
}

func (s *Sender) AllocateToi() *Toi {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.AllocateToi()
}

func (s *Sender) FdtXMLData(now time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.ToXML(now)
}

func (s *Sender) GetObjectsInFDT() map[string]*ObjectDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fdt.GetObjectsInFDT()
}

// Read 产出下一个 ALC 包。FDT 优先；然后按优先级从高到低轮询，
// 高优先级有包可发时低优先级不会出包。
func (s *Sender) Read(now time.Time) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先让 fdtSession 尝试产生 FDT 包
	if data := s.fdtSession.Run(s.fdt, now); data != nil {
		return data
	}

	for _, prio := range s.priorities {
		if data := s.readPriorityQueue(s.fdt, s.sessions[prio], now); data != nil {
			return data
		}
	}

	// 再次尝试 FDT（本轮可能触发了重新发布）
	if data := s.fdtSession.Run(s.fdt, now); data != nil {
		return data
	}

	return nil
}

// readPriorityQueue 在一个优先级内对会话槽位做轮转（文件级交错）
func (s *Sender) readPriorityQueue(fdt *Fdt, list *senderSessionList, now time.Time) []byte {
	if list == nil || len(list.sessions) == 0 {
		return nil
	}

	start := list.index
	for {
		sess := list.sessions[list.index]
		data := sess.Run(fdt, now)

		list.index++
		if list.index == len(list.sessions) {
			list.index = 0
		}

		if data != nil {
			return data
		}

		if list.index == start {
			break
		}
	}
	return nil
}
