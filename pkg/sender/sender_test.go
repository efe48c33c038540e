package sender

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/transport"
	t "github.com/ypo/flute/pkg/type"
)

func createObj(length int) *ObjectDesc {
	return createObjNamed(length, "file:///hello")
}

func createObjNamed(length int, location string) *ObjectDesc {
	buffer := make([]byte, length)
	for i := range buffer {
		buffer[i] = byte(i)
	}
	u, _ := url.Parse(location)
	obj, err := CreateFromBuffer(
		buffer,
		"application/octet-stream",
		u,
		1,
		nil,
		nil,
		nil,
		nil,
		lct.CencNull,
		false,
		nil,
		true,
	)
	if err != nil {
		panic(err)
	}
	return obj
}

func testEndpoint() transport.UDPEndpoint {
	return transport.NewUDPEndpoint(nil, "224.0.0.1", 1234)
}

// drain 读空 sender，返回 (toi -> 数据包数, 总包数)
func drain(tt *testing.T, s *Sender, now time.Time) (map[string]int, int) {
	perToi := make(map[string]int)
	total := 0
	for {
		data := s.Read(now)
		if data == nil {
			break
		}
		pkt, err := alc.ParseAlcPkt(data)
		require.NoError(tt, err)
		perToi[pkt.Lct.Toi.String()]++
		total++
	}
	return perToi, total
}

func TestSenderBasic(tt *testing.T) {
	o := oti.NewOti()
	s := NewSender(testEndpoint(), 1, o, nil)

	nbPkt := int(o.EncodingSymbolLength) * 3

	_, err := s.AddObject(PQHighest, createObj(nbPkt))
	require.NoError(tt, err)

	now := time.Unix(1718000000, 0)
	require.NoError(tt, s.Publish(now))

	_, total := drain(tt, s, now)
	require.NotZero(tt, total)
}

func TestSenderFileTooLarge(tt *testing.T) {
	o := oti.NewNoCode(4, 2)
	s := NewSender(testEndpoint(), 1, o, nil)

	obj := createObj(4)
	obj.TransferLength = o.MaxTransferLength() + 1

	_, err := s.AddObject(PQHighest, obj)
	require.Error(tt, err)
}

func TestSenderRemoveObject(tt *testing.T) {
	o := oti.NewOti()
	s := NewSender(testEndpoint(), 1, o, nil)

	require.Zero(tt, s.NbObjects())

	toi, err := s.AddObject(PQHighest, createObj(1024))
	require.NoError(tt, err)
	require.Equal(tt, 1, s.NbObjects())

	require.True(tt, s.RemoveObject(toi))
	require.Zero(tt, s.NbObjects())
}

func TestSenderComplete(tt *testing.T) {
	o := oti.NewOti()
	s := NewSender(testEndpoint(), 1, o, nil)

	_, err := s.AddObject(PQHighest, createObj(1024))
	require.NoError(tt, err)

	s.SetComplete()
	_, err = s.AddObject(PQHighest, createObj(1024))
	require.Error(tt, err)
}

func TestSenderTinyFileTwoPackets(tt *testing.T) {
	// 1 FDT 包 + 1 数据包
	o := oti.NewNoCode(1400, 64)
	s := NewSender(testEndpoint(), 1, o, nil)

	_, err := s.AddObject(PQHighest, createObjNamed(11, "file:///hello.txt"))
	require.NoError(tt, err)

	now := time.Unix(1718000000, 0)
	require.NoError(tt, s.Publish(now))

	perToi, total := drain(tt, s, now)
	require.Equal(tt, 2, total)
	require.Equal(tt, 1, perToi[lct.TOI_FDT.String()])
}

func TestSenderPriorityPreemption(tt *testing.T) {
	o := oti.NewNoCode(16, 4)
	cfg := DefaultConfig()
	cfg.SetPriorityQueue(PQLow, NewPriorityQueue(1))
	s := NewSender(testEndpoint(), 1, o, &cfg)

	lowToi, err := s.AddObject(PQLow, createObj(16*20))
	require.NoError(tt, err)
	highToi, err := s.AddObject(PQHighest, createObj(16*20))
	require.NoError(tt, err)

	now := time.Unix(1718000000, 0)
	require.NoError(tt, s.Publish(now))

	var order []string
	for {
		data := s.Read(now)
		if data == nil {
			break
		}
		pkt, err := alc.ParseAlcPkt(data)
		require.NoError(tt, err)
		if pkt.Lct.Toi.Equal(lct.TOI_FDT) {
			continue
		}
		order = append(order, pkt.Lct.Toi.String())
	}

	require.NotEmpty(tt, order)
	// HIGHEST 的包全部在 LOW 之前
	seenLow := false
	for _, toi := range order {
		if toi == lowToi.String() {
			seenLow = true
		}
		if toi == highToi.String() {
			require.False(tt, seenLow, "high priority pkt emitted after low priority started")
		}
	}
	require.True(tt, seenLow)
}

func TestSenderInterleaveTwoFiles(tt *testing.T) {
	o := oti.NewNoCode(16, 4)
	cfg := DefaultConfig()
	cfg.SetPriorityQueue(PQHighest, NewPriorityQueue(2))
	s := NewSender(testEndpoint(), 1, o, &cfg)

	toiA, err := s.AddObject(PQHighest, createObjNamed(16*40, "file:///a"))
	require.NoError(tt, err)
	toiB, err := s.AddObject(PQHighest, createObjNamed(16*40, "file:///b"))
	require.NoError(tt, err)

	now := time.Unix(1718000000, 0)
	require.NoError(tt, s.Publish(now))

	counts := map[string]int{}
	for {
		data := s.Read(now)
		if data == nil {
			break
		}
		pkt, err := alc.ParseAlcPkt(data)
		require.NoError(tt, err)
		if pkt.Lct.Toi.Equal(lct.TOI_FDT) {
			continue
		}
		counts[pkt.Lct.Toi.String()]++
		// 文件级交错：计数差不超过 1
		diff := counts[toiA.String()] - counts[toiB.String()]
		if diff < 0 {
			diff = -diff
		}
		require.LessOrEqual(tt, diff, 1)
	}
	require.Equal(tt, 40, counts[toiA.String()])
	require.Equal(tt, 40, counts[toiB.String()])
}

func TestSenderCarouselIntervalBetweenStartTimes(tt *testing.T) {
	o := oti.NewNoCode(16, 4)
	s := NewSender(testEndpoint(), 1, o, nil)

	obj := createObj(16 * 2)
	obj.CarouselMode = &CarouselRepeatMode{
		Choice:   IntervalBetweenStartTimes,
		Interval: time.Second,
	}

	toi, err := s.AddObject(PQHighest, obj)
	require.NoError(tt, err)

	start := time.Unix(1718000000, 0)
	require.NoError(tt, s.Publish(start))

	countData := func(perToi map[string]int) int { return perToi[toi.String()] }

	// 第一轮
	perToi, _ := drain(tt, s, start)
	require.Equal(tt, 2, countData(perToi))

	// 间隔未到：没有数据包
	perToi, _ = drain(tt, s, start.Add(300*time.Millisecond))
	require.Zero(tt, countData(perToi))

	// 间隔已到：重新开始
	perToi, _ = drain(tt, s, start.Add(1100*time.Millisecond))
	require.Equal(tt, 2, countData(perToi))
}

func TestSenderTargetAcquisitionPacing(tt *testing.T) {
	o := oti.NewNoCode(16, 4)
	s := NewSender(testEndpoint(), 1, o, nil)

	obj := createObj(16 * 10) // 10 个包
	obj.TargetAcquisition = &TargetAcquisition{
		Choice:   WithinDuration,
		Duration: time.Second, // 节拍 100ms
	}

	toi, err := s.AddObject(PQHighest, obj)
	require.NoError(tt, err)

	start := time.Unix(1718000000, 0)
	require.NoError(tt, s.Publish(start))

	perToi, _ := drain(tt, s, start)
	require.Equal(tt, 1, perToi[toi.String()], "only one data pkt per tick")

	perToi, _ = drain(tt, s, start.Add(150*time.Millisecond))
	require.Equal(tt, 1, perToi[toi.String()])

	// 一秒后全部可发
	perToi, _ = drain(tt, s, start.Add(2*time.Second))
	require.Equal(tt, 8, perToi[toi.String()])
}

func TestSenderCloseSessionPkt(tt *testing.T) {
	o := oti.NewOti()
	s := NewSender(testEndpoint(), 7, o, nil)

	data := s.ReadCloseSession(time.Unix(1718000000, 0))
	pkt, err := alc.ParseAlcPkt(data)
	require.NoError(tt, err)
	require.True(tt, pkt.Lct.CloseSession)
	require.Equal(tt, uint64(7), pkt.Lct.Tsi)
}

func TestToiAllocatorSequential(tt *testing.T) {
	initial := t.Uint128{High: 0, Low: 1}
	a := NewToiAllocator(ToiMax112, &initial)

	toi1 := a.Allocate()
	toi2 := a.Allocate()
	require.True(tt, toi1.Get().Equal(t.FromUint64(1)))
	require.True(tt, toi2.Get().Equal(t.FromUint64(2)))

	toi1.Release()
	toi2.Release()
}

func TestToiAllocatorSkipsFdtToi(tt *testing.T) {
	// 16 位回绕：跳过 TOI=0
	initial := t.Uint128{High: 0, Low: 0xFFFF}
	a := NewToiAllocator(ToiMax16, &initial)

	toi1 := a.Allocate()
	require.True(tt, toi1.Get().Equal(t.FromUint64(0xFFFF)))
	toi2 := a.Allocate()
	require.True(tt, toi2.Get().Equal(t.FromUint64(1)), "wrapped TOI must skip 0, got %s", toi2.Get())
}
