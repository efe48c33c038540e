package sender

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/alc"
	"github.com/ypo/flute/pkg/profile"
	"github.com/ypo/flute/pkg/transport"
	t "github.com/ypo/flute/pkg/type"
)

// SenderSession 一个发送槽位：同一时刻承载一个文件的编码器
type SenderSession struct {
	Priority         uint32
	Endpoint         transport.UDPEndpoint
	TSI              uint64
	File             *FileDesc
	Encoder          *BlockEncoder
	InterleaveBlocks int
	TransferFdtOnly  bool
	Profile          profile.Profile
}

func NewSenderSession(priority uint32, tsi uint64, interleaveBlocks int, transferFdtOnly bool, prof profile.Profile, endpoint transport.UDPEndpoint) *SenderSession {
	return &SenderSession{
		Priority:         priority,
		Endpoint:         endpoint,
		TSI:              tsi,
		InterleaveBlocks: interleaveBlocks,
		TransferFdtOnly:  transferFdtOnly,
		Profile:          prof,
	}
}

// Run 产出该槽位的下一个 ALC 包，没有可发的返回 nil
func (s *SenderSession) Run(fdt *Fdt, now time.Time) []byte {
	for {
		// 1) 若 encoder 为空，尝试获取新文件/新编码器
		if s.Encoder == nil {
			s.getNext(fdt, now)
			if s.Encoder == nil || s.File == nil {
				return nil
			}
		}

		// 2) 非 FDT 专用会话：若需要发新的 FDT，先让位
		if !s.TransferFdtOnly && fdt.NeedTransferFDT() {
			return nil
		}

		if s.File == nil || s.Encoder == nil {
			return nil
		}

		encoder := s.Encoder
		file := s.File

		// 文件已从 FDT 移除且允许中断，则立即停止
		mustStopTransfer := !s.TransferFdtOnly &&
			file.CanTransferBeStopped() &&
			!fdt.IsAdded(file.TOI.String())

		if mustStopTransfer {
			log.Debug().Msgf("File has already been transferred and removed from the FDT, stop transfer %s",
				file.Object.ContentLocation)
		}

		// target acquisition 节拍未到，跳过本 tick
		if ts, ok := file.NextTransferTimestamp(); ok && ts.After(now) {
			return nil
		}

		// 4) 读一个符号包
		pkt, err := encoder.Read(mustStopTransfer)
		if err != nil || pkt == nil {
			s.releaseFile(fdt, now)
			continue
		}

		// 5) 推进下一次发送时间戳
		file.IncNextTransferTimestamp()

		// 6) 封装为 ALC/LCT
		data, err := alc.NewAlcPkt(&file.Oti, t.Uint128{}, s.TSI, pkt, s.Profile, now)
		if err != nil {
			log.Error().Msgf("Fail to build ALC pkt: %v", err)
			s.releaseFile(fdt, now)
			continue
		}
		return data
	}
}

// getNext 拉取下一个 FileDesc 并构建 BlockEncoder
func (s *SenderSession) getNext(fdt *Fdt, now time.Time) {
	s.Encoder = nil
	s.File = nil

	if s.TransferFdtOnly {
		s.File = fdt.GetNextFdtTransfer(now)
	} else {
		s.File = fdt.GetNextFileTransfer(s.Priority, now)
	}

	if s.File == nil {
		return
	}

	encoder, err := NewBlockEncoder(s.File, s.InterleaveBlocks, s.File.IsLastTransfer())
	if err != nil {
		log.Error().Msgf("Fail to open Block Encoder: %v", err)
		s.releaseFile(fdt, now)
		return
	}
	s.Encoder = encoder
}

// releaseFile 释放当前 File
func (s *SenderSession) releaseFile(fdt *Fdt, now time.Time) {
	if s.File != nil {
		fdt.TransferDone(s.File, now)
	}
	s.File = nil
	s.Encoder = nil
}
