package sender

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ypo/flute/pkg/object"
)

// BlockEncoder 把一个文件变成编码符号流。
// 同一时刻只保留 winSize 个活动块（滑动窗口），流式文件的内存占用与文件大小无关。
type BlockEncoder struct {
	file *FileDesc

	currContentOffset uint64
	currSBN           uint32

	aLarge   uint64
	aSmall   uint64
	nbALarge uint64
	nbBlocks uint64
	blocks   []*Block // 活动窗口中的块
	winSize  int      // block interleave windows
	winIndex int
	readEnd  bool

	sourceSizeTransferred int
	nbPktSent             int

	stopped        bool
	closableObject bool

	mu sync.Mutex
}

func NewBlockEncoder(file *FileDesc, blockInterleaveWindows int, closableObject bool) (*BlockEncoder, error) {
	if blockInterleaveWindows < 1 {
		blockInterleaveWindows = 1
	}

	// 数据源为 Stream 时 seek 回起点
	switch file.Object.Source.Choice {
	case DataBuffer:
		// no-op
	case DataStream:
		file.Object.Source.streamMu.Lock()
		_, err := file.Object.Source.stream.Seek(0, io.SeekStart)
		file.Object.Source.streamMu.Unlock()
		if err != nil {
			return nil, errors.New("seek stream failed: " + err.Error())
		}
	default:
		return nil, errors.New("unknown data source")
	}

	be := &BlockEncoder{
		file:           file,
		blocks:         make([]*Block, 0, blockInterleaveWindows),
		winSize:        blockInterleaveWindows,
		closableObject: closableObject,
	}

	be.blockPartitioning()
	return be, nil
}

func (b *BlockEncoder) blockPartitioning() {
	oti := &b.file.Oti
	b.aLarge, b.aSmall, b.nbALarge, b.nbBlocks = object.BlockPartitioning(
		uint64(oti.MaximumSourceBlockLength),
		b.file.Object.TransferLength,
		uint64(oti.EncodingSymbolLength),
	)
}

// Read 产出下一个符号包；nil 表示该文件本轮已发完
func (b *BlockEncoder) Read(forceCloseObject bool) (*object.Pkt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return nil, nil
	}
	if forceCloseObject {
		b.stopped = true
	}

	for {
		if err := b.readWindow(); err != nil {
			log.Error().Msgf("block encoder: readWindow failed: %v", err)
			b.readEnd = true
		}

		if len(b.blocks) == 0 {
			if b.nbPktSent == 0 {
				// 空文件：发送带 close_object 的空包
				log.Debug().Msg("Empty file ? Send a pkt containing close-object flag")
				b.nbPktSent++
				return &object.Pkt{
					Payload:           nil,
					TransferLength:    b.file.Object.TransferLength,
					Esi:               0,
					Sbn:               0,
					Toi:               b.file.TOI,
					FdtID:             b.file.FdtID,
					Cenc:              b.file.Object.Cenc,
					InbandCenc:        b.file.Object.InbandCenc,
					CloseObject:       true,
					SourceBlockLength: 0,
					SenderCurrentTime: b.file.SenderCurrentTime,
				}, nil
			}
			// 窗口已空：结束
			return nil, nil
		}

		if b.winIndex >= len(b.blocks) {
			b.winIndex = 0
		}

		blk := b.blocks[b.winIndex]
		sym, isLastSymbol := blk.Read()
		if sym == nil {
			// 该块已空，从窗口移除；保持 winIndex 指向当前位置
			b.blocks = append(b.blocks[:b.winIndex], b.blocks[b.winIndex+1:]...)
			continue
		}

		b.winIndex++

		if sym.IsSourceSymbol {
			b.sourceSizeTransferred += len(sym.Symbols)
		}
		b.nbPktSent++

		isLastPacket := (b.sourceSizeTransferred >= int(b.file.Object.TransferLength)) &&
			isLastSymbol && len(b.blocks) == 1 && b.readEnd

		return &object.Pkt{
			Payload:           append([]byte(nil), sym.Symbols...),
			TransferLength:    b.file.Object.TransferLength,
			Esi:               sym.Esi,
			Sbn:               sym.Sbn,
			Toi:               b.file.TOI,
			FdtID:             b.file.FdtID,
			Cenc:              b.file.Object.Cenc,
			InbandCenc:        b.file.Object.InbandCenc,
			CloseObject:       forceCloseObject || (b.closableObject && isLastPacket),
			SourceBlockLength: uint32(blk.NbSourceSymbols),
			SenderCurrentTime: b.file.SenderCurrentTime,
		}, nil
	}
}

// readWindow 补满活动窗口
func (b *BlockEncoder) readWindow() error {
	for !b.readEnd && len(b.blocks) < b.winSize {
		if err := b.readBlockOnce(); err != nil {
			b.readEnd = true
			return err
		}
	}
	return nil
}

func (b *BlockEncoder) readBlockOnce() error {
	switch b.file.Object.Source.Choice {
	case DataBuffer:
		return b.readBlockBuffer()
	case DataStream:
		return b.readBlockStream()
	default:
		return errors.New("unknown data source")
	}
}

func (b *BlockEncoder) readBlockBuffer() error {
	content := b.file.Object.Source.buffer

	oti := &b.file.Oti
	blockLen := b.aSmall
	if uint64(b.currSBN) < b.nbALarge {
		blockLen = b.aLarge
	}

	offsetStart := int(b.currContentOffset)
	offsetEnd := offsetStart + int(blockLen*uint64(oti.EncodingSymbolLength))
	if offsetEnd > len(content) {
		offsetEnd = len(content)
	}
	if offsetStart < 0 || offsetStart > len(content) {
		return errors.New("buffer offset out of range")
	}

	blk, err := NewBlockFromBuffer(b.currSBN, content[offsetStart:offsetEnd], blockLen, oti)
	if err != nil {
		return err
	}
	b.blocks = append(b.blocks, blk)
	b.currSBN++
	b.readEnd = offsetEnd == len(content)
	b.currContentOffset = uint64(offsetEnd)
	return nil
}

func (b *BlockEncoder) readBlockStream() error {
	oti := &b.file.Oti
	blockLen := b.aSmall
	if uint64(b.currSBN) < b.nbALarge {
		blockLen = b.aLarge
	}

	buf := make([]byte, int(blockLen)*int(oti.EncodingSymbolLength))

	// 串行读取底层流，期间持锁
	b.file.Object.Source.streamMu.Lock()
	n, err := io.ReadFull(b.file.Object.Source.stream, buf)
	b.file.Object.Source.streamMu.Unlock()

	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			b.readEnd = true
			return err
		}
	}
	if n == 0 {
		b.readEnd = true
		return nil
	}
	if n < len(buf) {
		b.readEnd = true
	}
	buf = buf[:n]

	blk, blkErr := NewBlockFromBuffer(b.currSBN, buf, blockLen, oti)
	if blkErr != nil {
		return blkErr
	}
	b.blocks = append(b.blocks, blk)
	b.currSBN++
	b.currContentOffset += uint64(n)
	if b.currContentOffset >= b.file.Object.TransferLength {
		b.readEnd = true
	}
	return nil
}
