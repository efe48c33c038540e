package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ypo/flute/pkg/lct"
	"github.com/ypo/flute/pkg/oti"
	"github.com/ypo/flute/pkg/sender"
	"github.com/ypo/flute/pkg/transport"
)

type AppConfig struct {
	Sender SenderConfigSection `yaml:"sender"`
}

type SenderConfigSection struct {
	Network     SenderNetworkConfig `yaml:"network"`
	Fec         SenderFecConfig     `yaml:"fec"`
	Flute       SenderFluteConfig   `yaml:"flute"`
	Files       []FileConfig        `yaml:"files"`
	MaxRateKbps uint32              `yaml:"max_rate_kbps"` // 0 = 不限速
}

type SenderNetworkConfig struct {
	Destination string `yaml:"destination"`  // "224.0.0.1:3400"
	BindAddress string `yaml:"bind_address"` // "0.0.0.0"
	BindPort    uint16 `yaml:"bind_port"`    // 0 = 任意
}

type SenderFecConfig struct {
	Type                     string `yaml:"type"` // no_code | reed_solomon_gf28 | reed_solomon_gf28_under_specified | raptorq
	EncodingSymbolLength     uint16 `yaml:"encoding_symbol_length"`
	MaxNumberOfParitySymbols uint32 `yaml:"max_number_of_parity_symbols"`
	MaximumSourceBlockLength uint32 `yaml:"maximum_source_block_length"`
	SymbolAlignment          uint8  `yaml:"symbol_alignment"`
	SubBlocksLength          uint16 `yaml:"sub_blocks_length"`
}

type SenderFluteConfig struct {
	TSI              uint64 `yaml:"tsi"`
	InterleaveBlocks uint8  `yaml:"interleave_blocks"`
}

type FileConfig struct {
	Path        string `yaml:"path"`
	ContentType string `yaml:"content_type"`
	Priority    uint32 `yaml:"priority"`
}

func loadConfig(path string) (*AppConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &cfg, nil
}

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "path to YAML config")
	verbose := pflag.BoolP("verbose", "v", false, "debug logging")
	pflag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Msgf("failed to load config: %v", err)
	}

	endpoint := transport.NewUDPEndpoint(nil, cfg.Sender.Network.BindAddress, cfg.Sender.Network.BindPort)

	udpConn, err := net.ListenPacket("udp", endpoint.BindAddr())
	if err != nil {
		log.Fatal().Msgf("bind udp failed: %v", err)
	}
	defer udpConn.Close()

	raddr, err := net.ResolveUDPAddr("udp", cfg.Sender.Network.Destination)
	if err != nil {
		log.Fatal().Msgf("resolve dest failed: %v", err)
	}
	log.Info().Msgf("destination: %s", raddr.String())

	otiConf, err := buildOtiFromConfig(&cfg.Sender.Fec)
	if err != nil {
		log.Fatal().Msgf("invalid FEC/OTI config: %v", err)
	}
	log.Info().Msgf("FEC: %s, E=%d B=%d parity=%d",
		otiConf.FecEncodingID, otiConf.EncodingSymbolLength,
		otiConf.MaximumSourceBlockLength, otiConf.MaxNumberOfParitySymbols)

	sconf := sender.DefaultConfig()
	if cfg.Sender.Flute.InterleaveBlocks > 0 {
		sconf.InterleaveBlocks = cfg.Sender.Flute.InterleaveBlocks
	}
	for _, f := range cfg.Sender.Files {
		sconf.SetPriorityQueue(f.Priority, sender.NewPriorityQueue(3))
	}

	s := sender.NewSender(endpoint, cfg.Sender.Flute.TSI, otiConf, &sconf)

	for _, f := range cfg.Sender.Files {
		if st, err := os.Stat(f.Path); err != nil || st.IsDir() {
			log.Error().Msgf("file not found: %s", f.Path)
			continue
		}
		log.Info().Msgf("add file: %s", f.Path)

		obj, err := sender.CreateFromFile(
			filepath.Clean(f.Path),
			nil,
			f.ContentType,
			false, // 流式读取
			1,
			nil, nil, nil, nil,
			lct.CencNull,
			false,
			nil,
			true, // md5
		)
		if err != nil {
			log.Error().Msgf("create object from file failed: %v", err)
			continue
		}
		if _, err := s.AddObject(f.Priority, obj); err != nil {
			log.Error().Msgf("add object failed: %v", err)
			continue
		}
	}

	if err := s.Publish(time.Now()); err != nil {
		log.Fatal().Msgf("publish FDT failed: %v", err)
	}

	runSendLoop(udpConn, raddr, s, cfg)
}

func runSendLoop(conn net.PacketConn, raddr net.Addr, s *sender.Sender, cfg *AppConfig) {
	start := time.Now()
	var totalBytes uint64
	var pkts uint64

	bytesPerSec := 0.0
	if cfg.Sender.MaxRateKbps > 0 {
		bytesPerSec = float64(cfg.Sender.MaxRateKbps) * 1000.0 / 8.0
	}

	nextSendAt := time.Now()

	for {
		pktb := s.Read(time.Now())
		if pktb == nil {
			break
		}

		// kbps 限速：逐包节拍
		if bytesPerSec > 0 {
			interval := time.Duration(float64(len(pktb)) / bytesPerSec * float64(time.Second))
			now := time.Now()
			if now.Before(nextSendAt) {
				time.Sleep(nextSendAt.Sub(now))
			}
			nextSendAt = nextSendAt.Add(interval)

			// 漂移校准
			if drift := time.Since(nextSendAt); drift > 200*time.Millisecond {
				nextSendAt = time.Now().Add(interval)
			}
		}

		n, err := conn.WriteTo(pktb, raddr)
		if err != nil {
			log.Error().Msgf("send error: %v", err)
			continue
		}

		totalBytes += uint64(n)
		pkts++

		if pkts%1000 == 0 {
			elapsed := time.Since(start).Seconds()
			if elapsed > 0 {
				avgMbps := float64(totalBytes) * 8.0 / elapsed / 1_000_000.0
				log.Info().Msgf("progress: %d pkts, %d KB, avg %.2f Mbps", pkts, totalBytes/1024, avgMbps)
			}
		}
	}

	// 收尾：Close-Session
	if pktb := s.ReadCloseSession(time.Now()); pktb != nil {
		_, _ = conn.WriteTo(pktb, raddr)
	}

	elapsed := time.Since(start)
	log.Info().Msgf("transfer completed: %d pkts, %.2f MB in %.2fs",
		pkts, float64(totalBytes)/(1024*1024), elapsed.Seconds())
}

func buildOtiFromConfig(c *SenderFecConfig) (*oti.Oti, error) {
	switch c.Type {
	case "", "no_code":
		return oti.NewNoCode(c.EncodingSymbolLength, c.MaximumSourceBlockLength), nil
	case "reed_solomon_gf28":
		return oti.NewReedSolomonRS28(c.EncodingSymbolLength, uint8(c.MaximumSourceBlockLength), uint8(c.MaxNumberOfParitySymbols))
	case "reed_solomon_gf28_under_specified":
		return oti.NewReedSolomonRS28UnderSpecified(c.EncodingSymbolLength, uint16(c.MaximumSourceBlockLength), uint16(c.MaxNumberOfParitySymbols))
	case "raptorq":
		al := c.SymbolAlignment
		if al == 0 {
			al = 1
		}
		return oti.NewRaptorQ(c.EncodingSymbolLength, uint16(c.MaximumSourceBlockLength), c.MaxNumberOfParitySymbols, c.SubBlocksLength, al)
	default:
		return nil, fmt.Errorf("unsupported FEC type: %s", c.Type)
	}
}
