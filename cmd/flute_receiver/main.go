package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ypo/flute/pkg/receiver"
	"github.com/ypo/flute/pkg/receiver/writer"
	"github.com/ypo/flute/pkg/transport"
)

type AppConfig struct {
	Receiver ReceiverConfigSection `yaml:"receiver"`
}

type ReceiverConfigSection struct {
	Network ReceiverNetworkConfig `yaml:"network"`
	Flute   ReceiverFluteConfig   `yaml:"flute"`
	DestDir string                `yaml:"dest_dir"`
}

type ReceiverNetworkConfig struct {
	ListenAddress string `yaml:"listen_address"` // "224.0.0.1"
	Port          uint16 `yaml:"port"`
}

type ReceiverFluteConfig struct {
	TSI               *uint64 `yaml:"tsi"` // nil = 接收所有 TSI
	SessionTimeoutSec uint32  `yaml:"session_timeout_sec"`
	ObjectTimeoutSec  uint32  `yaml:"object_timeout_sec"`
	MD5Check          *bool   `yaml:"md5_check"`
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

type sessionLogger struct{}

func (sessionLogger) OnSessionOpen(endpoint *receiver.ReceiverEndpoint) {
	log.Info().Msgf("session open %s tsi=%d", endpoint.Endpoint.DestAddr(), endpoint.TSI)
}

func (sessionLogger) OnSessionClosed(endpoint *receiver.ReceiverEndpoint) {
	log.Info().Msgf("session closed %s tsi=%d", endpoint.Endpoint.DestAddr(), endpoint.TSI)
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

	destDir := cfg.Receiver.DestDir
	if destDir == "" {
		destDir = "./received_files"
	}
	w, err := writer.NewObjectWriterFSBuilder(destDir)
	if err != nil {
		log.Fatal().Msgf("fail to create destination dir: %v", err)
	}

	rconf := receiver.DefaultConfig()
	if cfg.Receiver.Flute.SessionTimeoutSec > 0 {
		d := time.Duration(cfg.Receiver.Flute.SessionTimeoutSec) * time.Second
		rconf.SessionTimeout = &d
	}
	if cfg.Receiver.Flute.ObjectTimeoutSec > 0 {
		d := time.Duration(cfg.Receiver.Flute.ObjectTimeoutSec) * time.Second
		rconf.ObjectTimeout = &d
	}
	if cfg.Receiver.Flute.MD5Check != nil {
		rconf.MD5CheckEnabled = *cfg.Receiver.Flute.MD5Check
	}

	endpoint := transport.NewUDPEndpoint(nil, cfg.Receiver.Network.ListenAddress, cfg.Receiver.Network.Port)

	multi := receiver.NewMultiReceiver(w, &rconf, cfg.Receiver.Flute.TSI != nil)
	multi.AddListener(sessionLogger{})
	if cfg.Receiver.Flute.TSI != nil {
		multi.AddListenTsi(endpoint, *cfg.Receiver.Flute.TSI)
	}

	conn, err := listen(&cfg.Receiver.Network)
	if err != nil {
		log.Fatal().Msgf("listen failed: %v", err)
	}
	defer conn.Close()
	log.Info().Msgf("listening on %s", conn.LocalAddr())

	buf := make([]byte, 64*1024)
	lastCleanup := time.Now()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := conn.ReadFrom(buf)
		now := time.Now()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// 周期清理继续
			} else {
				log.Error().Msgf("read error: %v", err)
				return
			}
		} else if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			if err := multi.Push(&endpoint, pkt, now); err != nil {
				log.Warn().Msgf("drop pkt: %v", err)
			}
		}

		if now.Sub(lastCleanup) > time.Second {
			multi.Cleanup(now)
			lastCleanup = now
		}
	}
}

func listen(c *ReceiverNetworkConfig) (net.PacketConn, error) {
	ip := net.ParseIP(c.ListenAddress)
	if ip != nil && ip.IsMulticast() {
		addr := &net.UDPAddr{IP: ip, Port: int(c.Port)}
		return net.ListenMulticastUDP("udp", nil, addr)
	}
	return net.ListenPacket("udp", fmt.Sprintf("%s:%d", c.ListenAddress, c.Port))
}
