package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/skypro1111/rtl-audio-splitter/internal/config"
	"github.com/skypro1111/rtl-audio-splitter/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1", "Splitter control address")
	port := flag.Int("port", 12345, "Splitter control UDP port")
	configPath := flag.String("config", "", "Take the control port from this configuration file")
	record := flag.Bool("record", false, "Request recording")
	monitor := flag.Bool("monitor", false, "Request monitoring")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			logger.Error("Failed to load configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}
		*port = cfg.Control.UDPPort
	}

	cmd := &protocol.ModeCommand{Record: *record, Monitor: *monitor}
	target := net.JoinHostPort(*addr, strconv.Itoa(*port))

	if err := send(target, cmd); err != nil {
		logger.Error("Failed to send mode command",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Mode command sent",
		slog.String("target", target),
		slog.Bool("record", cmd.Record),
		slog.Bool("monitor", cmd.Monitor),
	)
}

func send(target string, cmd *protocol.ModeCommand) error {
	conn, err := net.DialTimeout("udp", target, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", target, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{cmd.Byte()}); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}
