package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/rtl-audio-splitter/internal/config"
	"github.com/skypro1111/rtl-audio-splitter/internal/metrics"
	"github.com/skypro1111/rtl-audio-splitter/internal/protocol"
	"github.com/skypro1111/rtl-audio-splitter/internal/splitter"
)

// ModeSetter applies mode changes. It is implemented by *splitter.Splitter.
type ModeSetter interface {
	SetMode(record, monitor splitter.Flag) splitter.Mode
}

// maxDatagramSize bounds a control datagram; only the first byte matters
const maxDatagramSize = 512

const defaultPollInterval = 10 * time.Millisecond

// UDPServer receives mode commands on the control channel
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ControlConfig
	logger  *slog.Logger
	modes   ModeSetter
	metrics *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Commands are applied by a single processor in arrival order
	packetChan chan *incomingPacket

	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	packetsDropped   uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new control server instance
func NewUDPServer(cfg *config.ControlConfig, modes ModeSetter, m *metrics.Metrics, logger *slog.Logger) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		modes:      modes,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, queueSize),
	}
}

// Start begins listening for mode commands
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.config.BindAddress, fmt.Sprint(s.config.UDPPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	s.logger.Info("Control server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Duration("poll_interval", s.config.GetPollInterval()),
	)

	s.wg.Add(2)
	go s.packetProcessor()
	go s.receiveLoop()

	return nil
}

// Run starts the server and blocks until ctx is cancelled
func (s *UDPServer) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop gracefully stops the control server. Queued commands are applied
// before it returns.
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping control server...")

	s.cancel()

	// The receive loop exits within one poll interval
	s.wg.Wait()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	stats := s.GetStatistics()
	s.logger.Info("Control server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("packets_dropped", stats.PacketsDropped),
	)

	return nil
}

// LocalAddr returns the bound address, or nil before Start
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// receiveLoop is the main datagram receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	// The processor drains what is queued and exits
	defer close(s.packetChan)

	buffer := make([]byte, maxDatagramSize)
	poll := s.config.GetPollInterval()
	if poll <= 0 {
		poll = defaultPollInterval
	}

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Poll so cancellation is observed within one interval
		if err := s.conn.SetReadDeadline(time.Now().Add(poll)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			return
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
		default:
			s.mu.Lock()
			s.packetsDropped++
			s.mu.Unlock()

			s.logger.Warn("Control queue full, dropping command",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor applies queued commands one at a time
func (s *UDPServer) packetProcessor() {
	defer s.wg.Done()

	for packet := range s.packetChan {
		s.handlePacket(packet)
	}
}

// handlePacket decodes a single datagram and applies the mode
func (s *UDPServer) handlePacket(packet *incomingPacket) {
	cmd, err := protocol.ParseModeCommand(packet.data)
	s.metrics.RecordControlPacket(err == nil)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()

		s.logger.Warn("Failed to parse mode command",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	mode := s.modes.SetMode(splitter.FlagOf(cmd.Record), splitter.FlagOf(cmd.Monitor))

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()

	s.logger.Info("Mode command applied",
		slog.String("remote_addr", packet.remoteAddr.String()),
		slog.String("command", fmt.Sprintf("0x%02x", cmd.Byte())),
		slog.Bool("recording", mode.Recording),
		slog.Bool("monitoring", mode.Monitoring),
		slog.Duration("queue_delay", time.Since(packet.timestamp)),
	)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		PacketsDropped:   s.packetsDropped,
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
}

// ServerStatistics represents control channel counters
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
