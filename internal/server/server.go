// Package server owns socket I/O, session lifecycle, and the tick loop that
// drives every session's reliability-layer maintenance. It is the only
// package that holds session state as a collection: internal/session never
// references a Server back.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/ventosilenzioso/raknetd/internal/config"
	"github.com/ventosilenzioso/raknetd/internal/disconnect"
	"github.com/ventosilenzioso/raknetd/internal/metrics"
	"github.com/ventosilenzioso/raknetd/internal/offline"
	"github.com/ventosilenzioso/raknetd/internal/session"
	"github.com/ventosilenzioso/raknetd/internal/wire"
	"github.com/ventosilenzioso/raknetd/pkg/raknetapi"
)

const (
	readBufferSize      = 65536
	maxSplitPartCount   = 128
	maxConcurrentSplits = 4
	windowSize          = 512
)

// Server binds a UDP socket and drives every session on it from a single
// goroutine: no per-packet goroutines. mu guards the session maps and is
// taken around every access to them.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	clock    clockwork.Clock
	listener raknetapi.Listener
	metrics  *metrics.Collectors
	offline  *offline.Handler

	tickInterval  time.Duration
	blockDuration time.Duration
	statsInterval time.Duration
	lastStatsAt   time.Time

	conn *net.UDPConn

	mu            sync.Mutex
	sessions      map[uint64]*session.Session
	bySessionAddr map[netip.AddrPort]uint64
	nextSessionID uint64

	blocked      *blockList
	packetCounts map[netip.Addr]int

	sentBytes, receivedBytes uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Server. listener and metricsCollectors may be nil (a
// NopListener and disabled metrics are substituted).
func New(cfg config.Config, listener raknetapi.Listener, metricsCollectors *metrics.Collectors, log *slog.Logger, clock clockwork.Clock) (*Server, error) {
	if listener == nil {
		listener = raknetapi.NopListener{}
	}
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	blockDuration, err := time.ParseDuration(cfg.IPBlockDuration)
	if err != nil {
		return nil, fmt.Errorf("server: invalid ip_block_duration %q: %w", cfg.IPBlockDuration, err)
	}
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("server: tick_rate_hz must be positive")
	}

	acceptor := offline.NewSimpleProtocolAcceptor(cfg.ProtocolVersion)
	return &Server{
		cfg:           cfg,
		log:           log,
		clock:         clock,
		listener:      listener,
		metrics:       metricsCollectors,
		offline:       offline.NewHandler(acceptor, cfg.ServerGUID, log),
		tickInterval:  time.Second / time.Duration(cfg.TickRate),
		blockDuration: blockDuration,
		statsInterval: time.Second,
		lastStatsAt:   clock.Now(),
		sessions:      make(map[uint64]*session.Session),
		bySessionAddr: make(map[netip.AddrPort]uint64),
		blocked:       newBlockList(blockDuration),
		packetCounts:  make(map[netip.Addr]int),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// bind opens the UDP socket, retrying transient failures with backoff. A
// fixed listen address either works or it never will, but a restart racing
// the old process releasing the port is common enough to be worth a few
// retries rather than failing immediately.
func (s *Server) bind() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.BindPort))
	if err != nil {
		return nil, fmt.Errorf("server: resolving bind address: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second

	var conn *net.UDPConn
	operation := func() error {
		c, err := net.ListenUDP("udp", addr)
		if err != nil {
			s.log.Warn("bind failed, retrying", slog.String("error", err.Error()))
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, fmt.Errorf("server: binding %s: %w", addr, err)
	}
	return conn, nil
}

// Run binds the socket and blocks, servicing packets and ticks until Stop
// is called. It is the single goroutine that ever touches s.conn for I/O.
func (s *Server) Run() error {
	defer close(s.doneCh)
	conn, err := s.bind()
	if err != nil {
		return err
	}
	s.conn = conn
	defer conn.Close()

	s.log.Info("listening", slog.String("address", conn.LocalAddr().String()))

	buf := make([]byte, readBufferSize)
	lastTick := s.clock.Now()

	for {
		select {
		case <-s.stopCh:
			s.drainForShutdown(buf)
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.tickInterval))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				select {
				case <-s.stopCh:
				default:
					s.log.Warn("read error", slog.String("error", err.Error()))
				}
			}
		} else {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.handlePacket(addr.AddrPort(), data)
		}

		if now := s.clock.Now(); now.Sub(lastTick) >= s.tickInterval {
			s.tick(now)
			lastTick = now
		}
	}
}

// Stop asks the run loop to exit. The run goroutine performs the graceful
// drain itself before returning, so sessions are never touched from two
// goroutines at once.
func (s *Server) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.blocked.stop()
}

// drainForShutdown initiates a graceful disconnect on every session, then
// keeps servicing the socket and ticking so disconnection notifications can
// be flushed and acknowledged, up to a hard deadline. Survivors are forced.
func (s *Server) drainForShutdown(buf []byte) {
	for _, sess := range s.snapshotSessions() {
		s.applySessionEvents(sess, sess.InitiateDisconnect(disconnect.ServerShutdown))
	}

	deadline := s.clock.Now().Add(session.GracefulDisconnectTimeout)
	for s.clock.Now().Before(deadline) && s.activeSessionCount() > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.tickInterval))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err == nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.handlePacket(addr.AddrPort(), data)
		}
		s.tick(s.clock.Now())
	}

	for _, sess := range s.snapshotSessions() {
		s.applySessionEvents(sess, sess.ForceDisconnect(disconnect.ServerShutdown))
	}
}

func (s *Server) snapshotSessions() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (s *Server) activeSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// handlePacket processes one datagram read from the socket: rate limiting,
// dispatch to an existing session, or the offline handshake handler.
func (s *Server) handlePacket(peer netip.AddrPort, data []byte) {
	s.receivedBytes += uint64(len(data))
	s.metrics.AddBandwidthReceived(len(data))

	ip := peer.Addr()
	if s.blocked.isBlocked(ip.String()) {
		return
	}
	s.packetCounts[ip]++
	if s.packetCounts[ip] > s.cfg.MaxPacketsPerTickPerIP {
		s.log.Warn("blocking IP for exceeding packet rate limit", slog.String("ip", ip.String()))
		s.blocked.block(ip.String())
		s.metrics.IncBlockedIPs()
		return
	}

	s.mu.Lock()
	sessionID, hasSession := s.bySessionAddr[peer]
	var sess *session.Session
	if hasSession {
		sess = s.sessions[sessionID]
	}
	s.mu.Unlock()

	if sess != nil {
		ev, err := sess.HandleIncoming(data)
		s.applySessionEvents(sess, ev)
		if err != nil {
			reason := disconnect.BadPacket
			var violation *disconnect.Violation
			if errors.As(err, &violation) {
				reason = violation.Reason
			}
			s.log.Debug("forcing disconnect after session error",
				slog.String("peer", peer.String()), slog.String("error", err.Error()))
			s.applySessionEvents(sess, sess.ForceDisconnect(reason))
		}
		return
	}

	if !wire.LooksOffline(data) {
		s.listener.OnRawPacket(peer, data)
		return
	}

	res, err := s.offline.Handle(offline.Request{
		Peer:          peer,
		Data:          data,
		ServerName:    s.cfg.ServerName,
		MaxMTU:        s.cfg.MaxMTU,
		PortChecking:  s.cfg.PortChecking,
		BindPort:      s.cfg.BindPort,
		SessionExists: hasSession,
	})
	if err != nil {
		s.log.Debug("dropping malformed offline datagram", slog.String("peer", peer.String()), slog.String("error", err.Error()))
		return
	}
	s.send(peer, res.Outgoing)

	if res.CreateSession != nil {
		s.createSession(res.CreateSession)
	}
}

func (s *Server) createSession(req *offline.NewSessionRequest) {
	s.mu.Lock()
	s.nextSessionID++
	id := s.nextSessionID
	s.mu.Unlock()

	sess, err := session.New(session.Config{
		ID:                  id,
		Peer:                req.Peer,
		ServerAddr:          netip.AddrPortFrom(netip.IPv4Unspecified(), s.cfg.BindPort),
		ClientGUID:          req.ClientGUID,
		ServerGUID:          s.cfg.ServerGUID,
		MTU:                 req.MTU,
		WindowSize:          windowSize,
		MaxSplitPartCount:   maxSplitPartCount,
		MaxConcurrentSplits: maxConcurrentSplits,
		Clock:               s.clock,
		Logger:              s.log,
	})
	if err != nil {
		s.log.Warn("failed to create session", slog.String("peer", req.Peer.String()), slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.bySessionAddr[req.Peer] = id
	s.mu.Unlock()
	s.metrics.SetSessionsActive(s.activeSessionCount())
	s.log.Info("session created", slog.Uint64("session_id", id), slog.String("peer", req.Peer.String()))
}

// applySessionEvents writes outgoing bytes to the socket and relays every
// session event to the listener and metrics.
func (s *Server) applySessionEvents(sess *session.Session, ev session.Events) {
	s.send(sess.Peer(), ev.Outgoing)

	for _, payload := range ev.Delivered {
		s.listener.OnPacketReceive(sess.ID(), payload)
	}
	for _, id := range ev.AckIDs {
		s.listener.OnPacketAck(sess.ID(), id)
	}
	for _, rtt := range ev.PingMeasures {
		s.listener.OnPingMeasure(sess.ID(), rtt)
		s.metrics.ObservePingRTT(rtt)
	}
	if ev.Connected {
		s.listener.OnClientConnect(sess.ID(), sess.Peer(), sess.ClientGUID())
	}
	if ev.DisconnectReason != nil {
		s.listener.OnClientDisconnect(sess.ID(), *ev.DisconnectReason)
		s.log.Info("session disconnecting",
			slog.Uint64("session_id", sess.ID()), slog.String("reason", ev.DisconnectReason.String()))
	}
	if sess.IsDone() {
		s.removeSession(sess)
	}
}

func (s *Server) removeSession(sess *session.Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	delete(s.bySessionAddr, sess.Peer())
	s.mu.Unlock()
	s.metrics.SetSessionsActive(s.activeSessionCount())
	s.log.Info("session removed", slog.Uint64("session_id", sess.ID()))
}

// tick drives every session's periodic maintenance and resets the per-tick
// rate-limit counters.
func (s *Server) tick(now time.Time) {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		ev := sess.Tick(now)
		s.applySessionEvents(sess, ev)
	}

	s.packetCounts = make(map[netip.Addr]int)

	if now.Sub(s.lastStatsAt) >= s.statsInterval {
		s.listener.OnBandwidthStats(s.sentBytes, s.receivedBytes)
		s.sentBytes, s.receivedBytes = 0, 0
		s.lastStatsAt = now
	}
}

func (s *Server) send(peer netip.AddrPort, outgoing [][]byte) {
	for _, raw := range outgoing {
		if _, err := s.conn.WriteToUDPAddrPort(raw, peer); err != nil {
			s.log.Debug("write failed", slog.String("peer", peer.String()), slog.String("error", err.Error()))
			continue
		}
		s.sentBytes += uint64(len(raw))
		s.metrics.AddBandwidthSent(len(raw))
	}
}
