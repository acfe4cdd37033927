// Package server drives wren sessions over TCP connections: it accepts
// connections, performs STARTTLS handshakes, enforces timeouts and resolves
// client hostnames.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synqronlabs/wren"
	"github.com/synqronlabs/wren/dns"
)

// ErrServerClosed is returned by Serve after Shutdown or Close.
var ErrServerClosed = errors.New("smtp: server closed")

// Config holds the transport settings. Protocol settings live in the
// wren.Engine.
type Config struct {
	// Addr is the listen address for ListenAndServe. Default: ":25"
	Addr string

	// TLSConfig is required for STARTTLS and ListenAndServeTLS.
	TLSConfig *tls.Config

	// ReadTimeout bounds the wait for the next command. Default: 5 minutes
	// (RFC 5321 Section 4.5.3.2.7).
	ReadTimeout time.Duration

	// DataTimeout bounds the wait for each chunk of message content.
	// Default: 10 minutes
	DataTimeout time.Duration

	// WriteTimeout bounds each reply write. Default: 1 minute
	WriteTimeout time.Duration

	// MaxConnections refuses connections beyond this count (0 = unlimited).
	MaxConnections int

	// Resolver, when set, is used to fill PeerInfo.Hostname with a
	// forward-confirmed reverse DNS name.
	Resolver dns.Resolver

	// LookupTimeout bounds the reverse DNS lookup. Default: 5 seconds
	LookupTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *Metrics
}

// HandlerFactory returns the Handler for a new connection.
type HandlerFactory func(peer wren.PeerInfo) wren.Handler

// Server accepts SMTP connections and runs one wren.Session per connection.
type Server struct {
	engine   *wren.Engine
	factory  HandlerFactory
	config   Config
	hostname string

	listenerMu sync.Mutex
	listener   net.Listener

	connMu    sync.Mutex
	conns     map[*conn]struct{}
	connCount atomic.Int64

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownWg sync.WaitGroup
	closed     atomic.Bool
}

// New creates a Server. A nil factory serves every connection with
// wren.NopHandler.
func New(engine *wren.Engine, factory HandlerFactory, config Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("smtp: engine is required")
	}
	ec := engine.Config()
	if ec.EnableStartTLS && config.TLSConfig == nil {
		return nil, errors.New("smtp: STARTTLS is enabled but no TLS config was given")
	}
	if factory == nil {
		factory = func(wren.PeerInfo) wren.Handler { return wren.NopHandler{} }
	}

	if config.Addr == "" {
		config.Addr = ":25"
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Minute
	}
	if config.DataTimeout == 0 {
		config.DataTimeout = 10 * time.Minute
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = time.Minute
	}
	if config.LookupTimeout == 0 {
		config.LookupTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine:   engine,
		factory:  factory,
		config:   config,
		hostname: ec.Hostname,
		conns:    make(map[*conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ListenAndServe listens on Config.Addr and serves plain SMTP.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen: %w", err)
	}
	return s.Serve(l)
}

// ListenAndServeTLS listens on Config.Addr with implicit TLS (RFC 8314).
func (s *Server) ListenAndServeTLS() error {
	if s.config.TLSConfig == nil {
		return errors.New("smtp: TLS config is required for TLS server")
	}
	l, err := tls.Listen("tcp", s.config.Addr, s.config.TLSConfig)
	if err != nil {
		return fmt.Errorf("smtp: failed to listen TLS: %w", err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until the server is closed.
func (s *Server) Serve(l net.Listener) error {
	s.listenerMu.Lock()
	if s.closed.Load() {
		s.listenerMu.Unlock()
		_ = l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.listenerMu.Unlock()

	s.config.Logger.Info("SMTP server started",
		slog.String("addr", l.Addr().String()),
		slog.String("hostname", s.hostname),
	)

	for {
		nc, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.config.Logger.Error("accept error", slog.Any("error", err))
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if s.config.MaxConnections > 0 && s.connCount.Load() >= int64(s.config.MaxConnections) {
			s.config.Logger.Warn("connection limit reached", slog.String("remote", nc.RemoteAddr().String()))
			s.config.Metrics.connLimited()
			c := newConn(nc)
			_ = c.write(s.config.WriteTimeout, wren.ResponseServiceUnavailable(s.hostname, "Too many connections, try again later"))
			_ = c.close()
			continue
		}

		s.shutdownWg.Add(1)
		go s.handleConnection(nc)
	}
}

// Shutdown stops accepting, sends 421 to connected clients and waits for
// their sessions to end or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.closeAll()
		return ctx.Err()
	}
}

// Close stops the server and closes every connection immediately.
func (s *Server) Close() error {
	s.stop()
	s.closeAll()
	return nil
}

func (s *Server) stop() {
	if s.closed.Swap(true) {
		return
	}
	s.cancel()
	s.listenerMu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.listenerMu.Unlock()

	// RFC 5321 Section 3.8: announce the shutdown with 421.
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		_ = c.write(5*time.Second, wren.ResponseServiceUnavailable(s.hostname, "Service shutting down"))
		_ = c.close()
	}
}

func (s *Server) closeAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		_ = c.close()
	}
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return int(s.connCount.Load())
}

func (s *Server) handleConnection(nc net.Conn) {
	defer s.shutdownWg.Done()

	c := newConn(nc)
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
	s.connCount.Add(1)
	s.config.Metrics.connOpened()

	logger := s.config.Logger.With(slog.String("remote", nc.RemoteAddr().String()))

	defer func() {
		s.connMu.Lock()
		delete(s.conns, c)
		s.connMu.Unlock()
		s.connCount.Add(-1)
		s.config.Metrics.connClosed(c.started)
		_ = c.close()
	}()

	peer := wren.PeerInfo{Addr: nc.RemoteAddr(), TLS: c.isTLS()}
	if s.config.Resolver != nil {
		peer.Hostname = s.lookupHostname(peer.Addr, logger)
	}

	sess := s.engine.NewSession(s.factory(peer), peer)
	defer sess.Close(s.ctx)

	defer func() {
		if x := recover(); x != nil {
			logger.Error("panic in session", slog.Any("panic", x), slog.String("session", sess.ID()))
			_ = c.write(s.config.WriteTimeout, wren.ResponseLocalError(""))
		}
	}()

	logger.Info("client connected", slog.String("session", sess.ID()), slog.String("hostname", peer.Hostname))
	if !s.send(c, sess.Greet(s.ctx)) {
		return
	}
	s.serve(c, sess, logger)
	logger.Info("client disconnected", slog.String("session", sess.ID()))
}

func (s *Server) lookupHostname(addr net.Addr, logger *slog.Logger) string {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.LookupTimeout)
	defer cancel()
	start := time.Now()
	host, err := dns.ReverseLookup(ctx, s.config.Resolver, addr)
	switch {
	case err == nil:
		s.config.Metrics.reverseLookup("pass", start)
	case dns.IsNotFound(err):
		s.config.Metrics.reverseLookup("fail", start)
	default:
		s.config.Metrics.reverseLookup("temperror", start)
		logger.Debug("reverse lookup failed", slog.Any("error", err))
	}
	return host
}

// send writes responses and reports whether the session continues.
func (s *Server) send(c *conn, rs ...wren.Response) bool {
	if err := c.write(s.config.WriteTimeout, rs...); err != nil {
		return false
	}
	for _, r := range rs {
		s.config.Metrics.reply(int(r.Code))
		if r.Action == wren.ActionClose {
			return false
		}
	}
	return true
}

func (s *Server) serve(c *conn, sess *wren.Session, logger *slog.Logger) {
	for {
		timeout := s.config.ReadTimeout
		if sess.State() == wren.StateData {
			timeout = s.config.DataTimeout
		}
		if err := c.netConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return
		}

		n, err := c.netConn.Read(c.buf)
		if n > 0 {
			rs := sess.Feed(s.ctx, c.buf[:n])
			if len(rs) > 0 && !s.send(c, rs...) {
				return
			}
			if len(rs) > 0 && rs[len(rs)-1].Action == wren.ActionUpgradeTLS {
				if !s.startTLS(c, sess, logger) {
					return
				}
			}
		}
		if err != nil {
			var ne net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.As(err, &ne) && ne.Timeout():
				logger.Info("client timed out", slog.String("state", sess.State().String()))
				s.send(c, wren.ResponseServiceUnavailable(s.hostname, "Timeout waiting for client"))
			default:
				logger.Debug("read error", slog.Any("error", err))
			}
			return
		}
	}
}

func (s *Server) startTLS(c *conn, sess *wren.Session, logger *slog.Logger) bool {
	tc := tls.Server(c.netConn, s.config.TLSConfig)
	ctx, cancel := context.WithTimeout(s.ctx, s.config.ReadTimeout)
	defer cancel()
	if err := tc.HandshakeContext(ctx); err != nil {
		s.config.Metrics.tlsUpgrade("failure")
		logger.Warn("TLS handshake failed", slog.Any("error", err))
		return false
	}
	s.config.Metrics.tlsUpgrade("success")
	c.upgrade(tc)
	sess.TLSStarted()
	state := tc.ConnectionState()
	logger.Debug("TLS established",
		slog.String("version", tls.VersionName(state.Version)),
		slog.String("cipher", tls.CipherSuiteName(state.CipherSuite)),
	)
	return true
}
