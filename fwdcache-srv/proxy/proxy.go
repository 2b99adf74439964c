package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/codefionn/fwdcache/fwdcache-srv/accesslog"
	"github.com/codefionn/fwdcache/fwdcache-srv/cache"
	"github.com/codefionn/fwdcache/fwdcache-srv/config"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
	"github.com/codefionn/fwdcache/fwdcache-srv/resolver"
	"github.com/codefionn/fwdcache/fwdcache-srv/stats"
)

// Proxy is a caching HTTP/1.x forward proxy bound to a single listener.
type Proxy struct {
	config    *config.Config
	Collector stats.Collector

	timeout     time.Duration
	cache       *cache.HTTPCache
	accessLog   *accesslog.Logger
	blocked     *DomainMatcher
	transformer *Transformer
	dialer      *Dialer
	tunnelPort  int

	// Set when the listener is known; the self-loop guard needs its port.
	guard      *SelfLoopGuard
	dispatcher *Dispatcher
	tunnels    *TunnelManager

	slots chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// NewProxy builds a proxy from cfg. Nothing listens until Start.
func NewProxy(cfg *config.Config) (*Proxy, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	dialer, err := NewDialer(timeout, resolver.New(cfg.DNS), cfg.UpstreamSOCKS5)
	if err != nil {
		return nil, err
	}

	collector, err := stats.NewCollectorFactory().CreateCollector(&cfg.Statistics)
	if err != nil {
		logger.Error("Failed to initialize statistics collector: %v", err)
		collector = stats.NewDummyCollector()
	}

	accessLog, err := accesslog.Open(cfg.AccessLog)
	if err != nil {
		return nil, multierr.Append(err, collector.Close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Proxy{
		config:      cfg,
		Collector:   collector,
		timeout:     timeout,
		cache:       cache.New(cfg.MaxCacheSize, cfg.MaxObjectSize),
		accessLog:   accessLog,
		blocked:     NewDomainMatcher(cfg.Blocklist),
		transformer: NewTransformer(cfg.ProxyID),
		dialer:      dialer,
		tunnelPort:  tunnelPort,
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(map[net.Conn]struct{}),
	}
	if cfg.MaxConcurrentConnections > 0 {
		p.slots = make(chan struct{}, cfg.MaxConcurrentConnections)
	}
	if p.blocked.Len() > 0 {
		logger.Info("Blocklist contains %d domains", p.blocked.Len())
	}
	return p, nil
}

// GetConfig returns the configuration the proxy was built from.
func (p *Proxy) GetConfig() *config.Config {
	return p.config
}

// CacheStats reports the response cache counters.
func (p *Proxy) CacheStats() cache.Stats {
	return p.cache.Stats()
}

// Addr returns the listening address, or nil before Start.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Start listens on the configured address and serves until Stop.
func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", p.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", p.config.ListenAddress, err)
	}
	return p.StartWithListener(listener)
}

// StartWithListener serves connections accepted from listener until Stop.
// It returns nil after a clean stop.
func (p *Proxy) StartWithListener(listener net.Listener) error {
	if p.stopped.Load() {
		_ = listener.Close()
		return errors.New("proxy already stopped")
	}

	port := p.config.Port()
	if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcp.Port
	}
	hosts := append([]string{p.config.Host(), p.config.SelfHost}, listenerHosts(listener.Addr())...)
	p.guard = NewSelfLoopGuard(port, hosts...)
	p.dispatcher = NewDispatcher(p.dialer, p.guard, p.transformer, p.timeout)
	p.tunnels = NewTunnelManager(p.dialer, p.guard, p.blocked, p.timeout)
	p.tunnels.port = p.tunnelPort

	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()

	logger.Info("Starting proxy server on %s", listener.Addr().String())
	return p.serve(listener)
}

func (p *Proxy) serve(listener net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if p.stopped.Load() {
				return nil
			}
			if isTemporaryAcceptError(err) {
				backoff = min(max(backoff*2, 5*time.Millisecond), time.Second)
				logger.Warn("Accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		backoff = 0

		if !p.acquire() {
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				p.reject(conn)
			}()
			continue
		}
		if !p.track(conn) {
			p.release()
			_ = conn.Close()
			continue
		}

		go func() {
			defer p.wg.Done()
			defer p.release()
			defer p.untrack(conn)
			p.handleConnection(p.ctx, conn)
		}()
	}
}

// isTemporaryAcceptError reports whether Accept may succeed when retried:
// timeouts and running out of file descriptors.
func isTemporaryAcceptError(err error) bool {
	if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (p *Proxy) acquire() bool {
	if p.slots == nil {
		return true
	}
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Proxy) release() {
	if p.slots != nil {
		<-p.slots
	}
}

// reject answers a connection over the concurrency limit with 503.
func (p *Proxy) reject(conn net.Conn) {
	defer conn.Close()
	logger.Warn("Rejecting connection from %s: concurrency limit reached", conn.RemoteAddr())
	err := NewProxyError(ErrCodeConcurrencyLimitReached,
		fmt.Sprintf("Too many concurrent connections (limit %d)", cap(p.slots)), nil)
	_ = conn.SetWriteDeadline(time.Now().Add(p.timeout))
	if _, writeErr := ErrorResponseFor(err).WriteTo(conn); writeErr != nil {
		logger.Debug("Failed to write rejection: %v", writeErr)
	}
}

// track registers conn for Stop. It reports false once stopping began.
func (p *Proxy) track(conn net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped.Load() {
		return false
	}
	p.conns[conn] = struct{}{}
	p.wg.Add(1)
	return true
}

func (p *Proxy) untrack(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
}

// Stop closes the listener and every open connection, waits for their
// goroutines and releases the statistics and access log backends. It is
// safe to call more than once.
func (p *Proxy) Stop() error {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		p.cancel()

		p.mu.Lock()
		var err error
		if p.listener != nil {
			if closeErr := p.listener.Close(); closeErr != nil && !isClosedConnError(closeErr) {
				err = multierr.Append(err, closeErr)
			}
		}
		for conn := range p.conns {
			_ = conn.Close()
		}
		p.mu.Unlock()

		p.wg.Wait()

		err = multierr.Append(err, p.Collector.Close())
		err = multierr.Append(err, p.accessLog.Close())
		if err != nil {
			logger.Error("Failed to stop proxy server cleanly: %v", err)
		}
		p.stopErr = err
		logger.Info("Proxy server stopped")
	})
	return p.stopErr
}
