package resolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/codefionn/fwdcache/fwdcache-srv/config"
	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// Resolver dials the configured DNS servers in rotation. It supports UDP,
// TCP and DNS over TLS.
type Resolver struct {
	servers   []config.DNSServerConfig
	next      atomic.Uint64
	tlsConfig *tls.Config
}

// NewResolver creates a Resolver over the servers in cfg.
func NewResolver(cfg config.DNSConfig) *Resolver {
	return &Resolver{
		servers: cfg.Servers,
		tlsConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			NextProtos: []string{"dot"},
		},
	}
}

// New returns the net.Resolver used for outbound dials. Without enabled
// custom servers it is the Go resolver using the system configuration.
func New(cfg config.DNSConfig) *net.Resolver {
	if !cfg.Enabled || len(cfg.Servers) == 0 {
		logger.Debug("Using system default DNS resolver")
		return &net.Resolver{PreferGo: true}
	}

	logger.Info("Custom DNS resolver initialized with %d server(s)", len(cfg.Servers))
	for i, server := range cfg.Servers {
		logger.Info("  DNS Server %d: %s (%s)", i, server.Address, server.Type)
	}
	r := NewResolver(cfg)
	return &net.Resolver{
		PreferGo: true,
		Dial:     r.Dial,
	}
}

// Dial is the custom dial function for DNS resolution. The network asked
// for by the Go resolver is ignored in favour of the server's type.
func (r *Resolver) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	if len(r.servers) == 0 {
		return nil, fmt.Errorf("no DNS servers configured")
	}
	serverIdx := int((r.next.Add(1) - 1) % uint64(len(r.servers)))
	dnsServer := r.servers[serverIdx]
	logger.Trace("Using DNS server %d: %s (%s)", serverIdx, dnsServer.Address, dnsServer.Type)

	dialer := &net.Dialer{Timeout: dnsServer.GetTimeoutDuration()}

	switch dnsServer.Type {
	case config.DNSTypeUDP, config.DNSTypeTCP:
		return dialer.DialContext(ctx, string(dnsServer.Type), dnsServer.Address)

	case config.DNSTypeDoT:
		tcpConn, err := dialer.DialContext(ctx, "tcp", dnsServer.Address)
		if err != nil {
			logger.Error("Failed to establish TCP connection to DoT server %s: %v", dnsServer.Address, err)
			return nil, fmt.Errorf("DoT TCP connection failed: %w", err)
		}

		tlsConfig := r.tlsConfig.Clone()
		tlsConfig.ServerName = dnsServer.TLSHost
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName, _, _ = net.SplitHostPort(dnsServer.Address)
		}

		tlsConn := tls.Client(tcpConn, tlsConfig)
		handshakeCtx, cancel := context.WithTimeout(ctx, dnsServer.GetTimeoutDuration())
		defer cancel()
		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			if closeErr := tcpConn.Close(); closeErr != nil {
				logger.Debug("Error closing DoT connection: %v", closeErr)
			}
			logger.Error("TLS handshake failed with DoT server %s: %v", dnsServer.Address, err)
			return nil, fmt.Errorf("DoT TLS handshake failed: %w", err)
		}
		return tlsConn, nil

	default:
		return nil, fmt.Errorf("unsupported DNS server type: %s", dnsServer.Type)
	}
}
