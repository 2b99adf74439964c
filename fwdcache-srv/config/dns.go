package config

import "time"

// DNSType defines the transport used to reach a DNS server
type DNSType string

const (
	DNSTypeUDP DNSType = "udp"
	DNSTypeTCP DNSType = "tcp"
	DNSTypeDoT DNSType = "dot" // DNS over TLS
)

// DNSServerConfig defines a single upstream DNS server.
// Address is host:port, or [IPv6]:port.
type DNSServerConfig struct {
	Address        string  `hcl:"address"`
	Type           DNSType `hcl:"type,optional"`
	TimeoutSeconds int     `hcl:"timeout-seconds,optional"`
	TLSHost        string  `hcl:"tls-host,optional"` // SNI name for DoT
}

// GetTimeoutDuration returns the query timeout, defaulting to 10s.
func (d DNSServerConfig) GetTimeoutDuration() time.Duration {
	if d.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// DNSConfig holds the resolver used for outbound dials.
// When disabled the system resolver is used.
type DNSConfig struct {
	Enabled bool              `hcl:"enabled,optional"`
	Servers []DNSServerConfig `hcl:"server,block"`
}

// DefaultDNSConfig returns a disabled resolver with public fallbacks listed.
func DefaultDNSConfig() DNSConfig {
	return DNSConfig{
		Enabled: false,
		Servers: []DNSServerConfig{
			{Address: "8.8.8.8:53", Type: DNSTypeUDP, TimeoutSeconds: 10},
			{Address: "1.1.1.1:53", Type: DNSTypeUDP, TimeoutSeconds: 10},
		},
	}
}
