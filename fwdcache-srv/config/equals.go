package config

import "slices"

// HasChanged returns true if a reload from a to b requires restarting the proxy.
func HasChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	if a.ListenAddress != b.ListenAddress ||
		a.SelfHost != b.SelfHost ||
		a.ProxyID != b.ProxyID ||
		a.TimeoutSeconds != b.TimeoutSeconds ||
		a.MaxObjectSize != b.MaxObjectSize ||
		a.MaxCacheSize != b.MaxCacheSize ||
		a.MaxConcurrentConnections != b.MaxConcurrentConnections ||
		a.UpstreamSOCKS5 != b.UpstreamSOCKS5 ||
		a.AccessLog != b.AccessLog {
		return true
	}
	if !slices.Equal(a.Blocklist, b.Blocklist) {
		return true
	}
	if a.Statistics != b.Statistics {
		return true
	}
	return !dnsConfigEqual(a.DNS, b.DNS)
}

func dnsConfigEqual(a, b DNSConfig) bool {
	return a.Enabled == b.Enabled && slices.Equal(a.Servers, b.Servers)
}
