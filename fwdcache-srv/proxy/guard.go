package proxy

import (
	"net"
	"os"
	"strconv"

	"github.com/codefionn/fwdcache/fwdcache-srv/logger"
)

// SelfLoopGuard recognizes targets that point back at this proxy. It
// matches against the fixed host set it was built with.
type SelfLoopGuard struct {
	port  int
	hosts map[string]struct{}
}

// NewSelfLoopGuard returns a guard for a proxy listening on port. The
// loopback names are always included; hosts adds the bound address and any
// configured self host.
func NewSelfLoopGuard(port int, hosts ...string) *SelfLoopGuard {
	g := &SelfLoopGuard{port: port, hosts: make(map[string]struct{})}
	for _, host := range append([]string{"localhost", "127.0.0.1", "::1"}, hosts...) {
		if host == "" {
			continue
		}
		g.hosts[normalizeHost(host)] = struct{}{}
	}
	return g
}

// IsSelf reports whether host:port addresses the proxy.
func (g *SelfLoopGuard) IsSelf(host string, port int) bool {
	if g == nil || port != g.port {
		return false
	}
	_, ok := g.hosts[normalizeHost(host)]
	return ok
}

// Check returns a self-loop error when host:port addresses the proxy.
func (g *SelfLoopGuard) Check(host string, port int) error {
	if g.IsSelf(host, port) {
		return NewProxyError(ErrCodeSelfLoopDetected,
			"Self-loop detected: "+host+":"+strconv.Itoa(port)+" is this proxy", nil)
	}
	return nil
}

// listenerHosts returns the names under which a listener bound to addr is
// reachable. A wildcard bind answers on every local interface and on the
// machine's hostname.
func listenerHosts(addr net.Addr) []string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil
	}
	if !tcp.IP.IsUnspecified() && tcp.IP != nil {
		return []string{tcp.IP.String()}
	}

	var hosts []string
	if name, err := os.Hostname(); err == nil && name != "" {
		hosts = append(hosts, name)
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		logger.Warn("Could not list interface addresses for self-loop detection: %v", err)
		return hosts
	}
	for _, a := range addrs {
		if ipNet, ok := a.(*net.IPNet); ok {
			hosts = append(hosts, ipNet.IP.String())
		}
	}
	return hosts
}
