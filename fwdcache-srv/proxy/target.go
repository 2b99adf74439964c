package proxy

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/codefionn/fwdcache/fwdcache-srv/httpmsg"
	"golang.org/x/net/idna"
)

const (
	defaultHTTPPort  = 80
	defaultHTTPSPort = 443
	tunnelPort       = 443
)

// Target is the origin a request is forwarded to.
type Target struct {
	Scheme string
	Host   string // lowercase, IDNA ASCII form, no brackets
	Port   int
	Path   string // origin-form path and query
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// HostHeader returns the Host header value, omitting the scheme's default port.
func (t Target) HostHeader() string {
	if t.Port == defaultPortFor(t.Scheme) {
		if strings.Contains(t.Host, ":") {
			return "[" + t.Host + "]"
		}
		return t.Host
	}
	return t.Address()
}

// URL returns the absolute-form URL of the target.
func (t Target) URL() string {
	return t.Scheme + "://" + t.HostHeader() + t.Path
}

func defaultPortFor(scheme string) int {
	if scheme == "https" {
		return defaultHTTPSPort
	}
	return defaultHTTPPort
}

// normalizeHost lowercases host and converts internationalized names to
// their ASCII form. Names IDNA rejects are only lowercased.
func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if net.ParseIP(host) != nil {
		return strings.ToLower(host)
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return strings.ToLower(host)
}

// ResolveTarget determines where a non-CONNECT request goes. An
// absolute-form target wins over the Host header.
func ResolveTarget(req *httpmsg.Request) (Target, error) {
	switch req.Form() {
	case httpmsg.AbsoluteForm:
		return parseAbsoluteTarget(req.Target)
	case httpmsg.OriginForm:
		host, ok := req.Headers.Lookup("Host")
		if !ok || strings.TrimSpace(host) == "" {
			return Target{}, NewProxyError(ErrCodeMissingHost, "missing Host header for origin-form target", nil)
		}
		hostname, port, err := splitHostPort(strings.TrimSpace(host), defaultHTTPPort)
		if err != nil {
			return Target{}, NewProxyError(ErrCodeInvalidTarget, "invalid Host header: "+host, err)
		}
		return Target{Scheme: "http", Host: hostname, Port: port, Path: req.Target}, nil
	default:
		return Target{}, NewProxyError(ErrCodeInvalidTarget, "invalid request target: "+req.Target, nil)
	}
}

func parseAbsoluteTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, NewProxyError(ErrCodeInvalidTarget, "invalid URL: "+raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" {
		return Target{}, NewProxyError(ErrCodeInvalidTarget, "unsupported scheme: "+u.Scheme, nil)
	}
	if u.Hostname() == "" {
		return Target{}, NewProxyError(ErrCodeInvalidTarget, "no host in URL: "+raw, nil)
	}
	port := defaultHTTPPort
	if p := u.Port(); p != "" {
		port, err = parsePort(p)
		if err != nil {
			return Target{}, NewProxyError(ErrCodeInvalidTarget, "invalid port in URL: "+raw, err)
		}
	}
	return Target{
		Scheme: scheme,
		Host:   normalizeHost(u.Hostname()),
		Port:   port,
		Path:   u.RequestURI(),
	}, nil
}

// ParseAuthority parses a CONNECT target. Only host:port is accepted.
func ParseAuthority(target string) (string, int, error) {
	if strings.Contains(target, "://") || strings.ContainsAny(target, "/?#@") {
		return "", 0, NewProxyError(ErrCodeInvalidAuthority, "invalid authority form: "+target, nil)
	}
	if !strings.Contains(target, ":") {
		return "", 0, NewProxyError(ErrCodeInvalidTunnelPort, "invalid port: missing in "+target, nil)
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, NewProxyError(ErrCodeInvalidAuthority, "invalid authority form: "+target, err)
	}
	if host == "" {
		return "", 0, NewProxyError(ErrCodeInvalidAuthority, "invalid authority form: no host", nil)
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, NewProxyError(ErrCodeInvalidTunnelPort, "invalid port: "+portStr, err)
	}
	return normalizeHost(host), port, nil
}

// splitHostPort splits a Host header value, applying defaultPort when none is given.
func splitHostPort(hostport string, defaultPort int) (string, int, error) {
	if i := strings.LastIndex(hostport, ":"); i < 0 || i < strings.LastIndex(hostport, "]") {
		return normalizeHost(hostport), defaultPort, nil
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, strconv.ErrSyntax
	}
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return normalizeHost(host), port, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, strconv.ErrRange
	}
	return port, nil
}
