// Package config parses ocproxy's CLI/environment configuration using
// alexflint/go-arg, the way SPEC_FULL.md's AMBIENT STACK section grounds
// the flag layer: one struct, `arg` tags carrying both the flag name and
// the `env:` fallback.
package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/alexflint/go-arg"
)

// Forward is one --localfw entry: listen_addr:port -> host:port.
type Forward struct {
	ListenAddr string
	Host       string
	Port       uint16
}

// Config is the full set of ocproxy options (spec.md §6.2).
type Config struct {
	IP       string `arg:"--ip,env:INTERNAL_IP4_ADDRESS" help:"VPN-assigned local IPv4 address"`
	Netmask  string `arg:"--netmask,env:INTERNAL_IP4_NETMASK" default:"255.255.255.0"`
	Gateway  string `arg:"--gw,env:VPNGATEWAY" help:"VPN peer gateway address"`
	MTU      int    `arg:"--mtu,env:INTERNAL_IP4_MTU" default:"1400"`
	DNS      string `arg:"--dns,env:OCPROXY_DNS" help:"accepted but not used; lookups go through the system resolver"`

	DynamicForward string   `arg:"--dynfw,env:OCPROXY_DYNFW" help:"listen_addr:port for the SOCKS5 proxy"`
	LocalForward   []string `arg:"--localfw,separate" help:"listen_addr:port,host:port static forward; repeatable"`

	KeepaliveSeconds int  `arg:"--keepalive,env:OCPROXY_KEEPALIVE" default:"60"`
	AllowRemote      bool `arg:"--allow-remote,env:OCPROXY_ALLOW_REMOTE" help:"use listen addresses as given; otherwise an empty or 0.0.0.0 host binds 127.0.0.1"`
	Verbose          bool `arg:"-v,--verbose,env:OCPROXY_VERBOSE"`
	TCPDump          string `arg:"--tcpdump,env:OCPROXY_TCPDUMP" help:"pcap capture file path; disabled if empty"`

	MetricsAddr string `arg:"--metrics-addr,env:OCPROXY_METRICS_ADDR" help:"serve Prometheus /metrics here if set"`
	PoolSize    int    `arg:"--pool-size,env:OCPROXY_POOL_SIZE" default:"32"`
}

// Parsed holds the config plus the validated/resolved forward list.
type Parsed struct {
	Config
	Forwards []Forward
}

// Parse reads os.Args and the environment into a Config, validates it, and
// resolves --localfw entries into Forward values.
func Parse() (*Parsed, error) {
	var c Config
	arg.MustParse(&c)

	p := &Parsed{Config: c}
	for _, raw := range c.LocalForward {
		f, err := parseForward(raw)
		if err != nil {
			return nil, fmt.Errorf("config: --localfw %q: %w", raw, err)
		}
		p.Forwards = append(p.Forwards, f)
	}
	return p, p.validate()
}

func parseForward(raw string) (Forward, error) {
	listenAddr, hostport, ok := strings.Cut(raw, ",")
	if !ok {
		return Forward{}, fmt.Errorf("expected listen_addr,host:port")
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Forward{}, err
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Forward{}, fmt.Errorf("invalid port %q", portStr)
	}
	return Forward{ListenAddr: listenAddr, Host: host, Port: port}, nil
}

func (p *Parsed) validate() error {
	if p.IP == "" {
		return fmt.Errorf("config: --ip is required")
	}
	if net.ParseIP(p.IP) == nil {
		return fmt.Errorf("config: --ip %q is not a valid IPv4 address", p.IP)
	}
	if p.DynamicForward == "" && len(p.Forwards) == 0 {
		return fmt.Errorf("config: at least one of --dynfw or --localfw is required")
	}
	if p.PoolSize <= 0 {
		return fmt.Errorf("config: --pool-size must be positive")
	}
	return nil
}
