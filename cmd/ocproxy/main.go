// Command ocproxy terminates a raw IP VPN tunnel inside a single process
// and exposes the services reachable through it as local TCP listeners
// (static port-forwards and a SOCKS5 proxy), without kernel routing, root,
// or a tun device (SPEC_FULL.md §1).
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/ocproxy/internal/config"
	"github.com/simeonmiteff/ocproxy/internal/conntable"
	"github.com/simeonmiteff/ocproxy/internal/dnsshim"
	"github.com/simeonmiteff/ocproxy/internal/engine/gvisorstack"
	"github.com/simeonmiteff/ocproxy/internal/eventloop"
	"github.com/simeonmiteff/ocproxy/internal/listener"
	"github.com/simeonmiteff/ocproxy/internal/pcaptap"
	"github.com/simeonmiteff/ocproxy/internal/sockmetrics"
	"github.com/simeonmiteff/ocproxy/internal/timers"
	"github.com/simeonmiteff/ocproxy/internal/vpnendpoint"
)

func main() {
	cfg, err := config.Parse()
	if err != nil {
		logrus.Fatalf("ocproxy: %v", err)
	}
	if cfg.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var tap *pcaptap.Writer
	if cfg.TCPDump != "" {
		tap, err = pcaptap.Open(cfg.TCPDump)
		if err != nil {
			logrus.Fatalf("ocproxy: opening capture file: %v", err)
		}
		defer tap.Close()
	}

	vpn, err := vpnendpoint.Open(cfg.MTU, wrapTap(tap))
	if err != nil {
		logrus.Fatalf("ocproxy: %v", err)
	}

	stack, err := gvisorstack.New(gvisorstack.Config{
		Addr:    net.ParseIP(cfg.IP),
		Netmask: net.ParseIP(cfg.Netmask),
		Gateway: net.ParseIP(cfg.Gateway),
		MTU:     cfg.MTU,
	})
	if err != nil {
		logrus.Fatalf("ocproxy: engine init: %v", err)
	}

	table := conntable.New(cfg.PoolSize)
	resolver := dnsshim.New()

	var metricsReg *sockmetrics.Registry
	if cfg.MetricsAddr != "" {
		metricsReg = sockmetrics.NewRegistry(prometheus.DefaultRegisterer)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logrus.WithError(err).Warn("ocproxy: metrics server stopped")
			}
		}()
	}

	loop := eventloop.New(vpn, stack, table, resolver, metricsReg, time.Duration(cfg.KeepaliveSeconds)*time.Second)

	bindAddr := func(listenAddr string) string {
		if cfg.AllowRemote {
			return listenAddr
		}
		host, port, err := net.SplitHostPort(listenAddr)
		if err != nil || host == "" || host == "0.0.0.0" {
			if err == nil && port != "" {
				return net.JoinHostPort("127.0.0.1", port)
			}
		}
		return listenAddr
	}

	var listeners []*listener.Listener
	for _, fwd := range cfg.Forwards {
		l, err := listener.Listen("redir", bindAddr(fwd.ListenAddr), &listener.ForwardTarget{Host: fwd.Host, Port: fwd.Port}, loop.AcceptChan())
		if err != nil {
			logrus.Fatalf("ocproxy: --localfw listen %s: %v", fwd.ListenAddr, err)
		}
		listeners = append(listeners, l)
		logrus.WithField("addr", l.Addr()).WithField("forward", fmt.Sprintf("%s:%d", fwd.Host, fwd.Port)).Info("ocproxy: static forward listening")
	}
	if cfg.DynamicForward != "" {
		l, err := listener.Listen("socks5", bindAddr(cfg.DynamicForward), nil, loop.AcceptChan())
		if err != nil {
			logrus.Fatalf("ocproxy: --dynfw listen %s: %v", cfg.DynamicForward, err)
		}
		listeners = append(listeners, l)
		logrus.WithField("addr", l.Addr()).Info("ocproxy: SOCKS5 proxy listening")
	}
	defer func() {
		for _, l := range listeners {
			l.Close()
		}
	}()

	vpnStop := make(chan struct{})
	go vpn.Run(vpnStop, loop.VPNInChan())
	defer close(vpnStop)

	tset := timers.NewSet()
	defer tset.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)

	loop.Run(tset, sigCh)

	logrus.Info("ocproxy: shutting down")
}

func wrapTap(t *pcaptap.Writer) tapAdapter {
	return tapAdapter{t}
}

// tapAdapter satisfies vpnendpoint.Tap even when t is nil, since a nil
// *pcaptap.Writer's methods are themselves nil-receiver safe.
type tapAdapter struct {
	t *pcaptap.Writer
}

func (a tapAdapter) Write(data []byte, outbound bool) {
	a.t.Write(data, outbound)
}
