/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package sockmetrics wires the local TCP sockets ocproxy accepts (redir
// and SOCKS5 listeners) into the ambient observability stack: per-socket
// byte/timing counters logged at close, and kernel-level tcp_info exposed
// as Prometheus gauges via pkg/exporter's collector. Only the two local
// legs are real OS sockets with an fd worth instrumenting this way — the
// VPN-side TCP/IP engine is entirely userspace gvisor state and has no
// kernel tcp_info to read.
package sockmetrics

import (
	"io"
	"net"
	"strconv"
	"time"

	"github.com/higebu/netfd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/ocproxy/pkg/exporter"
	"github.com/simeonmiteff/ocproxy/pkg/tcpinfo"
)

// Registry owns the one TCPInfoCollector for the whole process and tags
// every wrapped connection with its listener name ("redir" or "socks5")
// and its slot id.
type Registry struct {
	collector *exporter.TCPInfoCollector
}

// NewRegistry builds a Registry and registers its collector with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{}
	r.collector = exporter.NewTCPInfoCollector(
		"ocproxy_local_conn",
		[]string{"listener", "slot"},
		nil,
		func(err error) {
			logrus.WithError(err).Debug("sockmetrics: tcpinfo collection error")
		},
	)
	if reg != nil {
		reg.MustRegister(r.collector)
	}
	return r
}

// Conn wraps a net.Conn accepted locally, counting bytes and timings the
// way the ambient stack's connection wrapper always has, and reporting a
// one-line summary via logrus on Close.
type Conn struct {
	net.Conn

	listener string
	slotID   int

	openedAt time.Time
	rxBytes  int64
	txBytes  int64
	rxErr    error
	txErr    error

	reg *Registry
}

// Wrap instruments conn for listener/slotID, registering its fd with the
// tcpinfo collector so kernel-level retransmit/RTT gauges are exported
// for as long as the connection lives.
func (r *Registry) Wrap(conn net.Conn, listener string, slotID int) *Conn {
	w := &Conn{
		Conn:     conn,
		listener: listener,
		slotID:   slotID,
		openedAt: time.Now(),
		reg:      r,
	}
	if r != nil && r.collector != nil {
		r.collector.Add(conn, []string{listener, strconv.Itoa(slotID)})
	}
	return w
}

func (w *Conn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	w.rxBytes += int64(n)
	if err != nil && err != io.EOF {
		w.rxErr = err
	}
	return n, err
}

func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	w.txBytes += int64(n)
	if err != nil {
		w.txErr = err
	}
	return n, err
}

// Close reports a summary line (with a one-shot JSON tcp_info snapshot,
// when the platform supports it) and unregisters from the tcpinfo
// collector before closing the underlying connection.
func (w *Conn) Close() error {
	if w.reg != nil && w.reg.collector != nil {
		w.reg.collector.Remove(w.Conn)
	}

	entry := logrus.WithFields(logrus.Fields{
		"listener": w.listener,
		"slot":     w.slotID,
		"duration": time.Since(w.openedAt),
		"rxBytes":  w.rxBytes,
		"txBytes":  w.txBytes,
		"rxErr":    w.rxErr,
		"txErr":    w.txErr,
	})
	if tcpinfo.Supported() {
		if fd := netfd.GetFdFromConn(w.Conn); fd > 0 {
			if sys, err := tcpinfo.GetTCPInfo(uintptr(fd)); err == nil {
				entry = entry.WithField("tcpInfo", sys.ToInfo())
			}
		}
	}
	entry.Debug("sockmetrics: connection closed")
	return w.Conn.Close()
}

