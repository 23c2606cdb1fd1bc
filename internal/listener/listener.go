// Package listener runs the local TCP accept loops of SPEC_FULL.md §4.4:
// one listener per configured static port-forward, plus one SOCKS5
// listener. Each accept loop runs on its own goroutine (net.Listener.Accept
// blocks, and the single event-loop thread must never block), posting
// accepted connections to a channel the event loop selects on.
package listener

import (
	"net"

	"github.com/sirupsen/logrus"
)

// Accepted is one accepted local connection, tagged with enough context
// for the event loop to know how to handle it: a redir forward already
// knows its upstream target, while a SOCKS5 accept still needs the
// handshake to learn one.
type Accepted struct {
	Conn net.Conn
	// Forward is set for a static port-forward listener; nil for SOCKS5.
	Forward *ForwardTarget
}

// ForwardTarget is a static redirect's fixed destination (spec.md §4.3's
// "listen addr:port -> forward host:port" rule).
type ForwardTarget struct {
	Host string
	Port uint16
}

// Listener owns one net.Listener and the goroutine accepting on it.
type Listener struct {
	name string
	ln   net.Listener
	out  chan<- Accepted
	fwd  *ForwardTarget
	quit chan struct{}
}

// Listen opens addr and starts its accept loop, posting every accepted
// connection to out. A nil fwd marks this as the SOCKS5 listener.
func Listen(name, addr string, fwd *ForwardTarget, out chan<- Accepted) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{name: name, ln: ln, out: out, fwd: fwd, quit: make(chan struct{})}
	go l.acceptLoop()
	return l, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return
			default:
			}
			logrus.WithError(err).WithField("listener", l.name).Warn("listener: accept failed")
			return
		}
		select {
		case l.out <- Accepted{Conn: conn, Forward: l.fwd}:
		case <-l.quit:
			conn.Close()
			return
		}
	}
}

// Close stops the accept loop and closes the underlying listener.
func (l *Listener) Close() error {
	close(l.quit)
	return l.ln.Close()
}
