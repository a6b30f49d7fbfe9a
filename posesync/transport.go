package posesync

import (
	"context"
	"net"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

const (
	maxDatagramSize     = 1500
	defaultReadInterval = 100 * time.Millisecond
)

// Transport is an unacknowledged message channel to the remote renderer.
type Transport interface {
	// Send sends a message. Delivery is not guaranteed.
	Send(msg []byte) error

	// Receive blocks until a message arrives or the context is done.
	Receive(ctx context.Context) ([]byte, error)

	Close() error
}

// UDPTransport is a Transport sending one message per datagram.
type UDPTransport struct {
	// The interval at which a blocked Receive checks its context.
	ReadInterval time.Duration

	conn *net.UDPConn
	buf  []byte
}

// DialUDP creates a UDP transport connected to the given remote address.
func DialUDP(remoteAddr string) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, errors.New("resolving pose address failed").
			WithTag("address", remoteAddr).
			Wrap(err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, errors.New("dialing pose address failed").
			WithTag("address", remoteAddr).
			Wrap(err)
	}
	return NewUDPTransport(conn), nil
}

func NewUDPTransport(conn *net.UDPConn) *UDPTransport {
	return &UDPTransport{
		ReadInterval: defaultReadInterval,
		conn:         conn,
		buf:          make([]byte, maxDatagramSize),
	}
}

func (t *UDPTransport) Send(msg []byte) error {
	if _, err := t.conn.Write(msg); err != nil {
		return errors.New("sending pose datagram failed").
			WithType(ErrTypePacketLoss).
			Wrap(err)
	}
	return nil
}

// Receive returns the next datagram. It must not be called concurrently.
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(t.ReadInterval)); err != nil {
			return nil, errors.New("setting read deadline failed").Wrap(err)
		}

		n, err := t.conn.Read(t.buf)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			continue
		}
		if err != nil {
			return nil, errors.New("receiving pose datagram failed").Wrap(err)
		}

		msg := make([]byte, n)
		copy(msg, t.buf[:n])
		return msg, nil
	}
}

func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}
