package paradox

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/caarlos0/sync/erronce"
)

const (
	DefaultPort    = "10000"
	DefaultTimeout = 3 * time.Second

	// ReconnectDelay is how long to wait after closing a session before
	// dialing again. The panel only accepts one session and rejects a new one
	// while the old slot is still held.
	ReconnectDelay = time.Second

	receiveBufferSize = 256
)

// Transport is a framed request/response channel to the IP150.
type Transport interface {
	// Send writes a fully framed packet.
	Send(b []byte) error
	// Receive returns the first packet of the next read, header included.
	Receive() ([]byte, error)
	// ReceiveAll returns every byte of the next read, which may hold several
	// concatenated packets.
	ReceiveAll() ([]byte, error)
	Close() error
}

// TCPTransport owns one TCP connection to an IP150 module.
type TCPTransport struct {
	conn    net.Conn
	timeout time.Duration
	closed  erronce.ErrOnce
}

var _ Transport = &TCPTransport{}

// Dial connects to the IP150 at host:port. timeout is used both for the dial
// and for every receive.
func Dial(host, port string, timeout time.Duration) (*TCPTransport, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := net.JoinHostPort(host, port)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: could not connect to %s: %w", ErrConnection, addr, err)
	}
	log.Debug("connected", "addr", addr)
	return &TCPTransport{
		conn:    conn,
		timeout: timeout,
	}, nil
}

func (t *TCPTransport) Send(b []byte) error {
	log.Debug("tx", "bytes", fmt.Sprintf("% 02X", b))
	if _, err := t.conn.Write(b); err != nil {
		return fmt.Errorf("%w: could not write: %w", ErrConnection, err)
	}
	return nil
}

func (t *TCPTransport) Receive() ([]byte, error) {
	buf, err := t.ReceiveAll()
	if err != nil {
		return nil, err
	}
	return firstPacket(buf), nil
}

func (t *TCPTransport) ReceiveAll() ([]byte, error) {
	buf := make([]byte, receiveBufferSize)
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return nil, fmt.Errorf("%w: could not set read deadline: %w", ErrConnection, err)
	}
	// the read never outlives this call, so bytes arriving after a timeout
	// are left for the next receive.
	n, err := t.conn.Read(buf)
	if err != nil {
		return nil, t.classify(err)
	}
	log.Debug("rx", "bytes", fmt.Sprintf("% 02X", buf[:n]))
	return buf[:n], nil
}

func (t *TCPTransport) classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: nothing received after %s", ErrTimeout, t.timeout)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("%w: connection closed by peer: %w", ErrConnection, err)
	default:
		return fmt.Errorf("%w: could not read: %w", ErrConnection, err)
	}
}

// Close closes the socket. Calling it more than once is fine.
func (t *TCPTransport) Close() error {
	return t.closed.Do(func() error {
		if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("could not close connection: %w", err)
		}
		return nil
	})
}

// firstPacket trims buf to the packet its header declares. Short or
// headerless buffers are returned unchanged.
func firstPacket(buf []byte) []byte {
	if len(buf) < headerSize {
		return buf
	}
	end := headerSize + int(buf[1])
	if end > len(buf) {
		return buf
	}
	return buf[:end]
}
