package paradox

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTransport replays queued reads. When respond is set, every sent
// packet may queue more reads. When err is set, every receive fails with it.
type fakeTransport struct {
	sent     [][]byte
	reads    [][]byte
	respond  func(sent []byte) [][]byte
	receives int
	closed   int
	err      error
}

func (f *fakeTransport) Send(b []byte) error {
	f.sent = append(f.sent, append([]byte{}, b...))
	if f.respond != nil {
		f.reads = append(f.reads, f.respond(b)...)
	}
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	buf, err := f.ReceiveAll()
	if err != nil {
		return nil, err
	}
	return firstPacket(buf), nil
}

func (f *fakeTransport) ReceiveAll() ([]byte, error) {
	f.receives++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.reads) == 0 {
		return nil, fmt.Errorf("%w: fake has nothing queued", ErrTimeout)
	}
	buf := f.reads[0]
	f.reads = f.reads[1:]
	return buf, nil
}

func (f *fakeTransport) Close() error {
	f.closed++
	return nil
}

func (f *fakeTransport) queue(bufs ...[]byte) {
	f.reads = append(f.reads, bufs...)
}

func serialReply(msg []byte) []byte {
	return encodePacket(msg, MessageSerialPassthruResponse, cmdSerial, 0x00)
}

func readReply(control byte, address int, data []byte) []byte {
	msg := []byte{0x52, byte(7 + len(data)), control, 0x00, byte(address >> 8), byte(address)}
	msg = append(msg, data...)
	msg = append(msg, 0x00)
	return serialReply(withChecksum(msg))
}

// readAddress extracts control and address from an encoded read request.
func readAddress(t *testing.T, b []byte) (byte, int) {
	t.Helper()
	payload, err := decodePayload(b)
	require.NoError(t, err)
	require.Len(t, payload, 8)
	require.Equal(t, byte(cmdReadMemory), payload[0])
	return payload[2], int(payload[4])<<8 | int(payload[5])
}

func TestFirstPacket(t *testing.T) {
	t.Run("trims to declared length", func(t *testing.T) {
		buf := encodePacket([]byte{1, 2, 3}, MessageIPResponse, 0, 0)
		require.Len(t, buf, 32)
		require.Equal(t, buf[:19], firstPacket(buf))
	})
	t.Run("short buffer", func(t *testing.T) {
		require.Equal(t, []byte{0xAA, 0x01}, firstPacket([]byte{0xAA, 0x01}))
	})
	t.Run("declared length too big", func(t *testing.T) {
		buf := encodePacket([]byte{1, 2, 3}, MessageIPResponse, 0, 0)[:18]
		require.Equal(t, buf, firstPacket(buf))
	})
}

func TestTCPTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	reply := append(
		encodePacket([]byte{0x00}, MessageIPResponse, cmdConnectToIPModule, 0),
		encodePacket([]byte{0x01, 0x02}, MessageIPResponse, 0, 0)...,
	)
	done := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		done <- buf[:n]
		_, _ = conn.Write(reply)
		// keep the connection open so the next read times out.
		time.Sleep(time.Second)
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	tr, err := Dial(host, port, 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	login := encodeLogin("paradox")
	require.NoError(t, tr.Send(login))
	require.Equal(t, login, <-done)

	got, err := tr.Receive()
	require.NoError(t, err)
	require.Equal(t, reply[:headerSize+1], got)

	_, err = tr.Receive()
	require.ErrorIs(t, err, ErrTimeout)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	_, err = Dial(host, port, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrConnection)
	require.True(t, IsSessionFatal(err))
}

func TestTCPTransportReceiveAfterTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	const rounds = 5
	reply := encodePacket([]byte{0x01, 0x02}, MessageIPResponse, 0, 0)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for i := 0; i < rounds; i++ {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			// answer only after the client's first receive gave up.
			time.Sleep(150 * time.Millisecond)
			if _, err := conn.Write(reply); err != nil {
				return
			}
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	tr, err := Dial(host, port, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	for i := 0; i < rounds; i++ {
		require.NoError(t, tr.Send(encodeCommand(cmdConnectToIPModule)))
		_, err := tr.Receive()
		require.ErrorIs(t, err, ErrTimeout, "round %d", i)
		require.False(t, IsSessionFatal(err))

		got, err := tr.Receive()
		require.NoError(t, err, "round %d", i)
		require.Equal(t, reply[:headerSize+2], got)
	}
}
