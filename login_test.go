package paradox

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ip150LoginReply(flags, result byte) []byte {
	buf := encodePacket([]byte{result}, MessageIPResponse, cmdConnectToIPModule, 0)
	buf[headerFlagsIndex] = flags
	return buf
}

// testInitMessage is a panel initialization broadcast of an EVO192.
func testInitMessage() []byte {
	msg := make([]byte, serialMessageSize)
	msg[0] = 0x10
	msg[1] = 0x00               // module address
	msg[4] = 0x05               // product id
	msg[5] = 0x07               // software version
	msg[6] = 0x40               // software revision
	msg[7] = 0x02               // software id
	msg[8], msg[9] = 0x0A, 0x0B // module id
	copy(msg[17:], []byte{0xCA, 0xFE, 0xBA, 0xBE})
	for i := 21; i < 30; i++ {
		msg[i] = byte(i)
	}
	return withChecksum(msg)
}

func queueSuccessfulLogin(f *fakeTransport) {
	f.queue(
		ip150LoginReply(ip150Accepted, ip150PayloadOK),
		encodeCommand(cmdLoginCommand1),
		encodeCommand(cmdLoginCommand2),
		serialReply(serialProbe(0x72, 0x01)),
		encodeCommand(cmdSerialConnectionInitiated),
		serialReply(testInitMessage()),
		serialReply(serialProbe(0x10)),
	)
}

func newTestSequence(f *fakeTransport) *loginSequence {
	return &loginSequence{
		t:        f,
		password: "paradox",
		pcBCD:    []byte{0x09, 0x87},
		layout:   DefaultProtocolMap().Init,
	}
}

func TestLoginSequence(t *testing.T) {
	t.Run("authenticated", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		state, err := newTestSequence(f).run()
		require.NoError(t, err)
		require.Equal(t, LoginAuthenticated, state)
		require.Len(t, f.sent, 7)

		final, err := decodePayload(f.sent[6])
		require.NoError(t, err)
		require.Len(t, final, serialMessageSize)
		require.Equal(t, byte(unknown0ReadTag), f.sent[6][7])
		require.Equal(t, []byte{0x09, 0x87}, final[reqPCPassword:reqPCPassword+2])
	})

	t.Run("alternate accept code", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		f.reads[0] = ip150LoginReply(ip150AcceptedAlt, ip150PayloadOK)
		state, err := newTestSequence(f).run()
		require.NoError(t, err)
		require.Equal(t, LoginAuthenticated, state)
	})

	t.Run("bad password stops at step 1", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		f.reads[0] = ip150LoginReply(ip150BadPassword, 0x00)
		state, err := newTestSequence(f).run()
		require.ErrorIs(t, err, ErrInvalidPassword)
		require.ErrorIs(t, err, ErrAuthentication)
		require.Equal(t, LoginFailed, state)
		requireFailedAt(t, err, LoginIP150Sent)
		require.Len(t, f.sent, 1)
	})

	for name, tt := range map[string]struct {
		flags, result byte
		err           error
	}{
		"busy":              {ip150Busy, 0x00, ErrModuleBusy},
		"busy alt":          {ip150BusyAlt, 0x00, ErrModuleBusy},
		"payload password":  {ip150Accepted, ip150PayloadPassword, ErrInvalidPassword},
		"already connected": {ip150Accepted, ip150PayloadInUse, ErrAlreadyConnected},
		"connected alt":     {ip150AcceptedAlt, ip150PayloadInUseAlt, ErrAlreadyConnected},
		"unknown":           {0x11, 0x00, ErrAuthentication},
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeTransport{}
			f.queue(ip150LoginReply(tt.flags, tt.result))
			_, err := newTestSequence(f).run()
			require.ErrorIs(t, err, tt.err)
			require.Len(t, f.sent, 1)
		})
	}

	t.Run("final rejection", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		f.reads[6] = serialReply(serialProbe(0x70))
		state, err := newTestSequence(f).run()
		require.ErrorIs(t, err, ErrAuthentication)
		require.Equal(t, LoginFailed, state)
		requireFailedAt(t, err, LoginFinalAuthSent)
	})

	t.Run("timeout", func(t *testing.T) {
		f := &fakeTransport{}
		state, err := newTestSequence(f).run()
		require.ErrorIs(t, err, ErrTimeout)
		require.Equal(t, LoginFailed, state)
		requireFailedAt(t, err, LoginIP150Sent)
	})

	t.Run("serial connection and init request share a step", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		f.reads = f.reads[:5]
		state, err := newTestSequence(f).run()
		require.ErrorIs(t, err, ErrTimeout)
		require.Equal(t, LoginFailed, state)
		requireFailedAt(t, err, LoginUIPInitSent)
		require.Len(t, f.sent, 6)
	})
}

func requireFailedAt(t *testing.T, err error, step LoginState) {
	t.Helper()
	var lerr *LoginError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, step, lerr.Step)
	require.EqualError(t, err, fmt.Sprintf("login failed at %s: %v", step, lerr.Err))
}

func TestLoginTransitions(t *testing.T) {
	t.Run("disconnected sends the ip150 login", func(t *testing.T) {
		f := &fakeTransport{}
		next, captured, err := newTestSequence(f).next(LoginDisconnected)
		require.NoError(t, err)
		require.Nil(t, captured)
		require.Equal(t, LoginIP150Sent, next)
		require.Equal(t, encodeLogin("paradox"), f.sent[0])
		require.Zero(t, f.receives)
	})

	t.Run("step 2 and 3 discard replies", func(t *testing.T) {
		f := &fakeTransport{}
		f.queue(encodeCommand(0x00), encodeCommand(0x00))
		s := newTestSequence(f)
		next, _, err := s.next(LoginIP150Ack)
		require.NoError(t, err)
		require.Equal(t, LoginStep2Sent, next)
		next, _, err = s.next(next)
		require.NoError(t, err)
		require.Equal(t, LoginStep3Sent, next)
		require.Equal(t, byte(cmdLoginCommand1), f.sent[0][5])
		require.Equal(t, byte(cmdLoginCommand2), f.sent[1][5])
	})

	t.Run("uip init captures panel info", func(t *testing.T) {
		f := &fakeTransport{}
		reply := serialReply(serialProbe(0x72, 0x01))
		f.queue(reply)
		s := newTestSequence(f)
		next, captured, err := s.next(LoginStep3Sent)
		require.NoError(t, err)
		require.Equal(t, LoginUIPInitSent, next)
		require.Equal(t, firstPacket(reply), captured)

		probe, err := decodePayload(f.sent[0])
		require.NoError(t, err)
		require.Len(t, probe, serialMessageSize)
		require.Equal(t, byte(0x72), probe[0])
	})

	t.Run("serial init captures the initialization message", func(t *testing.T) {
		f := &fakeTransport{}
		f.queue(encodeCommand(cmdSerialConnectionInitiated), serialReply(testInitMessage()))
		s := newTestSequence(f)
		next, captured, err := s.next(LoginUIPInitSent)
		require.NoError(t, err)
		require.Equal(t, LoginSerialInitAckReceived, next)
		require.Equal(t, testInitMessage(), captured)

		serialInit, err := decodePayload(f.sent[0])
		require.NoError(t, err)
		require.Equal(t, serialConnectionPayload, serialInit)
		require.Equal(t, byte(cmdSerialConnectionInitiated), f.sent[0][5])

		probe, err := decodePayload(f.sent[1])
		require.NoError(t, err)
		require.Equal(t, []byte{0x5F, 0x20}, probe[:2])
	})

	t.Run("final auth accepted", func(t *testing.T) {
		f := &fakeTransport{}
		f.queue(serialReply([]byte{0x1F, 0x00}))
		next, _, err := newTestSequence(f).next(LoginFinalAuthSent)
		require.NoError(t, err)
		require.Equal(t, LoginAuthenticated, next)
	})

	t.Run("terminal states have no transition", func(t *testing.T) {
		for _, state := range []LoginState{LoginAuthenticated, LoginFailed} {
			require.True(t, state.Done())
			_, _, err := newTestSequence(&fakeTransport{}).next(state)
			require.Error(t, err)
		}
	})
}

func TestClientLogin(t *testing.T) {
	t.Run("success drains the post login packet", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		f.queue(serialReply([]byte{0xE2, 0x00}))
		cli, err := NewWithTransport(f, "paradox", "0987", Options{PostLoginDelay: time.Millisecond})
		require.NoError(t, err)
		require.NoError(t, cli.Login())
		require.Equal(t, LoginAuthenticated, cli.State())
		require.Empty(t, f.reads)
		require.Equal(t, PanelInfo{
			Type:         PanelEVO192,
			ProductID:    0x05,
			Version:      "7.64.2",
			SerialNumber: "CAFEBABE",
		}, cli.Panel())
		require.NotEmpty(t, cli.PanelInfoBytes())
	})

	t.Run("nothing to drain", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		cli, err := NewWithTransport(f, "paradox", "0987", Options{PostLoginDelay: time.Millisecond})
		require.NoError(t, err)
		require.NoError(t, cli.Login())
		require.Equal(t, LoginAuthenticated, cli.State())
	})

	t.Run("final rejection logs out", func(t *testing.T) {
		f := &fakeTransport{}
		queueSuccessfulLogin(f)
		f.reads[6] = serialReply(serialProbe(0x70))
		cli, err := NewWithTransport(f, "paradox", "0987", Options{})
		require.NoError(t, err)
		require.ErrorIs(t, cli.Login(), ErrAuthentication)
		require.Equal(t, LoginFailed, cli.State())
		require.Len(t, f.sent, 8)
		logout, err := decodePayload(f.sent[7])
		require.NoError(t, err)
		require.Equal(t, byte(0x70), logout[0])
	})

	t.Run("bad password does not log out", func(t *testing.T) {
		f := &fakeTransport{}
		f.queue(ip150LoginReply(ip150BadPassword, 0x00))
		cli, err := NewWithTransport(f, "paradox", "0987", Options{})
		require.NoError(t, err)
		require.ErrorIs(t, cli.Login(), ErrInvalidPassword)
		require.Len(t, f.sent, 1)
	})

	t.Run("invalid pc password", func(t *testing.T) {
		_, err := NewWithTransport(&fakeTransport{}, "paradox", "12", Options{})
		require.Error(t, err)
	})
}

func TestLoginStateString(t *testing.T) {
	require.Equal(t, "Authenticated", LoginAuthenticated.String())
	require.Equal(t, "IP150LoginSent", LoginIP150Sent.String())
	require.Equal(t, "Unknown", LoginState(42).String())
}
