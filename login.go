package paradox

import (
	"errors"
	"fmt"
	"time"
)

// LoginState is a step of the IP150 + panel handshake.
type LoginState uint8

const (
	LoginDisconnected LoginState = iota
	LoginIP150Sent
	LoginIP150Ack
	LoginStep2Sent
	LoginStep3Sent
	LoginUIPInitSent
	LoginSerialInitAckReceived
	LoginFinalAuthSent
	LoginAuthenticated
	LoginFailed
)

func (s LoginState) String() string {
	switch s {
	case LoginDisconnected:
		return "Disconnected"
	case LoginIP150Sent:
		return "IP150LoginSent"
	case LoginIP150Ack:
		return "IP150Ack"
	case LoginStep2Sent:
		return "Step2Sent"
	case LoginStep3Sent:
		return "Step3Sent"
	case LoginUIPInitSent:
		return "UIPInitSent"
	case LoginSerialInitAckReceived:
		return "SerialInitAckReceived"
	case LoginFinalAuthSent:
		return "FinalAuthSent"
	case LoginAuthenticated:
		return "Authenticated"
	case LoginFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Done reports whether s is terminal.
func (s LoginState) Done() bool {
	return s == LoginAuthenticated || s == LoginFailed
}

// payload sent with SERIAL_CONNECTION_INITIATED.
var serialConnectionPayload = []byte{0x0A, 0x50, 0x08, 0x00, 0x00, 0x01, 0x00, 0x00, 0x59}

// IP150 login reply codes, header byte 4 and payload byte 0.
const (
	ip150Accepted        = 0x38
	ip150AcceptedAlt     = 0x39
	ip150BadPassword     = 0x30
	ip150Busy            = 0x78
	ip150BusyAlt         = 0x79
	ip150PayloadOK       = 0x00
	ip150PayloadPassword = 0x01
	ip150PayloadInUse    = 0x02
	ip150PayloadInUseAlt = 0x04
)

// loginSequence runs the handshake on a transport. Each call to next moves
// one step forward: a send, a receive, or a send and its reply. Out of
// LoginUIPInitSent it does two round trips, the serial connection request
// and the init probe.
type loginSequence struct {
	t        Transport
	password string
	pcBCD    []byte
	layout   InitLayout

	uipInit     []byte
	initMessage []byte
}

// next runs the transition out of state. It returns the next state and, for
// the steps that capture panel data, the captured bytes.
func (s *loginSequence) next(state LoginState) (LoginState, []byte, error) {
	switch state {
	case LoginDisconnected:
		if err := s.t.Send(encodeLogin(s.password)); err != nil {
			return LoginFailed, nil, err
		}
		return LoginIP150Sent, nil, nil

	case LoginIP150Sent:
		resp, err := s.t.Receive()
		if err != nil {
			return LoginFailed, nil, err
		}
		if err := checkIP150Login(resp); err != nil {
			return LoginFailed, nil, err
		}
		return LoginIP150Ack, nil, nil

	case LoginIP150Ack:
		if err := s.exchange(encodeCommand(cmdLoginCommand1)); err != nil {
			return LoginFailed, nil, err
		}
		return LoginStep2Sent, nil, nil

	case LoginStep2Sent:
		if err := s.exchange(encodeCommand(cmdLoginCommand2)); err != nil {
			return LoginFailed, nil, err
		}
		return LoginStep3Sent, nil, nil

	case LoginStep3Sent:
		if err := s.t.Send(encodeSerial(serialProbe(0x72), unknown0Default)); err != nil {
			return LoginFailed, nil, err
		}
		resp, err := s.t.Receive()
		if err != nil {
			return LoginFailed, nil, err
		}
		s.uipInit = resp
		return LoginUIPInitSent, resp, nil

	case LoginUIPInitSent:
		if err := s.exchange(encodePacket(
			serialConnectionPayload,
			MessageIPRequest,
			cmdSerialConnectionInitiated,
			unknown0Default,
		)); err != nil {
			return LoginFailed, nil, err
		}
		if err := s.t.Send(encodeSerial(serialProbe(0x5F, 0x20), unknown0Default)); err != nil {
			return LoginFailed, nil, err
		}
		resp, err := s.t.Receive()
		if err != nil {
			return LoginFailed, nil, err
		}
		if len(resp) <= headerSize {
			return LoginFailed, nil, fmt.Errorf("%w: empty initialization message", ErrMalformedResponse)
		}
		s.initMessage = resp[headerSize:]
		return LoginSerialInitAckReceived, s.initMessage, nil

	case LoginSerialInitAckReceived:
		req, err := generateInitializationRequest(s.initMessage, s.pcBCD, s.layout)
		if err != nil {
			return LoginFailed, nil, err
		}
		if err := s.t.Send(encodeSerial(req, unknown0ReadTag)); err != nil {
			return LoginFailed, nil, err
		}
		return LoginFinalAuthSent, nil, nil

	case LoginFinalAuthSent:
		resp, err := s.t.Receive()
		if err != nil {
			return LoginFailed, nil, err
		}
		if len(resp) <= headerSize || resp[headerSize]>>4 != replyInitialize {
			return LoginFailed, nil, fmt.Errorf(
				"%w: panel rejected the initialization request: % 02X",
				ErrAuthentication, resp,
			)
		}
		return LoginAuthenticated, nil, nil

	default:
		return LoginFailed, nil, fmt.Errorf("no transition out of %s", state)
	}
}

// exchange sends a packet and discards its reply.
func (s *loginSequence) exchange(b []byte) error {
	if err := s.t.Send(b); err != nil {
		return err
	}
	_, err := s.t.Receive()
	return err
}

// LoginError is returned by a failed login. Step is the state the sequence
// was in when it failed.
type LoginError struct {
	Step LoginState
	Err  error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed at %s: %v", e.Step, e.Err)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// run drives the sequence until a terminal state. On failure it returns
// LoginFailed and a *LoginError.
func (s *loginSequence) run() (LoginState, error) {
	state := LoginDisconnected
	for !state.Done() {
		log.Debug("login", "state", state)
		next, _, err := s.next(state)
		if err != nil {
			return LoginFailed, &LoginError{Step: state, Err: err}
		}
		state = next
	}
	return state, nil
}

func checkIP150Login(resp []byte) error {
	if len(resp) <= headerSize {
		return fmt.Errorf("%w: short ip150 login reply: % 02X", ErrMalformedResponse, resp)
	}
	switch resp[headerFlagsIndex] {
	case ip150Accepted, ip150AcceptedAlt:
		switch resp[headerSize] {
		case ip150PayloadOK:
			return nil
		case ip150PayloadPassword:
			return ErrInvalidPassword
		case ip150PayloadInUse, ip150PayloadInUseAlt:
			return ErrAlreadyConnected
		default:
			return fmt.Errorf("%w: unexpected ip150 login result 0x%02X", ErrAuthentication, resp[headerSize])
		}
	case ip150BadPassword:
		return ErrInvalidPassword
	case ip150Busy, ip150BusyAlt:
		return ErrModuleBusy
	default:
		return fmt.Errorf("%w: unexpected ip150 login reply 0x%02X", ErrAuthentication, resp[headerFlagsIndex])
	}
}

// drainAfterLogin swallows the packet the panel pushes right after logon.
func drainAfterLogin(t Transport, delay time.Duration) {
	time.Sleep(delay)
	if _, err := t.Receive(); err != nil && !errors.Is(err, ErrTimeout) {
		log.Warn("could not drain post login packet", "err", err)
	}
}
