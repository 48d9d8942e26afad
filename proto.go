package paradox

import (
	"fmt"
	"strings"
)

const (
	headerSize    = 16
	startOfHeader = 0xAA
	padByte       = 0xEE

	// header byte 1 holds the payload length.
	maxPayloadLength = 0xFF

	// serial messages exchanged during the handshake have a fixed size,
	// checksum included.
	serialMessageSize = 37
)

// MessageType is the header byte 3 selector.
type MessageType byte

const (
	MessageIPResponse             MessageType = 0x01
	MessageSerialPassthruResponse MessageType = 0x02
	MessageSerialPassthruRequest  MessageType = 0x03
	MessageIPRequest              MessageType = 0x04
)

func (m MessageType) String() string {
	switch m {
	case MessageIPResponse:
		return "IPResponse"
	case MessageSerialPassthruResponse:
		return "SerialPassthruResponse"
	case MessageSerialPassthruRequest:
		return "SerialPassthruRequest"
	case MessageIPRequest:
		return "IPRequest"
	default:
		return fmt.Sprintf("MessageType(0x%02X)", byte(m))
	}
}

const (
	cmdConnectToIPModule         = 0xF0
	cmdLoginCommand1             = 0xF2
	cmdLoginCommand2             = 0xF3
	cmdSerialConnectionInitiated = 0xF8
	cmdSerial                    = 0x00
)

const (
	flagsRequest     = 0x08
	unknown0Default  = 0x0A
	unknown0ReadTag  = 0x14
	headerFlagsIndex = 4
)

// serial command nibbles found at offset 16 of panel responses.
const (
	replyInitialize = 0x1
	replyRead       = 0x5
)

// Packet is a single IP150 frame.
type Packet struct {
	Length      byte
	Command     byte
	MessageType MessageType
	Unknown0    byte
	Flags       byte
	Payload     []byte
}

// Bytes returns the payload with the header prepended.
func (p Packet) Bytes() []byte {
	return encodePacket(p.Payload, p.MessageType, p.Command, p.Unknown0)
}

// SerialCommand is the high nibble of the first payload byte.
func (p Packet) SerialCommand() byte {
	if len(p.Payload) == 0 {
		return 0
	}
	return p.Payload[0] >> 4
}

func encodePacket(payload []byte, mt MessageType, cmd, unknown0 byte) []byte {
	header := []byte{
		startOfHeader,
		byte(len(payload)),
		0x00,
		byte(mt),
		flagsRequest,
		cmd,
		0x00,
		unknown0,
		0x00,
		padByte, padByte, padByte, padByte, padByte, padByte, padByte,
	}
	buf := append(header, payload...)
	for len(buf)%16 != 0 {
		buf = append(buf, padByte)
	}
	return buf
}

func encodeLogin(ip150Password string) []byte {
	return encodePacket([]byte(ip150Password), MessageIPRequest, cmdConnectToIPModule, unknown0Default)
}

func encodeCommand(cmd byte) []byte {
	return encodePacket(nil, MessageIPRequest, cmd, unknown0Default)
}

// encodeSerial frames a message that the IP150 forwards to the panel.
func encodeSerial(msg []byte, unknown0 byte) []byte {
	return encodePacket(msg, MessageSerialPassthruRequest, cmdSerial, unknown0)
}

// parsePacket decodes the first packet of buf, header included. The payload
// is trimmed to the length the header declares.
func parsePacket(buf []byte) (Packet, error) {
	if len(buf) < headerSize {
		return Packet{}, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformedResponse, len(buf))
	}
	length := int(buf[1])
	if headerSize+length > len(buf) {
		return Packet{}, fmt.Errorf(
			"%w: header declares %d bytes, only %d available",
			ErrMalformedResponse, length, len(buf)-headerSize,
		)
	}
	return Packet{
		Length:      buf[1],
		MessageType: MessageType(buf[3]),
		Flags:       buf[headerFlagsIndex],
		Command:     buf[5],
		Unknown0:    buf[7],
		Payload:     buf[headerSize : headerSize+length],
	}, nil
}

// decodePayload strips the header of an encoded packet.
func decodePayload(buf []byte) ([]byte, error) {
	p, err := parsePacket(buf)
	if err != nil {
		return nil, err
	}
	return p.Payload, nil
}

func checksum(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum += b
	}
	return sum
}

// withChecksum writes the checksum of msg[:len(msg)-1] into the last byte.
func withChecksum(msg []byte) []byte {
	msg[len(msg)-1] = checksum(msg[:len(msg)-1])
	return msg
}

func serialProbe(head ...byte) []byte {
	msg := make([]byte, serialMessageSize)
	copy(msg, head)
	return withChecksum(msg)
}

// encodeBCD packs a string of decimal digits two per byte, e.g. "0987" is
// {0x09, 0x87}.
func encodeBCD(digits string) ([]byte, error) {
	if len(digits)%2 != 0 {
		return nil, fmt.Errorf("bcd: odd number of digits in %q", digits)
	}
	buf := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		hi, lo := digits[i], digits[i+1]
		if !isDigit(hi) || !isDigit(lo) {
			return nil, fmt.Errorf("bcd: %q is not numeric", digits)
		}
		buf = append(buf, (hi-'0')<<4|(lo-'0'))
	}
	return buf, nil
}

func decodeBCD(buf []byte) (string, error) {
	var sb strings.Builder
	for _, b := range buf {
		hi, lo := b>>4, b&0x0F
		if hi > 9 || lo > 9 {
			return "", fmt.Errorf("bcd: invalid byte 0x%02X", b)
		}
		sb.WriteByte('0' + hi)
		sb.WriteByte('0' + lo)
	}
	return sb.String(), nil
}

// encodePCPassword validates and encodes the 4 digit installer PC password.
func encodePCPassword(pwd string) ([]byte, error) {
	if len(pwd) != 4 {
		return nil, fmt.Errorf("pc password must have 4 digits, got %d", len(pwd))
	}
	return encodeBCD(pwd)
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
