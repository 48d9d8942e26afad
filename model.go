package paradox

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

type PanelType uint8

const (
	PanelUnknown PanelType = iota
	PanelEVO48
	PanelEVO96
	PanelEVO192
	PanelEVOHD
)

func (p PanelType) String() string {
	switch p {
	case PanelEVO48:
		return "EVO48"
	case PanelEVO96:
		return "EVO96"
	case PanelEVO192:
		return "EVO192"
	case PanelEVOHD:
		return "EVOHD"
	default:
		return "Unknown"
	}
}

// Zones is the number of zones the panel supports.
func (p PanelType) Zones() int {
	switch p {
	case PanelEVO48:
		return 48
	case PanelEVO96:
		return 96
	default:
		return MaxZones
	}
}

const (
	MaxZones   = 192
	Partitions = 8
)

func panelTypeFor(productID byte) PanelType {
	switch productID {
	case 0x03:
		return PanelEVO48
	case 0x04:
		return PanelEVO96
	case 0x05:
		return PanelEVO192
	case 0x07:
		return PanelEVOHD
	default:
		return PanelUnknown
	}
}

// PanelInfo is what the panel tells about itself during the handshake.
type PanelInfo struct {
	Type         PanelType
	ProductID    byte
	Version      string
	SerialNumber string
}

func panelInfoFrom(initMessage []byte, l InitLayout) PanelInfo {
	info := PanelInfo{
		ProductID: initMessage[l.ProductID],
		Type:      panelTypeFor(initMessage[l.ProductID]),
		Version: fmt.Sprintf(
			"%d.%d.%d",
			int(initMessage[l.SoftwareVersion]),
			int(initMessage[l.SoftwareRevision]),
			int(initMessage[l.SoftwareID]),
		),
		SerialNumber: strings.ToUpper(hex.EncodeToString(
			initMessage[l.SerialNumber : l.SerialNumber+serialNumberSize],
		)),
	}
	return info
}

// ZoneStateFlags are the opened/tampered/low battery bitfields, one bit per
// zone, zone 1 being bit 0 of the first byte.
type ZoneStateFlags struct {
	Opened     []byte
	Tampered   []byte
	LowBattery []byte
}

type Zone struct {
	Number     int
	Label      string
	Open       bool
	Tamper     bool
	LowBattery bool
}

// Zone decodes the flags of zone n (1 based).
func (f ZoneStateFlags) Zone(n int) Zone {
	return Zone{
		Number:     n,
		Open:       bitSet(f.Opened, n-1),
		Tamper:     bitSet(f.Tampered, n-1),
		LowBattery: bitSet(f.LowBattery, n-1),
	}
}

// Zones decodes the first count zones.
func (f ZoneStateFlags) Zones(count int) []Zone {
	zones := make([]Zone, count)
	for i := range zones {
		zones[i] = f.Zone(i + 1)
	}
	return zones
}

func bitSet(buf []byte, bit int) bool {
	if bit < 0 || bit/8 >= len(buf) {
		return false
	}
	return buf[bit/8]&(1<<(bit%8)) > 0
}

type State byte

const (
	StateDisarmed State = iota
	StateArmed
	StateStayArmed
	StateInstantArmed
	StateInAlarm
)

func (s State) String() string {
	switch s {
	case StateDisarmed:
		return "Disarmed"
	case StateArmed:
		return "Armed"
	case StateStayArmed:
		return "Stay Armed"
	case StateInstantArmed:
		return "Instant Armed"
	case StateInAlarm:
		return "In Alarm"
	default:
		return "Unknown"
	}
}

type Partition struct {
	Number  int
	Label   string
	Armed   bool
	Away    bool
	Stay    bool
	NoEntry bool
	Alarm   bool
	Silent  bool
	Audible bool
	Fire    bool

	ReadyToArm     bool
	ExitDelay      bool
	EntryDelay     bool
	Trouble        bool
	AlarmInMemory  bool
	ZoneBypassed   bool
	ZoneTamper     bool
	ZoneLowBattery bool
	AllZonesClosed bool
}

// State summarizes the partition flags.
func (p Partition) State() State {
	switch {
	case p.Alarm:
		return StateInAlarm
	case p.Stay:
		return StateStayArmed
	case p.NoEntry:
		return StateInstantArmed
	case p.Armed:
		return StateArmed
	default:
		return StateDisarmed
	}
}

func partitionFromFlags(n int, flags []byte) (Partition, error) {
	if len(flags) < 4 {
		return Partition{}, fmt.Errorf("%w: partition %d has %d flag bytes", ErrMalformedResponse, n, len(flags))
	}
	return Partition{
		Number:  n,
		Armed:   flags[0]&0x01 > 0,
		Away:    flags[0]&0x02 > 0,
		Stay:    flags[0]&0x04 > 0,
		NoEntry: flags[0]&0x08 > 0,
		Alarm:   flags[0]&0x10 > 0,
		Silent:  flags[0]&0x20 > 0,
		Audible: flags[0]&0x40 > 0,
		Fire:    flags[0]&0x80 > 0,

		ReadyToArm:     flags[1]&0x01 > 0,
		ExitDelay:      flags[1]&0x02 > 0,
		EntryDelay:     flags[1]&0x04 > 0,
		Trouble:        flags[1]&0x08 > 0,
		AlarmInMemory:  flags[1]&0x10 > 0,
		ZoneBypassed:   flags[1]&0x20 > 0,
		ZoneTamper:     flags[2]&0x10 > 0,
		ZoneLowBattery: flags[2]&0x20 > 0,
		AllZonesClosed: flags[3]&0x10 > 0,
	}, nil
}

// decodeLabel trims the NUL/space padding of a label field.
func decodeLabel(b []byte) string {
	if i := bytes.IndexByte(b, 0x00); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
