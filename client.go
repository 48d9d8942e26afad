package paradox

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "paradox",
})

// SetLogLevel changes the verbosity of the protocol logs.
func SetLogLevel(level logp.Level) {
	log.SetLevel(level)
}

const (
	DefaultRetries        = 3
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultPostLoginDelay = 300 * time.Millisecond

	maxReadLength = 64
)

const (
	cmdReadMemory   = 0x50
	readRequestSize = 0x08
	controlEEPROM   = 0x00
	controlRAM      = 0x80

	// data starts after command, length, control, bus address and the 2
	// address bytes.
	readDataOffset = 6
)

var logoutMessage = []byte{0x70, 0x00, 0x05, 0x00}

// Options tune a Client. Zero values fall back to the defaults.
type Options struct {
	Timeout        time.Duration
	Retries        int
	RetryDelay     time.Duration
	PostLoginDelay time.Duration
	ReconnectDelay time.Duration
	Protocol       *ProtocolMap
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Retries <= 0 {
		o.Retries = DefaultRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.PostLoginDelay <= 0 {
		o.PostLoginDelay = DefaultPostLoginDelay
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = ReconnectDelay
	}
	if o.Protocol == nil {
		pm := DefaultProtocolMap()
		o.Protocol = &pm
	}
	return o
}

// Client is an authenticated session with a panel behind an IP150.
//
// A Client is not safe for concurrent use: the panel answers one request at
// a time, so callers must serialize every call.
type Client struct {
	host, port    string
	ip150Password string
	pcPassword    []byte
	opts          Options

	transport Transport
	state     LoginState
	panelInfo []byte
	panel     PanelInfo
	memory    *MemoryMap
}

// New connects to the IP150 at host:port, logs in and loads the memory map.
func New(host, port, ip150Password, pcPassword string, opts Options) (*Client, error) {
	cli, err := newClient(nil, ip150Password, pcPassword, opts)
	if err != nil {
		return nil, err
	}
	cli.host, cli.port = host, port
	if err := cli.init(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

// NewWithTransport creates a client over an already connected transport. It
// does not log in.
func NewWithTransport(t Transport, ip150Password, pcPassword string, opts Options) (*Client, error) {
	return newClient(t, ip150Password, pcPassword, opts)
}

func newClient(t Transport, ip150Password, pcPassword string, opts Options) (*Client, error) {
	if len(ip150Password) > maxPayloadLength {
		return nil, fmt.Errorf(
			"could not create client: ip150 password must be at most %d bytes, got %d",
			maxPayloadLength, len(ip150Password),
		)
	}
	bcd, err := encodePCPassword(pcPassword)
	if err != nil {
		return nil, fmt.Errorf("could not create client: %w", err)
	}
	return &Client{
		ip150Password: ip150Password,
		pcPassword:    bcd,
		opts:          opts.withDefaults(),
		transport:     t,
		memory:        &MemoryMap{},
	}, nil
}

func (c *Client) init() error {
	t, err := Dial(c.host, c.port, c.opts.Timeout)
	if err != nil {
		return err
	}
	c.transport = t
	if err := c.Login(); err != nil {
		return err
	}
	return c.InitializeMemoryMap()
}

// Login runs the full handshake on the current transport.
func (c *Client) Login() error {
	seq := &loginSequence{
		t:        c.transport,
		password: c.ip150Password,
		pcBCD:    c.pcPassword,
		layout:   c.opts.Protocol.Init,
	}
	state, err := seq.run()
	c.state = state
	if err != nil {
		var lerr *LoginError
		if errors.As(err, &lerr) && lerr.Step == LoginFinalAuthSent {
			if err := c.logout(); err != nil {
				log.Warn("could not logout after failed login", "err", err)
			}
		}
		return err
	}

	c.panelInfo = seq.uipInit
	c.panel = panelInfoFrom(seq.initMessage, c.opts.Protocol.Init)
	if c.panel.Type == PanelUnknown {
		log.Warn("unknown panel product id, assuming EVO192", "product_id", c.panel.ProductID)
	}
	log.Info(
		"logged in",
		"panel", c.panel.Type,
		"version", c.panel.Version,
		"serial", c.panel.SerialNumber,
	)
	drainAfterLogin(c.transport, c.opts.PostLoginDelay)
	return nil
}

// State is the login state of the session.
func (c *Client) State() LoginState {
	return c.state
}

// Panel describes the panel we are logged into.
func (c *Client) Panel() PanelInfo {
	return c.panel
}

// PanelInfoBytes is the raw reply to the UIP init probe.
func (c *Client) PanelInfoBytes() []byte {
	return c.panelInfo
}

func (c *Client) MemoryMap() *MemoryMap {
	return c.memory
}

// ReadRAM reads length bytes of RAM page blockNo.
func (c *Client) ReadRAM(blockNo, length int) ([]byte, error) {
	log.Debug("read ram", "block", blockNo, "length", length)
	data, err := c.read(controlRAM, blockNo, length)
	if err != nil {
		return nil, fmt.Errorf("could not read ram block %d: %w", blockNo, err)
	}
	return data, nil
}

// ReadEEPROM reads length (1-64) bytes at address.
func (c *Client) ReadEEPROM(address, length int) ([]byte, error) {
	log.Debug("read eeprom", "address", fmt.Sprintf("0x%04X", address), "length", length)
	data, err := c.read(controlEEPROM, address, length)
	if err != nil {
		return nil, fmt.Errorf("could not read eeprom at 0x%04X: %w", address, err)
	}
	return data, nil
}

func (c *Client) read(control byte, address, length int) ([]byte, error) {
	if length < 1 || length > maxReadLength {
		return nil, fmt.Errorf("length must be 1-%d, got %d", maxReadLength, length)
	}
	if address < 0 || address > 0xFFFF {
		return nil, fmt.Errorf("address 0x%X out of range", address)
	}
	if err := c.transport.Send(encodeSerial(readRequest(control, address, length), unknown0ReadTag)); err != nil {
		return nil, err
	}
	packet, err := c.receiveReply(func(p Packet) bool {
		return isReadReply(p, control, address)
	})
	if err != nil {
		return nil, err
	}
	if len(packet.Payload) < readDataOffset+length {
		return nil, fmt.Errorf(
			"%w: wanted %d bytes of data, got % 02X",
			ErrMalformedResponse, length, packet.Payload,
		)
	}
	data := make([]byte, length)
	copy(data, packet.Payload[readDataOffset:])
	return data, nil
}

func readRequest(control byte, address, length int) []byte {
	return withChecksum([]byte{
		cmdReadMemory,
		readRequestSize,
		control,
		0x00,
		byte(address >> 8),
		byte(address),
		byte(length),
		0x00,
	})
}

// isReadReply reports whether p answers the read of address in the memory
// selected by control. Late replies to an earlier read echo another address.
func isReadReply(p Packet, control byte, address int) bool {
	if p.SerialCommand() != replyRead || len(p.Payload) < readDataOffset {
		return false
	}
	return p.Payload[2]&controlRAM == control&controlRAM &&
		int(p.Payload[4])<<8|int(p.Payload[5]) == address
}

// receiveReply waits for a packet accepted by match. Each attempt is one
// read; packets in it that do not match are dropped.
func (c *Client) receiveReply(match func(Packet) bool) (Packet, error) {
	var reply Packet
	attempt := 0
	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.opts.RetryDelay),
		uint64(c.opts.Retries-1),
	)
	err := backoff.RetryNotify(func() error {
		attempt++
		buf, err := c.transport.ReceiveAll()
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return err
			}
			return backoff.Permanent(err)
		}
		for _, p := range splitPackets(buf) {
			if match(p) {
				reply = p
				return nil
			}
			log.Debug("dropping uncorrelated packet", "command", p.SerialCommand(), "payload", fmt.Sprintf("% 02X", p.Payload))
		}
		return fmt.Errorf("%w: no matching reply in % 02X", ErrMalformedResponse, buf)
	}, bo, func(err error, d time.Duration) {
		log.Debug("waiting for panel reply", "attempt", attempt, "err", err, "retry_in", d)
	})
	if err != nil {
		if errors.Is(err, ErrConnection) {
			return Packet{}, err
		}
		return Packet{}, fmt.Errorf("%w after %d attempts: %w", ErrNoResponse, attempt, err)
	}
	return reply, nil
}

// InitializeMemoryMap reads every memory page. The cached map is replaced
// only if all pages were read.
func (c *Client) InitializeMemoryMap() error {
	var blocks [MemoryMapBlocks][]byte
	for i, page := range memoryPages {
		data, err := c.ReadRAM(page, BlockSize)
		if err != nil {
			return fmt.Errorf("could not initialize memory map: %w", err)
		}
		blocks[i] = data
	}
	c.memory.replace(blocks)
	return nil
}

// RefreshMemoryMap re-reads every memory page in place. Pages that fail keep
// their previous content; the first error is returned.
func (c *Client) RefreshMemoryMap() error {
	var first error
	for i, page := range memoryPages {
		data, err := c.ReadRAM(page, BlockSize)
		if err != nil {
			if IsSessionFatal(err) {
				return fmt.Errorf("could not refresh memory map: %w", err)
			}
			log.Warn("could not refresh memory page, keeping cached copy", "page", page, "err", err)
			if first == nil {
				first = err
			}
			continue
		}
		c.memory.set(i, data)
	}
	if first != nil {
		return fmt.Errorf("could not refresh memory map: %w", first)
	}
	return nil
}

// PartitionLabels reads the labels of the 8 partitions.
func (c *Client) PartitionLabels() ([Partitions]string, error) {
	var labels [Partitions]string
	l := c.opts.Protocol.Labels
	for i := range labels {
		data, err := c.ReadEEPROM(l.partitionAddress(i+1), l.Length)
		if err != nil {
			return labels, fmt.Errorf("could not read partition %d label: %w", i+1, err)
		}
		labels[i] = decodeLabel(data)
	}
	return labels, nil
}

// ZoneLabels reads the label of every zone the panel supports.
func (c *Client) ZoneLabels() ([]string, error) {
	l := c.opts.Protocol.Labels
	labels := make([]string, c.zoneCount())
	for i := range labels {
		data, err := c.ReadEEPROM(l.zoneAddress(i+1), l.Length)
		if err != nil {
			return labels, fmt.Errorf("could not read zone %d label: %w", i+1, err)
		}
		labels[i] = decodeLabel(data)
	}
	return labels, nil
}

// PartitionFlags returns the raw flag bytes of each partition from the
// memory map.
func (c *Client) PartitionFlags() ([][]byte, error) {
	if !c.memory.Initialized() {
		return nil, fmt.Errorf("could not read partition flags: memory map not initialized")
	}
	pl := c.opts.Protocol.Partitions
	merged := c.memory.ranges(pl.Ranges)
	var result [][]byte
	for i := 0; i+pl.Size <= len(merged); i += pl.Size {
		result = append(result, merged[i:i+pl.Size])
	}
	return result, nil
}

// Partitions decodes the partition flags.
func (c *Client) Partitions() ([]Partition, error) {
	flags, err := c.PartitionFlags()
	if err != nil {
		return nil, err
	}
	parts := make([]Partition, 0, len(flags))
	for i, f := range flags {
		p, err := partitionFromFlags(i+1, f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// ZoneStateFlags assembles the zone bitfields from the memory map.
func (c *Client) ZoneStateFlags() (ZoneStateFlags, error) {
	if !c.memory.Initialized() {
		return ZoneStateFlags{}, fmt.Errorf("could not read zone flags: memory map not initialized")
	}
	zl := c.opts.Protocol.zoneLayout(c.panel.Type)
	return ZoneStateFlags{
		Opened:     c.memory.ranges(zl.Opened),
		Tampered:   c.memory.ranges(zl.Tampered),
		LowBattery: c.memory.ranges(zl.LowBattery),
	}, nil
}

// Zones decodes the zone flags of every zone the panel supports.
func (c *Client) Zones() ([]Zone, error) {
	flags, err := c.ZoneStateFlags()
	if err != nil {
		return nil, err
	}
	return flags.Zones(c.zoneCount()), nil
}

func (c *Client) zoneCount() int {
	return c.panel.Type.Zones()
}

// Logout ends the panel session but keeps the socket open.
func (c *Client) Logout() error {
	if c.state != LoginAuthenticated {
		return nil
	}
	c.state = LoginDisconnected
	return c.logout()
}

func (c *Client) logout() error {
	msg := withChecksum(append([]byte{}, logoutMessage...))
	if err := c.transport.Send(encodeSerial(msg, unknown0ReadTag)); err != nil {
		return fmt.Errorf("could not logout: %w", err)
	}
	return nil
}

// Close logs out and closes the connection. It is safe to call more than
// once.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	if err := c.Logout(); err != nil {
		log.Warn("could not logout", "err", err)
	}
	c.state = LoginDisconnected
	return c.transport.Close()
}

// Reconnect closes the session, waits for the panel to release it and logs
// in again on a new connection.
func (c *Client) Reconnect() error {
	log.Debug("reconnecting...")
	if err := c.Close(); err != nil {
		log.Warn("could not close previous session", "err", err)
	}
	time.Sleep(c.opts.ReconnectDelay)
	if err := c.init(); err != nil {
		return fmt.Errorf("could not reconnect: %w", err)
	}
	return nil
}
