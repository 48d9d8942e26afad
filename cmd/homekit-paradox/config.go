package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brutella/hap/characteristic"
	paradox "github.com/caarlos0/homekit-paradox"
	"golang.org/x/exp/slices"
)

type Config struct {
	Host            string        `env:"HOST,notEmpty"`
	Port            string        `env:"PORT"                envDefault:"10000"`
	IP150Password   string        `env:"IP150_PASSWORD,notEmpty"`
	PCPassword      string        `env:"PC_PASSWORD,notEmpty"`
	Timeout         time.Duration `env:"TIMEOUT"             envDefault:"3s"`
	Refresh         time.Duration `env:"REFRESH"             envDefault:"10s"`
	LabelsRefresh   time.Duration `env:"LABELS_REFRESH"      envDefault:"1h"`
	MotionZones     []int         `env:"MOTION"`
	ContactZones    []int         `env:"CONTACT"`
	ZoneNames       []string      `env:"ZONE_NAMES"`
	Partitions      []int         `env:"PARTITIONS"          envDefault:"1"`
	ProtocolMap     string        `env:"PROTOCOL_MAP"`
	Address         string        `env:"LISTEN"              envDefault:":9009"`
	MQTTBroker      string        `env:"MQTT_BROKER"`
	MQTTUsername    string        `env:"MQTT_USERNAME"`
	MQTTPassword    string        `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string        `env:"MQTT_TOPIC_PREFIX"   envDefault:"paradox"`
	LogLevel        string        `env:"LOG_LEVEL"           envDefault:"info"`
}

func (c Config) validate() error {
	var errs []error
	if len(c.PCPassword) != 4 {
		errs = append(errs, fmt.Errorf("PC_PASSWORD must have 4 digits"))
	}
	if c.Refresh <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH must be positive"))
	}
	if c.LabelsRefresh <= 0 {
		errs = append(errs, fmt.Errorf("LABELS_REFRESH must be positive"))
	}
	for _, z := range append(slices.Clone(c.MotionZones), c.ContactZones...) {
		if z < 1 || z > paradox.MaxZones {
			errs = append(errs, fmt.Errorf("zone %d is not in 1-%d", z, paradox.MaxZones))
		}
	}
	for _, z := range c.MotionZones {
		if slices.Contains(c.ContactZones, z) {
			errs = append(errs, fmt.Errorf("zone %d is both MOTION and CONTACT", z))
		}
	}
	for _, p := range c.Partitions {
		if p < 1 || p > paradox.Partitions {
			errs = append(errs, fmt.Errorf("partition %d is not in 1-%d", p, paradox.Partitions))
		}
	}
	return errors.Join(errs...)
}

func (c Config) options() (paradox.Options, error) {
	opts := paradox.Options{Timeout: c.Timeout}
	if c.ProtocolMap == "" {
		return opts, nil
	}
	pm, err := paradox.LoadProtocolMap(c.ProtocolMap)
	if err != nil {
		return opts, err
	}
	opts.Protocol = &pm
	return opts, nil
}

type zoneKind uint8

const (
	kindMotion zoneKind = iota + 1
	kindContact
)

func (z zoneKind) String() string {
	switch z {
	case kindMotion:
		return "motion"
	default:
		return "contact"
	}
}

type zoneConfig struct {
	number int
	name   string
	kind   zoneKind
}

// zoneName prefers ZONE_NAMES, then the label programmed in the panel.
func (c Config) zoneName(n int, labels []string) string {
	names := c.ZoneNames
	if len(names) > n-1 {
		if name := names[n-1]; name != "" {
			return name
		}
	}
	if len(labels) > n-1 {
		if l := labels[n-1]; l != "" {
			return l
		}
	}
	return fmt.Sprintf("Zone %d", n)
}

type allZoneConfigs []zoneConfig

func (a allZoneConfigs) String() string {
	var zones []string
	for _, zone := range a {
		zones = append(
			zones,
			fmt.Sprintf("zone %d: %q (%s)", zone.number, zone.name, zone.kind.String()),
		)
	}
	return strings.Join(zones, "\n")
}

func (c Config) allZones(labels []string) []zoneConfig {
	var zones []zoneConfig
	for _, z := range c.MotionZones {
		zones = append(zones, zoneConfig{
			number: z,
			name:   c.zoneName(z, labels),
			kind:   kindMotion,
		})
	}
	for _, z := range c.ContactZones {
		zones = append(zones, zoneConfig{
			number: z,
			name:   c.zoneName(z, labels),
			kind:   kindContact,
		})
	}
	slices.SortFunc(zones, func(a, b zoneConfig) int {
		if a.number > b.number {
			return 1
		}
		return -1
	})
	return zones
}

// getAlarmState maps the watched partitions into a HomeKit state. Any
// partition in alarm wins, then the strongest arming mode.
func (c Config) getAlarmState(partitions []paradox.Partition) int {
	state := characteristic.SecuritySystemCurrentStateDisarmed
	for _, part := range partitions {
		if !slices.Contains(c.Partitions, part.Number) {
			continue
		}
		log.Debug("partition state", "part", part.Number, "state", part.State())
		switch part.State() {
		case paradox.StateInAlarm:
			return characteristic.SecuritySystemCurrentStateAlarmTriggered
		case paradox.StateArmed:
			state = characteristic.SecuritySystemCurrentStateAwayArm
		case paradox.StateStayArmed:
			if state != characteristic.SecuritySystemCurrentStateAwayArm {
				state = characteristic.SecuritySystemCurrentStateStayArm
			}
		case paradox.StateInstantArmed:
			if state == characteristic.SecuritySystemCurrentStateDisarmed {
				state = characteristic.SecuritySystemCurrentStateNightArm
			}
		}
	}
	return state
}
