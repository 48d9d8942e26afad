package main

import (
	"testing"

	"github.com/brutella/hap/characteristic"
	"github.com/caarlos0/env/v11"
	paradox "github.com/caarlos0/homekit-paradox"
	"github.com/stretchr/testify/require"
)

func TestAllZones(t *testing.T) {
	cfg := Config{
		ContactZones: []int{1, 3, 5, 6, 7},
		MotionZones:  []int{2, 4, 8, 9, 10},
		ZoneNames:    []string{"A", "B", "", "C", "D"},
	}

	labels := make([]string, 192)
	labels[2] = "Kitchen"
	labels[3] = "Ignored"

	zones := cfg.allZones(labels)

	require.Equal(t, []zoneConfig{
		{1, "A", kindContact},
		{2, "B", kindMotion},
		{3, "Kitchen", kindContact},
		{4, "C", kindMotion},
		{5, "D", kindContact},
		{6, "Zone 6", kindContact},
		{7, "Zone 7", kindContact},
		{8, "Zone 8", kindMotion},
		{9, "Zone 9", kindMotion},
		{10, "Zone 10", kindMotion},
	}, zones)

	require.Equal(t, "Zone 3", cfg.zoneName(3, nil))
	require.Equal(t, "C", cfg.zoneName(4, labels))
	require.Equal(t, "Kitchen", cfg.zoneName(3, labels))
	require.Equal(t, "Zone 6", cfg.zoneName(6, labels[:5]))
}

func TestParseConfig(t *testing.T) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{
		Environment: map[string]string{
			"HOST":           "192.168.1.10",
			"IP150_PASSWORD": "paradox",
			"PC_PASSWORD":    "0987",
			"CONTACT":        "1,2",
			"MOTION":         "3",
		},
	})
	require.NoError(t, err)
	require.Equal(t, "10000", cfg.Port)
	require.Equal(t, []int{1}, cfg.Partitions)
	require.Equal(t, []int{1, 2}, cfg.ContactZones)
	require.Equal(t, "paradox", cfg.MQTTTopicPrefix)
	require.NoError(t, cfg.validate())

	_, err = env.ParseAsWithOptions[Config](env.Options{
		Environment: map[string]string{"HOST": "192.168.1.10"},
	})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{
		PCPassword:    "0987",
		Refresh:       1,
		LabelsRefresh: 1,
		Partitions:    []int{1, 2},
		ContactZones:  []int{1, 192},
	}
	require.NoError(t, valid.validate())

	for name, fn := range map[string]func(c *Config){
		"short pc password": func(c *Config) { c.PCPassword = "12" },
		"zone too big":      func(c *Config) { c.ContactZones = []int{193} },
		"zone zero":         func(c *Config) { c.MotionZones = []int{0} },
		"both kinds":        func(c *Config) { c.MotionZones = []int{1} },
		"partition":         func(c *Config) { c.Partitions = []int{9} },
		"refresh":           func(c *Config) { c.Refresh = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			cfg.Partitions = append([]int{}, valid.Partitions...)
			cfg.ContactZones = append([]int{}, valid.ContactZones...)
			fn(&cfg)
			require.Error(t, cfg.validate())
		})
	}
}

func TestGetAlarmState(t *testing.T) {
	cfg := Config{Partitions: []int{1, 2}}

	for name, tt := range map[string]struct {
		partitions []paradox.Partition
		expected   int
	}{
		"disarmed": {
			[]paradox.Partition{{Number: 1}, {Number: 2}},
			characteristic.SecuritySystemCurrentStateDisarmed,
		},
		"triggered": {
			[]paradox.Partition{{Number: 1, Armed: true}, {Number: 2, Alarm: true}},
			characteristic.SecuritySystemCurrentStateAlarmTriggered,
		},
		"away": {
			[]paradox.Partition{{Number: 1, Armed: true}, {Number: 2, Armed: true, Stay: true}},
			characteristic.SecuritySystemCurrentStateAwayArm,
		},
		"stay": {
			[]paradox.Partition{{Number: 1, Armed: true, Stay: true}, {Number: 2}},
			characteristic.SecuritySystemCurrentStateStayArm,
		},
		"night": {
			[]paradox.Partition{{Number: 1, Armed: true, NoEntry: true}},
			characteristic.SecuritySystemCurrentStateNightArm,
		},
		"ignores other partitions": {
			[]paradox.Partition{{Number: 3, Alarm: true}},
			characteristic.SecuritySystemCurrentStateDisarmed,
		},
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.expected, cfg.getAlarmState(tt.partitions))
		})
	}
}
