package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	paradox "github.com/caarlos0/homekit-paradox"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed index.html
var index []byte

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type Executor = func(func(cli *paradox.Client) error) error

const manufacturer = "Paradox"

func main() {
	log.Info(
		"homekit-paradox",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for Paradox EVO alarm systems through an IP150",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}
	if err := cfg.validate(); err != nil {
		log.Fatal("invalid config", "err", "\n"+err.Error())
	}
	if level, err := logp.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
		paradox.SetLogLevel(level)
	} else {
		log.Warn("invalid log level, using info", "level", cfg.LogLevel)
	}

	opts, err := cfg.options()
	if err != nil {
		log.Fatal("could not load protocol map", "err", err)
	}

	execute, closeSession := newExecutor(cfg, opts)

	var panel paradox.PanelInfo
	var zoneLabels []string
	var partitionLabels [paradox.Partitions]string
	var zones []paradox.Zone
	var partitions []paradox.Partition
	if err := execute(func(cli *paradox.Client) (err error) {
		panel = cli.Panel()
		if zoneLabels, err = cli.ZoneLabels(); err != nil {
			return err
		}
		if partitionLabels, err = cli.PartitionLabels(); err != nil {
			return err
		}
		if zones, err = cli.Zones(); err != nil {
			return err
		}
		partitions, err = cli.Partitions()
		return err
	}); err != nil {
		log.Fatal("could not init accessories", "err", err)
	}
	current := &snapshot{}
	current.setLabels(zoneLabels, partitionLabels)
	partitions = current.update(partitions)

	log.Info(
		"loading accessories",
		"partitions", fmt.Sprintf("%v", cfg.Partitions),
		"zones", allZoneConfigs(cfg.allZones(zoneLabels)).String(),
	)

	macAddr, err := paradox.MacAddress(cfg.Host)
	if err != nil {
		log.Warn(
			"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
			"err", err,
		)
	}
	log.Info(
		"got alarm system information",
		"manufacturer", manufacturer,
		"model", panel.Type,
		"version", panel.Version,
		"serial", panel.SerialNumber,
		"mac", macAddr,
	)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	serial := macAddr
	if serial == "" {
		serial = panel.SerialNumber
	}
	alarm := NewSecuritySystem(accessory.Info{
		Name:         "Alarm",
		SerialNumber: serial,
		Manufacturer: manufacturer,
		Model:        panel.Type.String(),
		Firmware:     panel.Version,
	}, cfg)
	alarm.Id = 2
	alarm.Update(partitions)

	sensors := setupZones(cfg, zoneLabels, zones)

	var publisher *Publisher
	if cfg.MQTTBroker != "" {
		publisher, err = NewPublisher(cfg)
		if err != nil {
			log.Error("mqtt disabled", "err", err)
		}
	}
	if publisher != nil {
		publisher.PublishZones(zones, current.zoneNames(cfg))
		publisher.PublishPartitions(partitions)
	}

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		tick := time.NewTicker(cfg.Refresh)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}

			var zones []paradox.Zone
			var partitions []paradox.Partition
			if err := execute(func(cli *paradox.Client) (err error) {
				if err := cli.RefreshMemoryMap(); err != nil {
					if paradox.IsSessionFatal(err) {
						return err
					}
					refreshErrorCounter.Inc()
					log.Warn("memory map partially refreshed", "err", err)
				}
				memoryVersionGauge.Set(float64(cli.MemoryMap().Version()))
				if zones, err = cli.Zones(); err != nil {
					return err
				}
				partitions, err = cli.Partitions()
				return err
			}); err != nil {
				log.Error("could not get status", "err", err)
				continue
			}

			partitions = current.update(partitions)
			alarm.Update(partitions)
			for _, sensor := range sensors {
				if sensor.Number <= len(zones) {
					sensor.Update(zones[sensor.Number-1])
				}
			}
			if publisher != nil {
				publisher.PublishZones(zones, current.zoneNames(cfg))
				publisher.PublishPartitions(partitions)
			}
		}
	}()

	go func() {
		tick := time.NewTicker(cfg.LabelsRefresh)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}

			var zoneLabels []string
			var partitionLabels [paradox.Partitions]string
			if err := execute(func(cli *paradox.Client) (err error) {
				if zoneLabels, err = cli.ZoneLabels(); err != nil {
					return err
				}
				partitionLabels, err = cli.PartitionLabels()
				return err
			}); err != nil {
				log.Error("could not refresh labels", "err", err)
				continue
			}
			current.setLabels(zoneLabels, partitionLabels)
			log.Debug("labels refreshed")
		}
	}()

	fs := hap.NewFsStore("./db")

	server, err := hap.NewServer(fs, bridge.A, securityAccessories(sensors, alarm)...)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := [5]string{
			"Armed: Stay",
			"Armed: Away",
			"Armed: Night",
			"Disarmed",
			"Alarm Triggered",
		}[alarm.SecuritySystem.SecuritySystemCurrentState.Value()]

		var hSensors []PageItem
		for _, zone := range sensors {
			hSensors = append(hSensors, PageItem{
				Number:     zone.Number,
				Name:       zone.Name(),
				Open:       zone.Open(),
				Tamper:     zone.Tamper.Value() == 1,
				LowBattery: zone.LowBattery.Value() == 1,
			})
		}

		var hPartitions []PageItem
		for _, part := range current.partitionsNow() {
			hPartitions = append(hPartitions, PageItem{
				Number: part.Number,
				Name:   partitionName(part),
				State:  part.State().String(),
			})
		}

		tpl := template.Must(template.New("index").Parse(string(index)))
		_ = tpl.Execute(w, struct {
			State      string
			Panel      paradox.PanelInfo
			UpdatedAt  string
			Zones      []PageItem
			Partitions []PageItem
		}{
			State:      state,
			Panel:      panel,
			UpdatedAt:  current.updatedAtNow().Format(time.RFC1123),
			Zones:      hSensors,
			Partitions: hPartitions,
		})
	}))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}

	if publisher != nil {
		publisher.Close()
	}
	if err := closeSession(); err != nil {
		log.Error("could not close paradox client", "err", err)
	}
}

// newExecutor serializes every call to the panel over a single session. The
// session is opened on first use and re-established when a call fails with a
// connection or authentication error.
func newExecutor(cfg Config, opts paradox.Options) (Executor, func() error) {
	var clientLock sync.Mutex
	var cli *paradox.Client
	var stale bool

	closeSession := func() error {
		clientLock.Lock()
		defer clientLock.Unlock()
		if cli == nil {
			return nil
		}
		return cli.Close()
	}

	return func(fn func(cli *paradox.Client) error) error {
		t := time.Now()
		clientLock.Lock()
		defer clientLock.Unlock()
		log.Debugf("got client lock after %s", time.Since(t))

		bo := backoff.NewExponentialBackOff()
		bo.MaxInterval = time.Second * 5
		bo.MaxElapsedTime = time.Minute

		return backoff.RetryNotify(func() error {
			requestCounter.Inc()
			switch {
			case cli == nil:
				loginCounter.Inc()
				c, err := paradox.New(cfg.Host, cfg.Port, cfg.IP150Password, cfg.PCPassword, opts)
				if err != nil {
					return loginError(err)
				}
				cli = c
			case stale:
				loginCounter.Inc()
				if err := cli.Reconnect(); err != nil {
					return loginError(err)
				}
				stale = false
			}

			if err := fn(cli); err != nil {
				requestErrorCounter.Inc()
				if paradox.IsSessionFatal(err) {
					stale = true
				}
				return err
			}
			return nil
		}, bo, func(err error, _ time.Duration) {
			log.Error("command to panel failed", "err", err)
		})
	}, closeSession
}

func loginError(err error) error {
	err = fmt.Errorf("could not init paradox client: %w", err)
	if errors.Is(err, paradox.ErrInvalidPassword) {
		return backoff.Permanent(err)
	}
	return err
}

// snapshot is the last decoded state, shared with the status page.
type snapshot struct {
	mu              sync.RWMutex
	zoneLabels      []string
	partitionLabels [paradox.Partitions]string
	partitions      []paradox.Partition
	updatedAt       time.Time
}

func (s *snapshot) setLabels(zones []string, partitions [paradox.Partitions]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zoneLabels = zones
	s.partitionLabels = partitions
}

// update stores the decoded partitions and returns them with their labels
// filled in.
func (s *snapshot) update(partitions []paradox.Partition) []paradox.Partition {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range partitions {
		if n := partitions[i].Number; n >= 1 && n <= len(s.partitionLabels) {
			partitions[i].Label = s.partitionLabels[n-1]
		}
	}
	s.partitions = partitions
	s.updatedAt = time.Now()
	return partitions
}

// zoneNames are the names of the configured zones, using the latest panel
// labels.
func (s *snapshot) zoneNames(cfg Config) map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := map[int]string{}
	for _, zc := range cfg.allZones(s.zoneLabels) {
		names[zc.number] = zc.name
	}
	return names
}

func (s *snapshot) partitionsNow() []paradox.Partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitions
}

func (s *snapshot) updatedAtNow() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func securityAccessories(sensors []*ZoneSensor, alarm *SecuritySystem) []*accessory.A {
	result := []*accessory.A{alarm.A}
	for _, c := range sensors {
		result = append(result, c.A)
	}
	return result
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}

type PageItem struct {
	Number     int
	Name       string
	State      string
	Open       bool
	Tamper     bool
	LowBattery bool
}
