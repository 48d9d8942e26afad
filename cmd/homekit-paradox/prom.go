package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var armStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_paradox",
	Subsystem: "alarm",
	Name:      "state",
	Help:      "HomeKit security system state of the watched partitions",
})

var partitionStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_paradox",
	Subsystem: "alarm",
	Name:      "partition_state",
	Help:      "0 disarmed, 1 armed, 2 stay, 3 instant, 4 in alarm",
}, []string{"name"})

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_paradox",
	Subsystem: "zone",
	Name:      "open",
}, []string{"name"})

var tamperGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_paradox",
	Subsystem: "zone",
	Name:      "tamper",
}, []string{"name"})

var lowBatteryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "homekit_paradox",
	Subsystem: "zone",
	Name:      "low_battery",
}, []string{"name"})

var requestCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_paradox",
	Subsystem: "client",
	Name:      "requests_total",
})

var requestErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_paradox",
	Subsystem: "client",
	Name:      "request_errors_total",
})

var loginCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_paradox",
	Subsystem: "client",
	Name:      "logins_total",
})

var refreshErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "homekit_paradox",
	Subsystem: "memory",
	Name:      "refresh_errors_total",
	Help:      "Refreshes where at least one page kept its cached copy",
})

var memoryVersionGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "homekit_paradox",
	Subsystem: "memory",
	Name:      "version",
})
