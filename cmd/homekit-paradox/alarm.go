package main

import (
	"net/http"
	"strconv"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	paradox "github.com/caarlos0/homekit-paradox"
	"golang.org/x/exp/slices"
)

// SecuritySystem mirrors the watched partitions. It is read-only: the bridge
// never arms or disarms the panel.
type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	Tampered       *characteristic.StatusTampered
	LowBattery     *characteristic.StatusLowBattery
	Fault          *characteristic.StatusFault

	cfg Config
}

func NewSecuritySystem(info accessory.Info, cfg Config) *SecuritySystem {
	a := &SecuritySystem{cfg: cfg}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.Tampered = characteristic.NewStatusTampered()
	a.SecuritySystem.AddC(a.Tampered.C)

	a.LowBattery = characteristic.NewStatusLowBattery()
	a.SecuritySystem.AddC(a.LowBattery.C)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = func(
		v interface{},
		_ *http.Request,
	) (response interface{}, code int) {
		log.Warn("ignoring target state change, the bridge is read-only", "state", v)
		return nil, hap.JsonStatusInvalidValueInRequest
	}
	return a
}

func (a *SecuritySystem) Update(partitions []paradox.Partition) {
	for _, part := range partitions {
		partitionStateGauge.WithLabelValues(partitionName(part)).Set(float64(part.State()))
	}

	state := a.cfg.getAlarmState(partitions)
	armStateGauge.Set(float64(state))
	if a.SecuritySystem.SecuritySystemCurrentState.Value() != state {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(state)
		log.Info("set current state", "state", state, "err", err)
		if target := targetState(state); target >= 0 {
			_ = a.SecuritySystem.SecuritySystemTargetState.SetValue(target)
		}
	}

	var tamper, lowBattery, trouble bool
	for _, part := range partitions {
		if !slices.Contains(a.cfg.Partitions, part.Number) {
			continue
		}
		tamper = tamper || part.ZoneTamper
		lowBattery = lowBattery || part.ZoneLowBattery
		trouble = trouble || part.Trouble
	}

	if v := boolAs[int](tamper); a.Tampered.Value() != v {
		_ = a.Tampered.SetValue(v)
		log.Info("alarm status", "tamper", tamper)
	}
	if v := boolAs[int](lowBattery); a.LowBattery.Value() != v {
		_ = a.LowBattery.SetValue(v)
		log.Info("alarm status", "low-battery", lowBattery)
	}
	if v := boolAs[int](trouble); a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Info("alarm status", "trouble", trouble)
	}
}

// targetState is the target matching a current state, or -1 when there is
// none (triggered).
func targetState(current int) int {
	switch current {
	case characteristic.SecuritySystemCurrentStateStayArm:
		return characteristic.SecuritySystemTargetStateStayArm
	case characteristic.SecuritySystemCurrentStateAwayArm:
		return characteristic.SecuritySystemTargetStateAwayArm
	case characteristic.SecuritySystemCurrentStateNightArm:
		return characteristic.SecuritySystemTargetStateNightArm
	case characteristic.SecuritySystemCurrentStateDisarmed:
		return characteristic.SecuritySystemTargetStateDisarm
	default:
		return -1
	}
}

func partitionName(part paradox.Partition) string {
	if part.Label != "" {
		return part.Label
	}
	return "partition " + strconv.Itoa(part.Number)
}
