package main

import (
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	paradox "github.com/caarlos0/homekit-paradox"
)

type ZoneSensor struct {
	*accessory.A
	Number     int
	Kind       zoneKind
	Motion     *service.MotionSensor
	Contact    *service.ContactSensor
	LowBattery *characteristic.StatusLowBattery
	Tamper     *characteristic.StatusTampered
}

func (sensor *ZoneSensor) Update(zone paradox.Zone) {
	name := sensor.Name()
	openGauge.WithLabelValues(name).Set(boolAs[float64](zone.Open))
	tamperGauge.WithLabelValues(name).Set(boolAs[float64](zone.Tamper))
	lowBatteryGauge.WithLabelValues(name).Set(boolAs[float64](zone.LowBattery))

	if v := boolAs[int](zone.LowBattery); sensor.LowBattery.Value() != v {
		log.Info("low battery", "zone", zone.Number, "status", zone.LowBattery)
		_ = sensor.LowBattery.SetValue(v)
	}

	if v := boolAs[int](zone.Tamper); sensor.Tamper.Value() != v {
		log.Info("tamper", "zone", zone.Number, "status", zone.Tamper)
		_ = sensor.Tamper.SetValue(v)
	}

	switch sensor.Kind {
	case kindContact:
		current := boolAs[int](zone.Open)
		if v := sensor.Contact.ContactSensorState.Value(); v == current {
			return
		}
		_ = sensor.Contact.ContactSensorState.SetValue(current)
		log.Info("contact", "zone", zone.Number, "open", zone.Open)
	case kindMotion:
		if v := sensor.Motion.MotionDetected.Value(); v == zone.Open {
			return
		}
		sensor.Motion.MotionDetected.SetValue(zone.Open)
		log.Info("motion", "zone", zone.Number, "detected", zone.Open)
	}
}

// Open reports the current sensor state as shown in HomeKit.
func (sensor *ZoneSensor) Open() bool {
	if sensor.Motion != nil {
		return sensor.Motion.MotionDetected.Value()
	}
	return sensor.Contact.ContactSensorState.Value() == 1
}

func newZoneSensor(info accessory.Info, number int, kind zoneKind) *ZoneSensor {
	a := ZoneSensor{
		Number: number,
		Kind:   kind,
	}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.LowBattery = characteristic.NewStatusLowBattery()
	a.Tamper = characteristic.NewStatusTampered()

	switch kind {
	case kindContact:
		a.Contact = service.NewContactSensor()
		a.Contact.AddC(a.Tamper.C)
		a.Contact.AddC(a.LowBattery.C)
		a.AddS(a.Contact.S)
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.Motion.AddC(a.LowBattery.C)
		a.Motion.AddC(a.Tamper.C)
		a.AddS(a.Motion.S)
	}
	return &a
}

func setupZones(cfg Config, labels []string, zones []paradox.Zone) []*ZoneSensor {
	var sensors []*ZoneSensor
	for _, zc := range cfg.allZones(labels) {
		sensor := newZoneSensor(accessory.Info{
			Name:         zc.name,
			Manufacturer: manufacturer,
		}, zc.number, zc.kind)
		if zc.number <= len(zones) {
			sensor.Update(zones[zc.number-1])
		}
		sensors = append(sensors, sensor)
	}
	return sensors
}
