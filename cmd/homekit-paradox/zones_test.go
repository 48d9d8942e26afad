package main

import (
	"testing"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	paradox "github.com/caarlos0/homekit-paradox"
	"github.com/stretchr/testify/require"
)

func TestZoneSensorUpdate(t *testing.T) {
	t.Run("contact", func(t *testing.T) {
		sensor := newZoneSensor(accessory.Info{Name: "Front Door"}, 1, kindContact)
		require.Nil(t, sensor.Motion)
		require.False(t, sensor.Open())

		sensor.Update(paradox.Zone{Number: 1, Open: true, Tamper: true})
		require.True(t, sensor.Open())
		require.Equal(t, 1, sensor.Contact.ContactSensorState.Value())
		require.Equal(t, 1, sensor.Tamper.Value())
		require.Equal(t, 0, sensor.LowBattery.Value())

		sensor.Update(paradox.Zone{Number: 1, LowBattery: true})
		require.False(t, sensor.Open())
		require.Equal(t, 0, sensor.Tamper.Value())
		require.Equal(t, 1, sensor.LowBattery.Value())
	})

	t.Run("motion", func(t *testing.T) {
		sensor := newZoneSensor(accessory.Info{Name: "Hall"}, 2, kindMotion)
		require.Nil(t, sensor.Contact)
		sensor.Update(paradox.Zone{Number: 2, Open: true})
		require.True(t, sensor.Motion.MotionDetected.Value())
		require.True(t, sensor.Open())
	})
}

func TestSetupZones(t *testing.T) {
	cfg := Config{
		ContactZones: []int{3},
		MotionZones:  []int{1},
	}
	labels := []string{"Hall", "", "Door"}
	zones := []paradox.Zone{{Number: 1, Open: true}, {Number: 2}, {Number: 3, Open: true}}

	sensors := setupZones(cfg, labels, zones)
	require.Len(t, sensors, 2)
	require.Equal(t, "Hall", sensors[0].Name())
	require.Equal(t, kindMotion, sensors[0].Kind)
	require.True(t, sensors[0].Open())
	require.Equal(t, "Door", sensors[1].Name())
	require.True(t, sensors[1].Open())
}

func TestSnapshot(t *testing.T) {
	s := &snapshot{}
	s.setLabels([]string{"Hall"}, [paradox.Partitions]string{"House", "Garage"})

	parts := s.update([]paradox.Partition{{Number: 1}, {Number: 2}, {Number: 3}})
	require.Equal(t, "House", parts[0].Label)
	require.Equal(t, "Garage", parts[1].Label)
	require.Equal(t, "partition 3", partitionName(parts[2]))
	require.Len(t, s.partitionsNow(), 3)
	require.False(t, s.updatedAtNow().IsZero())

	require.Equal(t, map[int]string{1: "Hall"}, s.zoneNames(Config{ContactZones: []int{1}}))
}

func TestSecuritySystem(t *testing.T) {
	alarm := NewSecuritySystem(accessory.Info{Name: "Alarm"}, Config{Partitions: []int{1}})
	alarm.Update([]paradox.Partition{
		{Number: 1, Armed: true, Stay: true, ZoneTamper: true},
		{Number: 2, Trouble: true},
	})
	require.Equal(t, characteristic.SecuritySystemCurrentStateStayArm, alarm.SecuritySystem.SecuritySystemCurrentState.Value())
	require.Equal(t, characteristic.SecuritySystemTargetStateStayArm, alarm.SecuritySystem.SecuritySystemTargetState.Value())
	require.Equal(t, 1, alarm.Tampered.Value())
	require.Equal(t, 0, alarm.Fault.Value())

	require.Equal(t, -1, targetState(characteristic.SecuritySystemCurrentStateAlarmTriggered))
}
