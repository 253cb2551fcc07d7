package inertial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/mpu9250/reg"

	"github.com/sweeney/soil-sensor/internal/logic"
)

const (
	ak8963ID = 0x48

	// CNTL1 modes.
	magPowerDown  = 0x00
	magFuseROM    = 0x0F
	magContinuous = 0x16 // 16-bit output, 100 Hz

	magOverflow = 0x08 // ST2 HOFL

	// 16-bit output: 4912 µT full scale over 32760 counts.
	magMicroTeslaPerLSB = 4912.0 / 32760
	microTeslaPerGauss  = 100
)

// ErrMagOverflow is returned when the magnetic field exceeded the sensor
// range for a sample.
var ErrMagOverflow = errors.New("magnetometer overflow")

// AK8963 is the magnetometer inside the MPU9250, reached through the bypass.
type AK8963 struct {
	dev *i2c.Dev
	adj [3]float64
}

// NewAK8963 checks the device identity, reads the factory sensitivity
// adjustment and starts continuous measurement.
func NewAK8963(bus i2c.Bus) (*AK8963, error) {
	m := &AK8963{dev: &i2c.Dev{Bus: bus, Addr: reg.MPU9250_MAG_ADDRESS}}

	id := make([]byte, 1)
	if err := m.dev.Tx([]byte{reg.MPU9250_MAG_WIA}, id); err != nil {
		return nil, fmt.Errorf("read WIA: %w", err)
	}
	if id[0] != ak8963ID {
		return nil, fmt.Errorf("unexpected WIA 0x%02x", id[0])
	}

	if err := m.mode(magPowerDown); err != nil {
		return nil, err
	}
	if err := m.mode(magFuseROM); err != nil {
		return nil, err
	}
	asa := make([]byte, 3)
	if err := m.dev.Tx([]byte{reg.MPU9250_MAG_ASAX}, asa); err != nil {
		return nil, fmt.Errorf("read ASA: %w", err)
	}
	for i, a := range asa {
		m.adj[i] = (float64(a)-128)/256 + 1
	}
	if err := m.mode(magPowerDown); err != nil {
		return nil, err
	}
	if err := m.mode(magContinuous); err != nil {
		return nil, err
	}
	return m, nil
}

// mode writes CNTL1 and waits out the mode transition.
func (m *AK8963) mode(v byte) error {
	if err := m.dev.Tx([]byte{reg.MPU9250_MAG_CNTL, v}, nil); err != nil {
		return fmt.Errorf("write CNTL1 0x%02x: %w", v, err)
	}
	time.Sleep(100 * time.Microsecond)
	return nil
}

// Fetch reads ST1 through ST2 in one transfer; reading ST2 releases the
// data registers for the next measurement.
func (m *AK8963) Fetch() ([3]logic.Fixed, error) {
	var out [3]logic.Fixed
	buf := make([]byte, 8)
	if err := m.dev.Tx([]byte{reg.MPU9250_MAG_ST1}, buf); err != nil {
		return out, fmt.Errorf("read magnetometer: %w", err)
	}
	if buf[7]&magOverflow != 0 {
		return out, ErrMagOverflow
	}
	for i := 0; i < 3; i++ {
		raw := float64(int16(binary.LittleEndian.Uint16(buf[1+2*i:])))
		out[i] = logic.FixedFromFloat(raw * magMicroTeslaPerLSB * m.adj[i] / microTeslaPerGauss)
	}
	return out, nil
}
