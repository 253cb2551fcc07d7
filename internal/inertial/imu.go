package inertial

import (
	"encoding/binary"
	"fmt"
	"math"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/devices/v3/mpu9250/reg"

	"github.com/sweeney/soil-sensor/internal/logic"
)

// The MPU6050 shares this part of the MPU9250 register map.
const (
	regGyroConfig  = reg.MPU9250_GYRO_CONFIG
	regAccelConfig = reg.MPU9250_ACCEL_CONFIG
	regIntPinCfg   = reg.MPU9250_INT_PIN_CFG
	regIntEnable   = reg.MPU9250_INT_ENABLE
	regAccelXOut   = reg.MPU9250_ACCEL_XOUT_H
	regPwrMgmt1    = reg.MPU9250_PWR_MGMT_1
	regWhoAmI      = reg.MPU9250_WHO_AM_I

	// DefaultAddress is the address with AD0 tied low.
	DefaultAddress = 0x68
)

// Model identifies the detected part.
type Model string

const (
	ModelMPU6050 Model = "MPU6050"
	ModelMPU9250 Model = "MPU9250"
)

var whoAmI = map[byte]Model{
	0x68: ModelMPU6050,
	0x71: ModelMPU9250,
	0x73: ModelMPU9250, // MPU9255
}

const standardGravity = 9.80665

var (
	accelRanges = map[int]byte{2: 0, 4: 1, 8: 2, 16: 3}
	gyroRanges  = map[int]byte{250: 0, 500: 1, 1000: 2, 2000: 3}
)

// IMU reads accelerometer, gyroscope and, on an MPU9250, magnetometer data
// over I2C. On an MPU6050 Magn is always zero.
type IMU struct {
	dev      *i2c.Dev
	model    Model
	accelLSB float64 // counts per g
	gyroLSB  float64 // counts per deg/s
	mag      *AK8963
}

// Open identifies the part at addr, wakes it from sleep and sets the
// full-scale ranges: accelFSR in g, gyroFSR in deg/s. An MPU9250 found in
// place of an MPU6050 is accepted and its magnetometer enabled through the
// auxiliary I2C bypass.
func Open(bus i2c.Bus, addr uint16, accelFSR, gyroFSR int) (*IMU, error) {
	afs, ok := accelRanges[accelFSR]
	if !ok {
		return nil, fmt.Errorf("unsupported accelerometer range ±%dg", accelFSR)
	}
	gfs, ok := gyroRanges[gyroFSR]
	if !ok {
		return nil, fmt.Errorf("unsupported gyroscope range ±%d°/s", gyroFSR)
	}
	if addr == 0 {
		addr = DefaultAddress
	}

	d := &IMU{
		dev:      &i2c.Dev{Bus: bus, Addr: addr},
		accelLSB: 32768 / float64(accelFSR),
		gyroLSB:  32768 / float64(gyroFSR),
	}

	id := make([]byte, 1)
	if err := d.dev.Tx([]byte{regWhoAmI}, id); err != nil {
		return nil, fmt.Errorf("read WHO_AM_I: %w", err)
	}
	if d.model, ok = whoAmI[id[0]]; !ok {
		return nil, fmt.Errorf("unexpected WHO_AM_I 0x%02x at address 0x%02x", id[0], addr)
	}

	writes := [][]byte{
		{regPwrMgmt1, 0x00},
		{regAccelConfig, afs << 3},
		{regGyroConfig, gfs << 3},
	}
	if d.model == ModelMPU9250 {
		writes = append(writes, []byte{regIntPinCfg, reg.MPU9250_BYPASS_EN_MASK})
	}
	for _, w := range writes {
		if err := d.write(w); err != nil {
			return nil, err
		}
	}

	if d.model == ModelMPU9250 {
		mag, err := NewAK8963(bus)
		if err != nil {
			return nil, fmt.Errorf("magnetometer: %w", err)
		}
		d.mag = mag
	}
	return d, nil
}

func (d *IMU) write(w []byte) error {
	if err := d.dev.Tx(w, nil); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", w[0], err)
	}
	return nil
}

// Model returns the detected part.
func (d *IMU) Model() Model {
	return d.model
}

// EnableDataReady raises the INT pin each time a new sample is latched.
func (d *IMU) EnableDataReady() error {
	return d.write([]byte{regIntEnable, reg.MPU9250_RAW_RDY_EN_MASK})
}

// Fetch reads one sample: acceleration in m/s², angular rate in rad/s and
// magnetic field in gauss.
func (d *IMU) Fetch() (Reading, error) {
	buf := make([]byte, 14)
	if err := d.dev.Tx([]byte{regAccelXOut}, buf); err != nil {
		return Reading{}, fmt.Errorf("read sample: %w", err)
	}
	r := d.convert(buf)
	if d.mag != nil {
		m, err := d.mag.Fetch()
		if err != nil {
			return Reading{}, err
		}
		r.Magn = m
	}
	return r, nil
}

// convert decodes the ACCEL_XOUT..GYRO_ZOUT block. Bytes 6-7 hold the die
// temperature and are skipped.
func (d *IMU) convert(buf []byte) Reading {
	var r Reading
	for i := 0; i < 3; i++ {
		a := float64(int16(binary.BigEndian.Uint16(buf[2*i:])))
		g := float64(int16(binary.BigEndian.Uint16(buf[8+2*i:])))
		r.Accel[i] = logic.FixedFromFloat(a / d.accelLSB * standardGravity)
		r.Gyro[i] = logic.FixedFromFloat(g / d.gyroLSB * math.Pi / 180)
	}
	return r
}
