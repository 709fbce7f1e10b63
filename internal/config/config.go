package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Config holds all application configuration values.
type Config struct {
	LogLevel string

	// IMU backend: "auto" probes mpu9250 then i2c; "mock" is only used when asked for.
	IMUBackend string

	// Raw I2C backend (MPU6050 register map)
	IMUI2CBus    string
	IMUThighAddr uint16
	IMUShinAddr  uint16

	// Vendor driver backend (MPU9250 over SPI)
	IMUThighSPIDevice string
	IMUThighCSPin     string
	IMUShinSPIDevice  string
	IMUShinCSPin      string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// IMU Sample Rate Configuration
	IMUDLPFConfig    byte // Digital Low Pass Filter configuration (0-7)
	IMUSampleRateDiv byte // Sample rate divider (output rate = internal rate / (1 + div))

	// Orientation filter
	FilterComplementaryGain float64
	FilterLowPassAlpha      float64

	// Muscle sensor
	MuscleADCBackend     string // iio, ads1115, serial, mock
	MyowareADCPin        string // PocketBeagle header name (P2_35) or AINn
	MyowareADCRefVoltage float64
	MuscleIIODevice      string
	MuscleADS1115I2CBus  string
	MuscleADS1115Addr    uint16
	MuscleADS1115Channel int
	MuscleSerialPort     string
	MuscleSerialBaud     int

	// Telemetry loop
	TelemetryInterval int // milliseconds

	// Biomechanics model
	BiomechShinMassKg   float64
	BiomechCOMDistanceM float64
	BiomechDynamicScale float64

	// Web Server
	WebServerPort int

	// MQTT; an empty broker disables the telemetry mirror
	MQTTBroker          string
	MQTTClientIDServer  string
	MQTTClientIDConsole string
	MQTTClientIDDisplay string
	TopicTelemetry      string

	// Display
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// New returns a Config populated with the defaults used on the knee brace.
func New() *Config {
	return &Config{
		LogLevel: "info",

		IMUBackend:   "auto",
		IMUI2CBus:    "2",
		IMUThighAddr: 0x68,
		IMUShinAddr:  0x69,

		IMUThighSPIDevice: "/dev/spidev6.0",
		IMUThighCSPin:     "18",
		IMUShinSPIDevice:  "/dev/spidev6.1",
		IMUShinCSPin:      "27",

		IMUAccelRange:    0,
		IMUGyroRange:     0,
		IMUDLPFConfig:    3,
		IMUSampleRateDiv: 7,

		FilterComplementaryGain: 0.98,
		FilterLowPassAlpha:      0.85,

		MuscleADCBackend:     "iio",
		MyowareADCPin:        "P2_35",
		MyowareADCRefVoltage: 3.3,
		MuscleIIODevice:      "/sys/bus/iio/devices/iio:device0",
		MuscleADS1115I2CBus:  "1",
		MuscleADS1115Addr:    0x48,
		MuscleADS1115Channel: 0,
		MuscleSerialPort:     "/dev/ttyACM0",
		MuscleSerialBaud:     115200,

		TelemetryInterval: 33,

		BiomechShinMassKg:   4.0,
		BiomechCOMDistanceM: 0.2,
		BiomechDynamicScale: 2.0,

		WebServerPort: 8010,

		MQTTClientIDServer:  "rehab-telemetry-server",
		MQTTClientIDConsole: "rehab-telemetry-console",
		MQTTClientIDDisplay: "rehab-telemetry-display",
		TopicTelemetry:      "rehab/telemetry",

		DisplayI2CBus:         "1",
		DisplayI2CAddr:        0x3C,
		DisplayUpdateInterval: 200,
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	case "LOG_LEVEL":
		c.LogLevel = value

	// IMU Hardware
	case "IMU_BACKEND":
		switch value {
		case "auto", "mpu9250", "i2c", "mock":
			c.IMUBackend = value
		default:
			return fmt.Errorf("IMU_BACKEND must be auto, mpu9250, i2c or mock, got %q", value)
		}
	case "IMU_I2C_BUS":
		c.IMUI2CBus = value
	case "IMU_THIGH_ADDR":
		return parseAddr(key, value, &c.IMUThighAddr)
	case "IMU_SHIN_ADDR":
		return parseAddr(key, value, &c.IMUShinAddr)
	case "IMU_THIGH_SPI_DEVICE":
		c.IMUThighSPIDevice = value
	case "IMU_THIGH_CS_PIN":
		c.IMUThighCSPin = value
	case "IMU_SHIN_SPI_DEVICE":
		c.IMUShinSPIDevice = value
	case "IMU_SHIN_CS_PIN":
		c.IMUShinCSPin = value

	// IMU Sensor Ranges
	case "IMU_ACCEL_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_ACCEL_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_ACCEL_RANGE must be 0-3 (0=±2g, 1=±4g, 2=±8g, 3=±16g), got %d", rangeVal)
		}
		c.IMUAccelRange = byte(rangeVal)
	case "IMU_GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("IMU_GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.IMUGyroRange = byte(rangeVal)

	// IMU Sample Rate Configuration
	case "IMU_DLPF_CFG":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_DLPF_CFG %q: %w", value, err)
		}
		if val < 0 || val > 7 {
			return fmt.Errorf("IMU_DLPF_CFG must be 0-7, got %d", val)
		}
		c.IMUDLPFConfig = byte(val)
	case "IMU_SMPLRT_DIV":
		val, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid IMU_SMPLRT_DIV %q: %w", value, err)
		}
		if val < 0 || val > 255 {
			return fmt.Errorf("IMU_SMPLRT_DIV must be 0-255, got %d", val)
		}
		c.IMUSampleRateDiv = byte(val)

	// Orientation filter
	case "FILTER_COMPLEMENTARY_GAIN":
		return parseUnit(key, value, &c.FilterComplementaryGain)
	case "FILTER_LOW_PASS_ALPHA":
		return parseUnit(key, value, &c.FilterLowPassAlpha)

	// Muscle sensor
	case "MUSCLE_ADC_BACKEND":
		switch value {
		case "iio", "ads1115", "serial", "mock":
			c.MuscleADCBackend = value
		default:
			return fmt.Errorf("MUSCLE_ADC_BACKEND must be iio, ads1115, serial or mock, got %q", value)
		}
	case "MYOWARE_ADC_PIN":
		c.MyowareADCPin = strings.ToUpper(value)
	case "MYOWARE_ADC_REF_VOLTAGE":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MYOWARE_ADC_REF_VOLTAGE %q: %w", value, err)
		}
		if v <= 0 {
			return fmt.Errorf("MYOWARE_ADC_REF_VOLTAGE must be positive, got %g", v)
		}
		c.MyowareADCRefVoltage = v
	case "MUSCLE_IIO_DEVICE":
		c.MuscleIIODevice = value
	case "MUSCLE_ADS1115_I2C_BUS":
		c.MuscleADS1115I2CBus = value
	case "MUSCLE_ADS1115_ADDR":
		return parseAddr(key, value, &c.MuscleADS1115Addr)
	case "MUSCLE_ADS1115_CHANNEL":
		ch, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MUSCLE_ADS1115_CHANNEL %q: %w", value, err)
		}
		if ch < 0 || ch > 3 {
			return fmt.Errorf("MUSCLE_ADS1115_CHANNEL must be 0-3, got %d", ch)
		}
		c.MuscleADS1115Channel = ch
	case "MUSCLE_SERIAL_PORT":
		c.MuscleSerialPort = value
	case "MUSCLE_SERIAL_BAUD":
		rate, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MUSCLE_SERIAL_BAUD %q: %w", value, err)
		}
		c.MuscleSerialBaud = rate

	// Timing
	case "TELEMETRY_INTERVAL_MS":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid TELEMETRY_INTERVAL_MS %q: %w", value, err)
		}
		c.TelemetryInterval = interval

	// Biomechanics model
	case "BIOMECH_SHIN_MASS_KG":
		return parsePositive(key, value, &c.BiomechShinMassKg)
	case "BIOMECH_COM_DISTANCE_M":
		return parsePositive(key, value, &c.BiomechCOMDistanceM)
	case "BIOMECH_DYNAMIC_SCALE":
		return parsePositive(key, value, &c.BiomechDynamicScale)

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_SERVER":
		c.MQTTClientIDServer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		return parseAddr(key, value, &c.DisplayI2CAddr)
	case "DISPLAY_UPDATE_INTERVAL":
		interval, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DISPLAY_UPDATE_INTERVAL %q: %w", value, err)
		}
		c.DisplayUpdateInterval = interval

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func parseAddr(key, value string, dst *uint16) error {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if addr > 0x7F {
		return fmt.Errorf("%s must be a 7-bit I2C address, got %#x", key, addr)
	}
	*dst = uint16(addr)
	return nil
}

func parseUnit(key, value string, dst *float64) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0, 1], got %g", key, v)
	}
	*dst = v
	return nil
}

func parsePositive(key, value string, dst *float64) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %g", key, v)
	}
	*dst = v
	return nil
}

// validate checks cross-field constraints once every source has been applied.
func (c *Config) validate() error {
	if c.TelemetryInterval <= 0 {
		return fmt.Errorf("TELEMETRY_INTERVAL_MS must be positive")
	}
	if c.WebServerPort <= 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 1-65535, got %d", c.WebServerPort)
	}
	if c.IMUThighAddr == c.IMUShinAddr && c.IMUBackend != "mpu9250" && c.IMUBackend != "mock" {
		return fmt.Errorf("IMU_THIGH_ADDR and IMU_SHIN_ADDR must differ, both are %#x", c.IMUThighAddr)
	}
	if c.MuscleADCBackend == "serial" && c.MuscleSerialBaud <= 0 {
		return fmt.Errorf("MUSCLE_SERIAL_BAUD is required for the serial muscle backend")
	}
	if c.MQTTBroker != "" && c.TopicTelemetry == "" {
		return fmt.Errorf("TOPIC_TELEMETRY is required when MQTT_BROKER is set")
	}
	return nil
}

// InitGlobal initializes the global configuration from file and environment.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
