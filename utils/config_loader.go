package utils

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidBaudRate is returned when the serial baud rate is not positive.
	ErrInvalidBaudRate = errors.New("baud rate must be positive")
	// ErrInvalidSensitivity is returned when the sensor sensitivity is not positive.
	ErrInvalidSensitivity = errors.New("sensitivity must be positive")
	// ErrInvalidSampleRate is returned when the assumed render sample rate is not positive.
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidInterval is returned for a non-positive monitor or read interval.
	ErrInvalidInterval = errors.New("interval must be positive")
	// ErrLogPathRequired is returned when persistence has nowhere to write.
	ErrLogPathRequired = errors.New("storage log path is required")
	// ErrMQTTBrokerRequired is returned when MQTT forwarding is enabled without a broker.
	ErrMQTTBrokerRequired = errors.New("mqtt broker is required when mqtt is enabled")
)

// ─── Section configs ────────────────────────────────────────────────────

type SerialConfig struct {
	Port          string `yaml:"port"`
	BaudRate      int    `yaml:"baud_rate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms"`
	SettleMs      int    `yaml:"settle_ms"`
	LoopSleepMs   int    `yaml:"loop_sleep_ms"`
	JoinTimeoutMs int    `yaml:"join_timeout_ms"`
}

type SensorConfig struct {
	Sensitivity float64 `yaml:"sensitivity"` // LSB per gauss
}

type BufferConfig struct {
	Capacity int `yaml:"capacity"`
}

type StorageConfig struct {
	LogPath         string `yaml:"log_path"`
	BufferSizeKB    int    `yaml:"buffer_size_kb"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

type RenderConfig struct {
	SampleRateHz     float64 `yaml:"sample_rate_hz"`
	LowDivisor       int     `yaml:"low_divisor"`
	MediumDivisor    int     `yaml:"medium_divisor"`
	HighDivisor      int     `yaml:"high_divisor"`
	SmallWindow      int     `yaml:"small_window"`
	LargeWindow      int     `yaml:"large_window"`
	LargeLogRows     int     `yaml:"large_log_rows"`
	PlotWidthInches  float64 `yaml:"plot_width_inches"`
	PlotHeightInches float64 `yaml:"plot_height_inches"`
}

type MonitorConfig struct {
	IntervalMs int    `yaml:"interval_ms"`
	MaxPoints  int    `yaml:"max_points"`
	HTTPAddr   string `yaml:"http_addr"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UseTLS      bool   `yaml:"use_tls"`
	TopicPrefix string `yaml:"topic_prefix"`
	QueueSize   int    `yaml:"queue_size"`
}

type SimulationConfig struct {
	Enabled     bool    `yaml:"enabled"`
	RateHz      float64 `yaml:"rate_hz"`
	CorruptRate float64 `yaml:"corrupt_rate"` // fraction of lines emitted malformed
}

// Config is the top-level structure for maglogger.yaml.
type Config struct {
	Serial     SerialConfig     `yaml:"serial"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Buffer     BufferConfig     `yaml:"buffer"`
	Storage    StorageConfig    `yaml:"storage"`
	Render     RenderConfig     `yaml:"render"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// DefaultConfig returns the settings of the reference LIS3MDL + Arduino setup.
func DefaultConfig() Config {
	return Config{
		Serial: SerialConfig{
			BaudRate:      115200,
			ReadTimeoutMs: 1000,
			SettleMs:      2000,
			LoopSleepMs:   10,
			JoinTimeoutMs: 5000,
		},
		Sensor: SensorConfig{Sensitivity: 6842},
		Buffer: BufferConfig{Capacity: 288_000}, // 1 h at 80 Hz
		Storage: StorageConfig{
			LogPath:      "sensor_data.csv",
			BufferSizeKB: 64,
		},
		Render: RenderConfig{
			SampleRateHz:     80,
			LowDivisor:       100_000,
			MediumDivisor:    500_000,
			HighDivisor:      1_000_000,
			SmallWindow:      80,
			LargeWindow:      72_000,
			LargeLogRows:     100_000,
			PlotWidthInches:  12,
			PlotHeightInches: 6,
		},
		Monitor: MonitorConfig{
			IntervalMs: 600,
			MaxPoints:  5000,
		},
		MQTT: MQTTConfig{
			Port:        1883,
			TopicPrefix: "maglogger",
			QueueSize:   256,
		},
		Simulation: SimulationConfig{
			RateHz:      80,
			CorruptRate: 0.01,
		},
	}
}

// ─── Loaders ────────────────────────────────────────────────────────────

// LoadConfig reads path and overlays it on DefaultConfig. An empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBaudRate, c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		return fmt.Errorf("%w: serial.read_timeout_ms=%d", ErrInvalidInterval, c.Serial.ReadTimeoutMs)
	}
	if c.Sensor.Sensitivity <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSensitivity, c.Sensor.Sensitivity)
	}
	if c.Render.SampleRateHz <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSampleRate, c.Render.SampleRateHz)
	}
	if c.Monitor.IntervalMs <= 0 {
		return fmt.Errorf("%w: monitor.interval_ms=%d", ErrInvalidInterval, c.Monitor.IntervalMs)
	}
	if c.Storage.LogPath == "" {
		return ErrLogPathRequired
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return ErrMQTTBrokerRequired
	}
	return nil
}
