package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/teleinfo/internal/protocol"
	"github.com/danmuck/teleinfo/internal/protocol/frame"
	"github.com/danmuck/teleinfo/internal/sink"
	"github.com/danmuck/teleinfo/internal/transport"
)

// Config is the collector configuration.
type Config struct {
	Serial SerialConfig
	Influx InfluxConfig
	Tags   TagsConfig
	Labels LabelsConfig
	Frame  FrameConfig
	MQTT   MQTTConfig
	Log    LogConfig
	Status StatusConfig
}

type SerialConfig struct {
	Port        string
	BaudRate    int
	DataBits    int
	ReadTimeout time.Duration
}

type InfluxConfig struct {
	URL                string
	Token              string
	Org                string
	Bucket             string
	RetryInterval      time.Duration
	WriteTimeout       time.Duration
	ReconnectOnFailure bool
}

type TagsConfig struct {
	Host   string
	Region string
}

type LabelsConfig struct {
	Integer        []string
	ChecksumExempt []string
	Identifier     string
}

type FrameConfig struct {
	ChecksumPolicy string
	Resync         bool
}

// MQTTConfig enables the frame mirror when Broker is set.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      int
}

type LogConfig struct {
	File  string
	Level string
}

// StatusConfig enables the /metrics and /healthz listener when Addr is set.
type StatusConfig struct {
	Addr string
}

// Default assembles the defaults owned by the serial, sink and protocol
// packages.
func Default() Config {
	serialDefaults := transport.DefaultSerialConfig()
	sinkDefaults := sink.DefaultConfig()
	return Config{
		Serial: SerialConfig{
			Port:        serialDefaults.Port,
			BaudRate:    serialDefaults.BaudRate,
			DataBits:    serialDefaults.DataBits,
			ReadTimeout: serialDefaults.ReadTimeout,
		},
		Influx: InfluxConfig{
			URL:                "http://localhost:8086",
			Org:                "teleinfo",
			Bucket:             sinkDefaults.Database,
			RetryInterval:      sinkDefaults.RetryInterval,
			WriteTimeout:       sinkDefaults.WriteTimeout,
			ReconnectOnFailure: sinkDefaults.ReconnectOnFailure,
		},
		Tags: TagsConfig{
			Host:   sinkDefaults.Tags.Host,
			Region: sinkDefaults.Tags.Region,
		},
		Labels: LabelsConfig{
			Integer:        append([]string(nil), protocol.DefaultIntegerLabels...),
			ChecksumExempt: append([]string(nil), protocol.DefaultChecksumExemptLabels...),
			Identifier:     protocol.DefaultIdentifierLabel,
		},
		Frame: FrameConfig{
			ChecksumPolicy: string(frame.PolicyAllLines),
			Resync:         true,
		},
		MQTT: MQTTConfig{
			ClientID: "teleinfo",
			Topic:    "teleinfo/frame",
		},
		Log: LogConfig{
			File:  "/var/log/teleinfo/releve.log",
			Level: "info",
		},
	}
}

type fileConfig struct {
	Serial struct {
		Port        string `toml:"port"`
		BaudRate    int    `toml:"baud_rate"`
		DataBits    int    `toml:"data_bits"`
		ReadTimeout string `toml:"read_timeout"`
	} `toml:"serial"`
	Influx struct {
		URL                string `toml:"url"`
		Token              string `toml:"token"`
		Org                string `toml:"org"`
		Bucket             string `toml:"bucket"`
		RetryInterval      string `toml:"retry_interval"`
		WriteTimeout       string `toml:"write_timeout"`
		ReconnectOnFailure bool   `toml:"reconnect_on_failure"`
	} `toml:"influx"`
	Tags struct {
		Host   string `toml:"host"`
		Region string `toml:"region"`
	} `toml:"tags"`
	Labels struct {
		Integer        []string `toml:"integer"`
		ChecksumExempt []string `toml:"checksum_exempt"`
		Identifier     string   `toml:"identifier"`
	} `toml:"labels"`
	Frame struct {
		ChecksumPolicy string `toml:"checksum_policy"`
		Resync         bool   `toml:"resync"`
	} `toml:"frame"`
	MQTT struct {
		Broker   string `toml:"broker"`
		ClientID string `toml:"client_id"`
		Topic    string `toml:"topic"`
		QoS      int    `toml:"qos"`
	} `toml:"mqtt"`
	Log struct {
		File  string `toml:"file"`
		Level string `toml:"level"`
	} `toml:"log"`
	Status struct {
		Addr string `toml:"addr"`
	} `toml:"status"`
}

// Load overlays the file at path onto Default. An empty path yields the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, Validate(cfg)
	}
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("serial", "port") {
		cfg.Serial.Port = strings.TrimSpace(raw.Serial.Port)
	}
	if meta.IsDefined("serial", "baud_rate") {
		cfg.Serial.BaudRate = raw.Serial.BaudRate
	}
	if meta.IsDefined("serial", "data_bits") {
		cfg.Serial.DataBits = raw.Serial.DataBits
	}
	if meta.IsDefined("serial", "read_timeout") {
		if cfg.Serial.ReadTimeout, err = parseDuration("serial.read_timeout", raw.Serial.ReadTimeout); err != nil {
			return Config{}, err
		}
	}

	if meta.IsDefined("influx", "url") {
		cfg.Influx.URL = strings.TrimSpace(raw.Influx.URL)
	}
	if meta.IsDefined("influx", "token") {
		cfg.Influx.Token = strings.TrimSpace(raw.Influx.Token)
	}
	if meta.IsDefined("influx", "org") {
		cfg.Influx.Org = strings.TrimSpace(raw.Influx.Org)
	}
	if meta.IsDefined("influx", "bucket") {
		cfg.Influx.Bucket = strings.TrimSpace(raw.Influx.Bucket)
	}
	if meta.IsDefined("influx", "retry_interval") {
		if cfg.Influx.RetryInterval, err = parseDuration("influx.retry_interval", raw.Influx.RetryInterval); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("influx", "write_timeout") {
		if cfg.Influx.WriteTimeout, err = parseDuration("influx.write_timeout", raw.Influx.WriteTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("influx", "reconnect_on_failure") {
		cfg.Influx.ReconnectOnFailure = raw.Influx.ReconnectOnFailure
	}

	if meta.IsDefined("tags", "host") {
		cfg.Tags.Host = strings.TrimSpace(raw.Tags.Host)
	}
	if meta.IsDefined("tags", "region") {
		cfg.Tags.Region = strings.TrimSpace(raw.Tags.Region)
	}

	if meta.IsDefined("labels", "integer") {
		cfg.Labels.Integer = normalizeLabels(raw.Labels.Integer)
	}
	if meta.IsDefined("labels", "checksum_exempt") {
		cfg.Labels.ChecksumExempt = normalizeLabels(raw.Labels.ChecksumExempt)
	}
	if meta.IsDefined("labels", "identifier") {
		cfg.Labels.Identifier = strings.TrimSpace(raw.Labels.Identifier)
	}

	if meta.IsDefined("frame", "checksum_policy") {
		cfg.Frame.ChecksumPolicy = strings.TrimSpace(raw.Frame.ChecksumPolicy)
	}
	if meta.IsDefined("frame", "resync") {
		cfg.Frame.Resync = raw.Frame.Resync
	}

	if meta.IsDefined("mqtt", "broker") {
		cfg.MQTT.Broker = strings.TrimSpace(raw.MQTT.Broker)
	}
	if meta.IsDefined("mqtt", "client_id") {
		cfg.MQTT.ClientID = strings.TrimSpace(raw.MQTT.ClientID)
	}
	if meta.IsDefined("mqtt", "topic") {
		cfg.MQTT.Topic = strings.TrimSpace(raw.MQTT.Topic)
	}
	if meta.IsDefined("mqtt", "qos") {
		cfg.MQTT.QoS = raw.MQTT.QoS
	}

	if meta.IsDefined("log", "file") {
		cfg.Log.File = strings.TrimSpace(raw.Log.File)
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}

	if meta.IsDefined("status", "addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.Status.Addr)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Serial.Port) == "" {
		return fmt.Errorf("serial config missing port")
	}
	if cfg.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial baud_rate must be positive: %d", cfg.Serial.BaudRate)
	}
	if cfg.Serial.DataBits < 5 || cfg.Serial.DataBits > 8 {
		return fmt.Errorf("serial data_bits must be within 5..8: %d", cfg.Serial.DataBits)
	}
	if cfg.Serial.ReadTimeout < 0 {
		return fmt.Errorf("serial read_timeout must not be negative: %v", cfg.Serial.ReadTimeout)
	}
	if strings.TrimSpace(cfg.Influx.URL) == "" {
		return fmt.Errorf("influx config missing url")
	}
	if strings.TrimSpace(cfg.Influx.Org) == "" {
		return fmt.Errorf("influx config missing org")
	}
	if strings.TrimSpace(cfg.Influx.Bucket) == "" {
		return fmt.Errorf("influx config missing bucket")
	}
	if cfg.Influx.RetryInterval <= 0 {
		return fmt.Errorf("influx retry_interval must be positive: %v", cfg.Influx.RetryInterval)
	}
	if _, err := frame.ParsePolicy(cfg.Frame.ChecksumPolicy); err != nil {
		return fmt.Errorf("frame checksum_policy: %w", err)
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be within 0..2: %d", cfg.MQTT.QoS)
	}
	if strings.TrimSpace(cfg.MQTT.Broker) != "" && strings.TrimSpace(cfg.MQTT.Topic) == "" {
		return fmt.Errorf("mqtt topic required when broker is set")
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeLabels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, label := range in {
		v := strings.TrimSpace(label)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
