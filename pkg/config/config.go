// Package config loads the node configuration from a YAML file with sane
// defaults for every setting.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/antirez/freakwan/pkg/wire"
)

type Configuration struct {
	// Nick is the chat nickname attached to outbound messages.
	Nick   string
	Status string
	// NodeID is the 48-bit device identity. Left zero, the daemon
	// generates a random one at startup.
	NodeID wire.NodeID `mapstructure:"node_id"`

	Quiet       bool
	Promiscuous bool

	Relay struct {
		NumTX      int     `mapstructure:"num_tx"`
		MaxDelayMS uint32  `mapstructure:"max_delay_ms"`
		RSSILimit  float32 `mapstructure:"rssi_limit"`
	}

	DutyCycleLimit float64 `mapstructure:"duty_cycle_limit"`

	// Keys maps key names to their secret material; DefaultKey selects
	// the one used to encrypt outbound messages (empty sends cleartext).
	Keys       map[string]string
	DefaultKey string `mapstructure:"default_key"`

	// ListenAddr enables the status web API when non-empty.
	ListenAddr string `mapstructure:"listen_addr"`

	Database struct {
		// DSN enables the Postgres message history when non-empty.
		DSN string
	}

	MQTT struct {
		// Broker enables the MQTT bridge when non-empty,
		// e.g. "tcp://localhost:1883".
		Broker    string
		TopicRoot string `mapstructure:"topic_root"`
	}

	// LoRa carries the modem parameters handed to the hardware driver.
	// The sim driver ignores them.
	LoRa struct {
		FrequencyMHz    float64 `mapstructure:"frequency_mhz"`
		BandwidthKHz    int     `mapstructure:"bandwidth_khz"`
		CodingRate      int     `mapstructure:"coding_rate"`
		SpreadingFactor int     `mapstructure:"spreading_factor"`
		TxPowerDBM      int     `mapstructure:"tx_power_dbm"`
	} `mapstructure:"lora"`
}

// Load reads the configuration file at path, or the defaults when path is
// empty and no freakwan.yaml is found in the usual places.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("freakwan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/freakwan")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToNodeIDHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.DefaultKey != "" {
		if _, ok := cfg.Keys[cfg.DefaultKey]; !ok {
			return nil, fmt.Errorf("default_key %q is not in the keys map", cfg.DefaultKey)
		}
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("nick", "freakwan")
	v.SetDefault("status", "Hi there!")
	v.SetDefault("quiet", false)
	v.SetDefault("promiscuous", false)
	v.SetDefault("relay.num_tx", 3)
	v.SetDefault("relay.max_delay_ms", 10000)
	v.SetDefault("relay.rssi_limit", -60)
	v.SetDefault("duty_cycle_limit", 15)
	v.SetDefault("mqtt.topic_root", "freakwan")
	v.SetDefault("lora.frequency_mhz", 869.5)
	v.SetDefault("lora.bandwidth_khz", 250)
	v.SetDefault("lora.coding_rate", 8)
	v.SetDefault("lora.spreading_factor", 12)
	v.SetDefault("lora.tx_power_dbm", 10)
}

// stringToNodeIDHook decodes "aabbccddeeff" hex strings into a wire.NodeID.
func stringToNodeIDHook() mapstructure.DecodeHookFuncType {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(wire.NodeID{}) {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return wire.NodeID{}, nil
		}
		return wire.ParseNodeID(s)
	}
}
