// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads and validates the YAML/JSON/TOML configuration
// shared by the cmd/nanomodbus-server and cmd/nanomodbus-gateway
// binaries.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the top-level configuration document.
type Config struct {
	Server   *ServerConfig   `mapstructure:"server" validate:"omitempty"`
	Gateways []GatewayConfig `mapstructure:"gateways" validate:"omitempty,dive"`
	Log      LogConfig       `mapstructure:"log"`
}

// LogConfig configures the slog handler every binary installs at
// startup.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

// ServerConfig configures a single standalone cmd/nanomodbus-server
// instance: one transport, one Callbacks source.
type ServerConfig struct {
	UnitAddress uint8             `mapstructure:"unit_address" validate:"omitempty,min=1,max=247"`
	Transport   string            `mapstructure:"transport" validate:"required,oneof=rtu tcp"`
	Tcp         TcpConfig         `mapstructure:"tcp"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	MetricsAddr string            `mapstructure:"metrics_addr"`
}

// GatewayConfig defines a single gateway instance: one shared
// in-process register/coil table (backed by Persistence), exposed
// identically over every configured Upstream transport. UnitAddress
// is the RTU unit id the gateway answers as; it has no effect on a
// tcp Upstream, which (like most MODBUS/TCP slaves) answers any unit
// id on the connection.
type GatewayConfig struct {
	Name        string            `mapstructure:"name" validate:"required"`
	UnitAddress uint8             `mapstructure:"unit_address" validate:"omitempty,min=1,max=247"`
	Upstreams   []UpstreamConfig  `mapstructure:"upstreams" validate:"required,min=1,dive"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// UpstreamConfig defines a master-facing listener the gateway answers
// on. "tcp" is MODBUS/TCP (MBAP header) on Tcp.Address; "rtu-over-tcp"
// is RTU framing (unit id byte, CRC-16 trailer) carried over the same
// kind of TCP socket instead of a real serial line; "rtu" opens
// Serial.Device directly.
type UpstreamConfig struct {
	Type   string       `mapstructure:"type" validate:"required,oneof=tcp rtu rtu-over-tcp"`
	Tcp    TcpConfig    `mapstructure:"tcp"`
	Serial SerialConfig `mapstructure:"serial"`
}

// PersistenceConfig selects a store.Storage backend.
type PersistenceConfig struct {
	Type string `mapstructure:"type" validate:"omitempty,oneof=memory file mmap sql"`
	Path string `mapstructure:"path" validate:"required_unless=Type memory"`
}

// TcpConfig configures the listen address of a MODBUS-TCP endpoint
// (the server, or a gateway upstream).
type TcpConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

// SerialConfig configures a MODBUS-RTU serial line.
type SerialConfig struct {
	Device    string        `mapstructure:"device" validate:"required"`
	BaudRate  int           `mapstructure:"baud_rate" validate:"required,min=300"`
	DataBits  int           `mapstructure:"data_bits" validate:"omitempty,min=5,max=8"`
	Parity    string        `mapstructure:"parity" validate:"omitempty,oneof=N E O n e o"`
	StopBits  int           `mapstructure:"stop_bits" validate:"omitempty,min=1,max=2"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RqstPause time.Duration `mapstructure:"rqst_pause"`

	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// LoadConfig reads configFile (or the default search path, when
// empty), unmarshals and validates it.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/nanomodbus/")
		v.AddConfigPath("$HOME/.nanomodbus")
		v.AddConfigPath(".")
	}

	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
		// No config file found on the search path: proceed with
		// defaults plus whatever environment/flag overrides were set.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	for i := range cfg.Gateways {
		gw := &cfg.Gateways[i]
		if gw.Persistence.Type == "" {
			gw.Persistence.Type = "memory"
		}
		for j := range gw.Upstreams {
			fixupSerial(&gw.Upstreams[j].Serial)
		}
	}
	if cfg.Server != nil {
		fixupSerial(&cfg.Server.Serial)
		if cfg.Server.Persistence.Type == "" {
			cfg.Server.Persistence.Type = "memory"
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Timeout == 0 {
		s.Timeout = 500 * time.Millisecond
	}
	if s.RqstPause == 0 {
		s.RqstPause = 100 * time.Millisecond
	}
}
