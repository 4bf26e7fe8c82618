// Package config loads lockstepd's runtime configuration. Field names
// and defaults match the values the server has always started with;
// the only change from a hardcoded struct is that they can now be
// overridden from a TOML file.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config holds every tunable of the transport and the room scheduler.
// Durations are stored as plain integers, milliseconds in the TOML file
// except the empty-room grace, which is in whole seconds; the accessor
// methods below convert them to time.Duration.
type Config struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	ServerName string `toml:"server_name"`

	MetricsAddr string `toml:"metrics_addr"` // empty disables the metrics HTTP listener

	Transport TransportConfig `toml:"transport"`
	Room      RoomConfig      `toml:"room"`
}

type TransportConfig struct {
	RetransmitIntervalMS int `toml:"retransmit_interval_ms"`
	RetransmitTimeoutMS  int `toml:"retransmit_timeout_ms"`
	MaxRetries           int `toml:"max_retries"`
	HeartbeatIntervalMS  int `toml:"heartbeat_interval_ms"`
	InactivityTimeoutMS  int `toml:"inactivity_timeout_ms"`
	ReceiveTimeoutMS     int `toml:"receive_timeout_ms"`
	MaxDatagramSize      int `toml:"max_datagram_size"`
	PeerRateLimitPerSec  int `toml:"peer_rate_limit_per_sec"`
	PeerRateLimitBurst   int `toml:"peer_rate_limit_burst"`
}

type RoomConfig struct {
	MaxPlayers           int `toml:"max_players"` // 0 disables the per-room cap
	FrameIntervalMS      int `toml:"frame_interval_ms"`
	AcceptanceWindow     int `toml:"acceptance_window"`
	EmptySubstituteAfter int `toml:"empty_substitute_after"`
	HistoryRetainFrames  int `toml:"history_retain_frames"`
	EmptyRoomGraceS      int `toml:"empty_room_grace_seconds"`
}

// Default returns the configuration the server has always shipped
// with.
func Default() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8888,
		ServerName:  "Lockstep Server [GO]",
		MetricsAddr: "",
		Transport: TransportConfig{
			RetransmitIntervalMS: 10,
			RetransmitTimeoutMS:  100,
			MaxRetries:           10,
			HeartbeatIntervalMS:  1000,
			InactivityTimeoutMS:  3000,
			ReceiveTimeoutMS:     10,
			MaxDatagramSize:      65507,
			PeerRateLimitPerSec:  200,
			PeerRateLimitBurst:   400,
		},
		Room: RoomConfig{
			MaxPlayers:           64,
			FrameIntervalMS:      50,
			AcceptanceWindow:     3,
			EmptySubstituteAfter: 3,
			HistoryRetainFrames:  60,
			EmptyRoomGraceS:      60,
		},
	}
}

// Load reads a TOML file at path, applying its values on top of
// Default() so a config file only needs to mention the fields it
// wants to override. An empty path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "loading config from %s", path)
	}
	return cfg, nil
}

func (t TransportConfig) RetransmitInterval() time.Duration {
	return time.Duration(t.RetransmitIntervalMS) * time.Millisecond
}

func (t TransportConfig) RetransmitTimeout() time.Duration {
	return time.Duration(t.RetransmitTimeoutMS) * time.Millisecond
}

func (t TransportConfig) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatIntervalMS) * time.Millisecond
}

func (t TransportConfig) InactivityTimeout() time.Duration {
	return time.Duration(t.InactivityTimeoutMS) * time.Millisecond
}

func (t TransportConfig) ReceiveTimeout() time.Duration {
	return time.Duration(t.ReceiveTimeoutMS) * time.Millisecond
}

func (r RoomConfig) FrameInterval() time.Duration {
	return time.Duration(r.FrameIntervalMS) * time.Millisecond
}

func (r RoomConfig) EmptyRoomGrace() time.Duration {
	return time.Duration(r.EmptyRoomGraceS) * time.Second
}
