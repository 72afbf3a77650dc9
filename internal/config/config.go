// Package config loads the process configuration from config.toml overlaid
// with environment variables, following the teacher's viper+validator
// pattern in api/integration-api/config/config.go — adapted from the
// teacher's flat ".env" file format to the spec's TOML file plus
// OPENTALK_OBLSK_-prefixed, "__"-nested environment overlay.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/talkbridge/mediabridge/internal/logging"
)

const envPrefix = "OPENTALK_OBLSK"

// ControllerConfig describes how to reach the conference controller. The
// Oidc* fields are optional: when OidcTokenURL is empty, cmd/recorder and
// cmd/gateway build their controller.Client with a nil collab.TokenSource,
// per §6's "Bearer auth; on 401 ... refresh via OIDC client-credentials" —
// a deployment that trusts the network path instead can simply omit them.
type ControllerConfig struct {
	BaseURL          string   `mapstructure:"base_url" toml:"base_url" validate:"required,url"`
	SignalingURL     string   `mapstructure:"signaling_url" toml:"signaling_url" validate:"required,url"`
	Ticket           string   `mapstructure:"ticket" toml:"ticket"`
	OidcTokenURL     string   `mapstructure:"oidc_token_url" toml:"oidc_token_url" validate:"omitempty,url"`
	OidcClientID     string   `mapstructure:"oidc_client_id" toml:"oidc_client_id"`
	OidcClientSecret string   `mapstructure:"oidc_client_secret" toml:"oidc_client_secret"`
	OidcScopes       []string `mapstructure:"oidc_scopes" toml:"oidc_scopes"`
}

// SIPConfig describes the gateway's SIP UA.
type SIPConfig struct {
	ListenHost    string `mapstructure:"listen_host" toml:"listen_host" validate:"required"`
	ListenPort    int    `mapstructure:"listen_port" toml:"listen_port" validate:"required,min=1,max=65535"`
	Registrar     string `mapstructure:"registrar" toml:"registrar"`
	Username      string `mapstructure:"username" toml:"username"`
	Password      string `mapstructure:"password" toml:"password"`
	StunServer    string `mapstructure:"stun_server" toml:"stun_server"`
	NatPingDeltaS int    `mapstructure:"nat_ping_delta_seconds" toml:"nat_ping_delta_seconds" validate:"omitempty,min=1"`
}

// MediaConfig describes the shared media engine's resource bounds.
type MediaConfig struct {
	PortRangeStart int    `mapstructure:"port_range_start" toml:"port_range_start" validate:"required,min=1,max=65534"`
	PortRangeEnd   int    `mapstructure:"port_range_end" toml:"port_range_end" validate:"required,gtfield=PortRangeStart,max=65535"`
	CanvasWidth    int    `mapstructure:"canvas_width" toml:"canvas_width" validate:"omitempty,min=16"`
	CanvasHeight   int    `mapstructure:"canvas_height" toml:"canvas_height" validate:"omitempty,min=16"`
	MaxVisibles    int    `mapstructure:"max_visibles" toml:"max_visibles" validate:"omitempty,min=1"`
	TrackDir       string `mapstructure:"track_dir" toml:"track_dir"`
}

// RecorderConfig is recorder-specific: where finished recordings land.
type RecorderConfig struct {
	OutputDir string `mapstructure:"output_dir" toml:"output_dir" validate:"required"`
	DumpPath  string `mapstructure:"dump_path" toml:"dump_path" validate:"required"`
}

// GatewayConfig is gateway-specific: dial-in room/passcode digit counts.
type GatewayConfig struct {
	RoomIdDigits  int `mapstructure:"room_id_digits" toml:"room_id_digits" validate:"omitempty,min=1"`
	PasscodeDigits int `mapstructure:"passcode_digits" toml:"passcode_digits" validate:"omitempty,min=1"`
}

// Config is the root configuration struct for both cmd/gateway and
// cmd/recorder; unused sections are simply left at their zero value by
// whichever binary doesn't need them.
type Config struct {
	Controller ControllerConfig  `mapstructure:"controller" toml:"controller" validate:"required"`
	SIP        SIPConfig         `mapstructure:"sip" toml:"sip"`
	Media      MediaConfig       `mapstructure:"media" toml:"media" validate:"required"`
	Recorder   RecorderConfig    `mapstructure:"recorder" toml:"recorder"`
	Gateway    GatewayConfig     `mapstructure:"gateway" toml:"gateway"`
	Logging    logging.Config    `mapstructure:"logging" toml:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("media.port_range_start", 20000)
	v.SetDefault("media.port_range_end", 40000)
	v.SetDefault("media.canvas_width", 1920)
	v.SetDefault("media.canvas_height", 1136)
	v.SetDefault("media.max_visibles", 9)
	v.SetDefault("sip.nat_ping_delta_seconds", 30)
	v.SetDefault("gateway.room_id_digits", 10)
	v.SetDefault("gateway.passcode_digits", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
}

// Load reads path (a TOML file) if it exists, overlays OPENTALK_OBLSK_*
// environment variables ("__" separates nesting, matching the spec's
// environment-override rule in §6), unmarshals into Config, and validates
// the result. A missing file is not an error — env vars and defaults alone
// may produce a valid config, which test setups rely on.
func Load(path string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("."))
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(newEnvReplacer())
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}
