package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"api"`

	// RoomFile points at a room description (see LoadRoom). Optional.
	RoomFile string `mapstructure:"room_file"`

	Hub struct {
		PingInterval  time.Duration `mapstructure:"ping_interval"`
		DeadMultiple  int           `mapstructure:"dead_multiple"`
		PushBuffer    int           `mapstructure:"push_buffer"`
		StreamBuffer  int           `mapstructure:"stream_buffer"`
		CommandBuffer int           `mapstructure:"command_buffer"`
	} `mapstructure:"hub"`

	Poll struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"poll"`

	Send struct {
		RatePerSec float64 `mapstructure:"rate_per_sec"`
		Burst      int     `mapstructure:"burst"`
	} `mapstructure:"send"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Room Room `mapstructure:"-"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("api.listen", "127.0.0.1:7070")
	v.SetDefault("room_file", "")
	v.SetDefault("hub.ping_interval", "15s")
	v.SetDefault("hub.dead_multiple", 2)
	v.SetDefault("hub.push_buffer", 16)
	v.SetDefault("hub.stream_buffer", 64)
	v.SetDefault("hub.command_buffer", 256)
	v.SetDefault("poll.timeout", "30s")
	v.SetDefault("send.rate_per_sec", 20)
	v.SetDefault("send.burst", 40)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Env overrides
	v.SetEnvPrefix("ROOMRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api.listen", "ROOMRELAY_API_LISTEN")
	_ = v.BindEnv("room_file", "ROOMRELAY_ROOM_FILE")
	_ = v.BindEnv("log.level", "ROOMRELAY_LOG_LEVEL")
	_ = v.BindEnv("log.format", "ROOMRELAY_LOG_FORMAT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if c.Hub.PingInterval <= 0 {
		return nil, fmt.Errorf("hub.ping_interval must be positive")
	}
	if c.Hub.DeadMultiple < 1 {
		return nil, fmt.Errorf("hub.dead_multiple must be at least 1")
	}
	if c.Poll.Timeout <= 0 {
		return nil, fmt.Errorf("poll.timeout must be positive")
	}
	if c.Send.RatePerSec <= 0 {
		return nil, fmt.Errorf("send.rate_per_sec must be positive")
	}
	if c.Send.Burst < 1 {
		return nil, fmt.Errorf("send.burst must be at least 1")
	}

	c.Room = Room{ID: DefaultRoomID}
	if c.RoomFile != "" {
		room, err := LoadRoom(c.RoomFile)
		if err != nil {
			return nil, err
		}
		c.Room = *room
	}
	return &c, nil
}

// DeadAfter is how long a push connection may go without a pong.
func (c *Config) DeadAfter() time.Duration {
	return time.Duration(c.Hub.DeadMultiple) * c.Hub.PingInterval
}
