package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/rocketscienceinc/tictactoe-sync/internal/replica"
)

const (
	TransportLocal = "local"
	TransportRedis = "redis"
)

type Config struct {
	LogLevel   string `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort   string `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort string `yaml:"socket-port" env:"SOCKET_PORT" env-default:"9091"`
	// Transport is "local" for a single process or "redis" to share sessions
	// between instances.
	Transport string `yaml:"transport" env:"TRANSPORT" env-default:"local"`
	Redis     Redis  `yaml:"redis"`
	Game      Game   `yaml:"game"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type Game struct {
	SessionID      string        `yaml:"session-id" env:"GAME_SESSION_ID" env-default:"table"`
	TickRate       time.Duration `yaml:"tick-rate" env:"GAME_TICK_RATE" env-default:"100ms"`
	OwnershipLease time.Duration `yaml:"ownership-lease" env:"GAME_OWNERSHIP_LEASE" env-default:"1s"`
	// BoardOnlyLeases stops the tick from expiring pawn leases.
	BoardOnlyLeases bool `yaml:"board-only-leases" env:"GAME_BOARD_ONLY_LEASES"`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config, err := Load(path)
	if err != nil {
		panic(err)
	}

	return config
}

func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	if config.Transport != TransportLocal && config.Transport != TransportRedis {
		return nil, fmt.Errorf("unknown transport %q", config.Transport)
	}

	if config.Game.TickRate <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %s", config.Game.TickRate)
	}

	return config, nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

func (that *Game) Settings() replica.Settings {
	return replica.Settings{
		TickRate:         that.TickRate,
		OwnershipLease:   that.OwnershipLease,
		ExpirePawnLeases: !that.BoardOnlyLeases,
	}
}
