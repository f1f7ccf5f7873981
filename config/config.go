package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Game      GameConfig      `mapstructure:"game"`
	Creature  CreatureConfig  `mapstructure:"creature"`
	Pocket    PocketConfig    `mapstructure:"pocket"`
	Security  SecurityConfig  `mapstructure:"security"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Script    ScriptConfig    `mapstructure:"script"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	NodeID   string `mapstructure:"node_id"` // empty: random uuid at startup
	// Authority makes this node try to take the session lease at startup.
	Authority bool `mapstructure:"authority"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type GameConfig struct {
	SessionID         string `mapstructure:"session_id"`
	TickMs            int    `mapstructure:"tick_ms"`
	AIIntervalMs      int    `mapstructure:"ai_interval_ms"`
	SnapshotIntervalS int    `mapstructure:"snapshot_interval_s"`
	LeaseTTLS         int    `mapstructure:"lease_ttl_s"`
	JournalBatch      int    `mapstructure:"journal_batch"`
	// LayoutPath seeds the world with a facility layout before any host attaches.
	LayoutPath        string `mapstructure:"layout_path"`
}

// Tick is the simulation step.
func (g GameConfig) Tick() time.Duration { return time.Duration(g.TickMs) * time.Millisecond }

// AIEvery converts the AI interval into a whole number of ticks.
func (g GameConfig) AIEvery() int {
	if g.TickMs <= 0 {
		return 1
	}
	n := g.AIIntervalMs / g.TickMs
	if n < 1 {
		n = 1
	}
	return n
}

// LeaseTTL is how long an authority lease survives without renewal.
func (g GameConfig) LeaseTTL() time.Duration { return time.Duration(g.LeaseTTLS) * time.Second }

type CreatureConfig struct {
	SpawnWeight              int   `mapstructure:"spawn_weight"`
	Stunnable                bool  `mapstructure:"stunnable"`
	NonDeadlyInteractions    int   `mapstructure:"non_deadly_interactions"`
	ChanceForPocketDimension int   `mapstructure:"chance_for_pocket_dimension"`
	CanGoOutside             bool  `mapstructure:"can_go_outside"`
	CanGoInsideShip          bool  `mapstructure:"can_go_inside_ship"`
	Seed                     int64 `mapstructure:"seed"` // 0: random
}

type PocketConfig struct {
	BleedOutS        int `mapstructure:"bleed_out_s"`
	ThroneCountdownS int `mapstructure:"throne_countdown_s"`
	EscapeBuffS      int `mapstructure:"escape_buff_s"`
	AmbientIntervalS int `mapstructure:"ambient_interval_s"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTLH        time.Duration `mapstructure:"jwt_ttl_h"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminWhitelist restricts the admin API to these IPs. Empty allows all.
	AdminWhitelist []string `mapstructure:"admin_whitelist"`
}

type TelemetryConfig struct {
	OTelEndpoint string `mapstructure:"otel_endpoint"` // empty disables export
	ServiceName  string `mapstructure:"service_name"`
}

// ScriptConfig configures the rule sandbox. Rules run on hook events.
type ScriptConfig struct {
	VMPoolSize int           `mapstructure:"vm_pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Rules      []ScriptRule  `mapstructure:"rules"`
}

type ScriptRule struct {
	Name   string `mapstructure:"name"`
	Event  string `mapstructure:"event"`
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.authority", true)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/corrosion.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("game.session_id", "default")
	v.SetDefault("game.tick_ms", 50)
	v.SetDefault("game.ai_interval_ms", 200)
	v.SetDefault("game.snapshot_interval_s", 5)
	v.SetDefault("game.lease_ttl_s", 10)
	v.SetDefault("game.journal_batch", 64)
	v.SetDefault("game.layout_path", "")
	v.SetDefault("creature.spawn_weight", 35)
	v.SetDefault("creature.stunnable", true)
	v.SetDefault("creature.non_deadly_interactions", 15)
	v.SetDefault("creature.chance_for_pocket_dimension", 20)
	v.SetDefault("creature.can_go_outside", false)
	v.SetDefault("creature.can_go_inside_ship", false)
	v.SetDefault("creature.seed", 0)
	v.SetDefault("pocket.bleed_out_s", 45)
	v.SetDefault("pocket.throne_countdown_s", 10)
	v.SetDefault("pocket.escape_buff_s", 10)
	v.SetDefault("pocket.ambient_interval_s", 15)
	v.SetDefault("security.jwt_ttl_h", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("telemetry.service_name", "corrosion")
	v.SetDefault("script.vm_pool_size", 2)
	v.SetDefault("script.timeout", "50ms")
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CORROSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration with every default applied and no file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}
