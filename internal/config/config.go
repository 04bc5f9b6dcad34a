package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// Config holds all orgmem configuration.
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Database      DatabaseConfig      `toml:"database"`
	Index         IndexConfig         `toml:"index"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	Salience      SalienceConfig      `toml:"salience"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	MCP           MCPConfig           `toml:"mcp"`
	Log           LogConfig           `toml:"log"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"` // empty resolves to store.DefaultDBPath()
}

type IndexConfig struct {
	Path string `toml:"path"` // empty keeps the similarity index in memory
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"` // "ollama" or "hash"
	URL        string `toml:"url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	TimeoutSec int    `toml:"timeout_sec"`
	CacheMB    int    `toml:"cache_mb"`
}

type SalienceConfig struct {
	AccessBoost   float64 `toml:"access_boost"`
	DecayRate     float64 `toml:"decay_rate"`
	Floor         float64 `toml:"floor"`
	DecayInterval string  `toml:"decay_interval"` // time.ParseDuration syntax
}

type ConsolidationConfig struct {
	TimeDecayRate   float64 `toml:"time_decay_rate"`
	CrossLayerBoost float64 `toml:"cross_layer_boost"`
	PruneThreshold  float64 `toml:"prune_threshold"`
	MinAgeDays      int     `toml:"min_age_days"`
}

// MCPConfig scopes tool calls that name no tenant or team.
type MCPConfig struct {
	Tenant string `toml:"tenant"` // uuid; empty means calls must name one
	Team   string `toml:"team"`
}

type LogConfig struct {
	Level  string `toml:"level"`  // "debug" or "info"
	Format string `toml:"format"` // "pretty", "json" or "text"
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37780,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			URL:        "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			TimeoutSec: 30,
			CacheMB:    64,
		},
		Salience: SalienceConfig{
			AccessBoost:   0.05,
			DecayRate:     0.01,
			Floor:         0.01,
			DecayInterval: "24h",
		},
		Consolidation: ConsolidationConfig{
			TimeDecayRate:   0.1,
			CrossLayerBoost: 0.1,
			PruneThreshold:  0.01,
			MinAgeDays:      30,
		},
		MCP: MCPConfig{
			Team: "default",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "pretty",
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// DecayEvery parses Salience.DecayInterval, falling back to 24h.
func (c *Config) DecayEvery() time.Duration {
	d, err := time.ParseDuration(c.Salience.DecayInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// DefaultDir returns ~/.orgmem.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".orgmem"), nil
}

// Load builds the configuration. Precedence, highest first:
//  1. ORGMEM_* environment variables (ORGMEM_SERVER_PORT, ORGMEM_EMBEDDING_PROVIDER, ...)
//  2. the TOML file at path, or orgmem.toml in the working directory or ~/.orgmem
//  3. Default()
func Load(path string) (Config, error) {
	v := viper.New()
	setViperDefaults(v)
	v.SetConfigType("toml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("orgmem")
		v.AddConfigPath(".")
		if dir, err := DefaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("ORGMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return Config{
		Server: ServerConfig{
			Bind: v.GetString("server.bind"),
			Port: v.GetInt("server.port"),
		},
		Database: DatabaseConfig{Path: v.GetString("database.path")},
		Index:    IndexConfig{Path: v.GetString("index.path")},
		Embedding: EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			URL:        v.GetString("embedding.url"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetInt("embedding.dimensions"),
			TimeoutSec: v.GetInt("embedding.timeout_sec"),
			CacheMB:    v.GetInt("embedding.cache_mb"),
		},
		Salience: SalienceConfig{
			AccessBoost:   v.GetFloat64("salience.access_boost"),
			DecayRate:     v.GetFloat64("salience.decay_rate"),
			Floor:         v.GetFloat64("salience.floor"),
			DecayInterval: v.GetString("salience.decay_interval"),
		},
		Consolidation: ConsolidationConfig{
			TimeDecayRate:   v.GetFloat64("consolidation.time_decay_rate"),
			CrossLayerBoost: v.GetFloat64("consolidation.cross_layer_boost"),
			PruneThreshold:  v.GetFloat64("consolidation.prune_threshold"),
			MinAgeDays:      v.GetInt("consolidation.min_age_days"),
		},
		MCP: MCPConfig{
			Tenant: v.GetString("mcp.tenant"),
			Team:   v.GetString("mcp.team"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}, nil
}

// setViperDefaults registers Default() under dotted keys. AutomaticEnv only
// resolves keys viper already knows, so every field must appear here.
func setViperDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("index.path", d.Index.Path)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.url", d.Embedding.URL)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)
	v.SetDefault("embedding.timeout_sec", d.Embedding.TimeoutSec)
	v.SetDefault("embedding.cache_mb", d.Embedding.CacheMB)

	v.SetDefault("salience.access_boost", d.Salience.AccessBoost)
	v.SetDefault("salience.decay_rate", d.Salience.DecayRate)
	v.SetDefault("salience.floor", d.Salience.Floor)
	v.SetDefault("salience.decay_interval", d.Salience.DecayInterval)

	v.SetDefault("consolidation.time_decay_rate", d.Consolidation.TimeDecayRate)
	v.SetDefault("consolidation.cross_layer_boost", d.Consolidation.CrossLayerBoost)
	v.SetDefault("consolidation.prune_threshold", d.Consolidation.PruneThreshold)
	v.SetDefault("consolidation.min_age_days", d.Consolidation.MinAgeDays)

	v.SetDefault("mcp.tenant", d.MCP.Tenant)
	v.SetDefault("mcp.team", d.MCP.Team)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Write encodes cfg as TOML at path, creating parent directories. An existing
// file is left alone unless overwrite is set.
func Write(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}
