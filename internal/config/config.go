package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"upgradeWatch/internal/detector"
)

const envPrefix = "UPGRADEWATCH"

// Rule configures the detection rule shared by every command.
type Rule struct {
	Signature string
	Contract  string
}

// Config holds scan configuration loaded from flags, env, or config file.
type Config struct {
	Rule
	RPCURL            string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Out               string
	RawOut            string
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Concurrency       int
	PGDSN             string
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"batch-size":         uint64(2000),
		"out":                "./data/findings.jsonl",
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
		"concurrency":        8,
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Rule:              loadRule(v),
		RPCURL:            v.GetString("rpc"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Out:               v.GetString("out"),
		RawOut:            v.GetString("raw-out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Concurrency:       v.GetInt("concurrency"),
		PGDSN:             v.GetString("pg-dsn"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// ReplayConfig holds configuration for the replay command.
type ReplayConfig struct {
	Rule
	In       string
	Out      string
	PGDSN    string
	LogLevel string
}

// LoadReplay merges config file, environment variables, and flags into ReplayConfig.
func LoadReplay(cfgFile string, flags *pflag.FlagSet) (ReplayConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]interface{}{
		"out": "./data/findings.jsonl",
	})
	if err != nil {
		return ReplayConfig{}, err
	}

	return ReplayConfig{
		Rule:     loadRule(v),
		In:       v.GetString("in"),
		Out:      v.GetString("out"),
		PGDSN:    v.GetString("pg-dsn"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("signature", detector.DefaultSignature)
	v.SetDefault("contract", "")
	v.SetDefault("log-level", "info")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}

func loadRule(v *viper.Viper) Rule {
	return Rule{
		Signature: strings.TrimSpace(v.GetString("signature")),
		Contract:  strings.TrimSpace(v.GetString("contract")),
	}
}
