package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Hussein-Mazeh/passvault/generator"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

const (
	appName   = "passvault"
	envPrefix = "passvault"
)

// Config is the runtime configuration of passvault.
type Config struct {
	Vault     VaultConfig     `mapstructure:"vault" yaml:"vault"`
	KDF       KDFConfig       `mapstructure:"kdf" yaml:"kdf"`
	Generator GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type VaultConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir" validate:"required"`
	Cipher       string `mapstructure:"cipher" yaml:"cipher" validate:"oneof=aes-256-gcm xchacha20-poly1305"`
	VerifyOnOpen bool   `mapstructure:"verify_on_open" yaml:"verify_on_open"`
}

// KDFConfig sets the Argon2id cost for new enrollments.
type KDFConfig struct {
	Time        uint32 `mapstructure:"time" yaml:"time" validate:"min=1"`
	MemoryKiB   uint32 `mapstructure:"memory_kib" yaml:"memory_kib" validate:"min=8"`
	Parallelism uint8  `mapstructure:"parallelism" yaml:"parallelism" validate:"min=1"`
}

type GeneratorConfig struct {
	Length int    `mapstructure:"length" yaml:"length" validate:"min=4,max=128"`
	Policy string `mapstructure:"policy" yaml:"policy" validate:"oneof=uniform each-class"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// Argon2Params converts the kdf section.
func (c Config) Argon2Params() krypto.Argon2Params {
	return krypto.Argon2Params{
		Time:        c.KDF.Time,
		MemoryKiB:   c.KDF.MemoryKiB,
		Parallelism: c.KDF.Parallelism,
	}
}

// Validate checks field constraints and cross-field KDF limits.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Argon2Params().Validate(); err != nil {
		return fmt.Errorf("invalid configuration: kdf: %w", err)
	}
	return nil
}

// DefaultDir is the vault directory used when none is configured.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", appName)
	}
	return filepath.Join(dir, appName)
}

// DefaultPath is the user configuration file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not get user config directory: %w", err)
	}
	return filepath.Join(dir, appName, appName+".yaml"), nil
}

// Defaults returns the built-in value of every key.
func Defaults() map[string]any {
	kdf := krypto.DefaultArgon2Params()
	return map[string]any{
		"vault.dir":            DefaultDir(),
		"vault.cipher":         krypto.CipherAESGCM,
		"vault.verify_on_open": true,
		"kdf.time":             kdf.Time,
		"kdf.memory_kib":       kdf.MemoryKiB,
		"kdf.parallelism":      kdf.Parallelism,
		"generator.length":     generator.DefaultLength,
		"generator.policy":     "uniform",
		"log.level":            "warn",
	}
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"dir":       "vault.dir",
	"cipher":    "vault.cipher",
	"log-level": "log.level",
}

// Load resolves configuration from, lowest precedence first: defaults, the
// YAML file, a .env file in the working directory, PASSVAULT_* environment
// variables and flags set on cmd. configFile, when not empty, replaces the
// file search.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	var c Config
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range Defaults() {
		v.SetDefault(key, value)
	}

	v.SetConfigName(appName)
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if path, err := DefaultPath(); err == nil {
			v.AddConfigPath(filepath.Dir(path))
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return c, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			if f := lookupFlag(cmd, name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return c, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	c.Vault.Dir = os.ExpandEnv(c.Vault.Dir)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// WriteFile writes c as YAML to path with owner-only permissions.
func WriteFile(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("could not create config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
