package main

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "RPCKIT"

// Config is the configuration of the command.
type Config struct {
	Namespace   string        `mapstructure:"namespace"`
	ID          string        `mapstructure:"id"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	Listen  string `mapstructure:"listen"`
	Metrics string `mapstructure:"metrics"`
	ACL     string `mapstructure:"acl"`

	Connect  string        `mapstructure:"connect"`
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("namespace", "rpckit")
	v.SetDefault("id", "echo")
	v.SetDefault("open_timeout", 30*time.Second)
	v.SetDefault("call_timeout", 30*time.Second)
	v.SetDefault("listen", "localhost:7070")
	v.SetDefault("acl", "true")
	v.SetDefault("connect", "localhost:7070")
	v.SetDefault("count", 1)
	v.SetDefault("interval", time.Second)
}

func bindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()

	f.String("config", "", "config file path")
	f.String("namespace", "", "namespace of the terminal pair")
	f.String("id", "", "participant ID of the terminal pair")
	f.Duration("open-timeout", 0, "session open timeout")
	f.Duration("call-timeout", 0, "api call timeout")

	_ = v.BindPFlag("namespace", f.Lookup("namespace"))
	_ = v.BindPFlag("id", f.Lookup("id"))
	_ = v.BindPFlag("open_timeout", f.Lookup("open-timeout"))
	_ = v.BindPFlag("call_timeout", f.Lookup("call-timeout"))
}

func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading config file %q failed", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.WithStack(err)
	}
	if cfg.ID == "" {
		return Config{}, errors.New("participant ID is required")
	}
	return cfg, nil
}
