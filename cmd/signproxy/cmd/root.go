package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/signproxy"
)

var rootCmd = &cobra.Command{
	Use:   "signproxy",
	Short: "Caching proxy for code signing",
	Long:  "Serves signtool over HTTP and never signs the same bytes twice.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/signproxy/config.yaml)")
	rootCmd.PersistentFlags().String("cache-dir", "", "cache directory (default: ~/.local/share/signproxy)")
	rootCmd.PersistentFlags().String("lineage", "", "lineage backend: json or bolt (default: json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (default: info)")

	viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("lineage.backend", rootCmd.PersistentFlags().Lookup("lineage"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SIGNPROXY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("cache_dir", signproxy.DefaultCacheDir())
	viper.SetDefault("listen", "0.0.0.0:3000")
	viper.SetDefault("signtool", "")
	viper.SetDefault("subject", "")
	viper.SetDefault("certificate.thumbprint", "")
	viper.SetDefault("certificate.store", "My")
	viper.SetDefault("certificate.local_machine", false)
	viper.SetDefault("timestamp_url", "http://timestamp.digicert.com")
	viper.SetDefault("sign_timeout", 10*time.Minute)
	viper.SetDefault("retry.attempts", signproxy.DefaultAttempts)
	viper.SetDefault("retry.cooldown", signproxy.DefaultCooldown)
	viper.SetDefault("lineage.backend", signproxy.LineageJSON)
	viper.SetDefault("scratch_dir", "")
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("remote.username", "")
	viper.SetDefault("remote.password", "")
	viper.SetDefault("compression.enabled", true)
	viper.SetDefault("compression.level", 1)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "signproxy")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "signproxy")
	}
	return ".signproxy"
}

func getCacheDir() string {
	return viper.GetString("cache_dir")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(viper.GetString("log.level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if viper.GetString("log.format") == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// openService opens the cache with the options shared by every command.
func openService(extra ...signproxy.Option) (*signproxy.Service, error) {
	opts := []signproxy.Option{
		signproxy.WithLogger(newLogger()),
		signproxy.WithLineageBackend(viper.GetString("lineage.backend")),
		signproxy.WithRetry(viper.GetInt("retry.attempts"), viper.GetDuration("retry.cooldown")),
		signproxy.WithScratchDir(viper.GetString("scratch_dir")),
		signproxy.WithConcurrency(viper.GetInt("concurrency")),
	}
	return signproxy.Open(getCacheDir(), append(opts, extra...)...)
}
