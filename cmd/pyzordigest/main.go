// Command pyzordigest computes and tracks Pyzor-style message digests.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-pyzor/pyzordigest/internal/policy"
	"github.com/go-pyzor/pyzordigest/internal/store"
)

var (
	cfg        Config
	configFile string
	storeDSN   string
	policyFile string
	maxBuffer  int
	debug      bool

	rootCmd = &cobra.Command{
		Use:           "pyzordigest",
		Short:         "Compute and track Pyzor-style message digests",
		SilenceErrors: false,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
	}
)

func validateOptions(*cobra.Command) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	storeDSN = viper.GetString("storeDSN")
	policyFile = viper.GetString("policyFile")
	maxBuffer = viper.GetInt("maxBuffer")
	debug = viper.GetBool("debug")

	if debug {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func openStore() (*store.Store, error) {
	dsn := storeDSN
	if dsn == "" {
		dsn = cfg.StoreDSN
	}
	return store.Open(dsn)
}

func loadPolicy() (*policy.Policy, error) {
	path := policyFile
	if path == "" {
		path = cfg.PolicyFile
	}
	if path == "" {
		return nil, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	return policy.Compile(string(src))
}

func main() {
	var err error
	ctx, cancel := context.WithCancel(context.Background())

	notify := make(chan os.Signal, 1)
	signal.Notify(notify, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-notify
		cancel()
	}()
	defer func() {
		signal.Stop(notify)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				os.Exit(0)
			}
			os.Exit(1)
		}
	}()

	err = rootCmd.ExecuteContext(ctx)
}

func init() {
	if parsed, perr := env.ParseAs[Config](); perr == nil {
		cfg = parsed
	} else {
		log.Warn("could not parse environment configuration", "error", perr)
	}

	tryLoadConfigFromDefaultPlaces()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default searched in XDG config dirs)")
	rootCmd.PersistentFlags().String("store", "", "path to the SQLite digest history database")
	rootCmd.PersistentFlags().String("policy", "", "path to an expr policy script")
	rootCmd.PersistentFlags().Int("max-buffer", 0, "maximum digester line-buffer size in bytes (0: unbounded)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	_ = viper.BindPFlag("storeDSN", rootCmd.PersistentFlags().Lookup("store"))
	_ = viper.BindPFlag("policyFile", rootCmd.PersistentFlags().Lookup("policy"))
	_ = viper.BindPFlag("maxBuffer", rootCmd.PersistentFlags().Lookup("max-buffer"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	viper.SetDefault("storeDSN", cfg.StoreDSN)
	viper.SetDefault("policyFile", cfg.PolicyFile)
	viper.SetDefault("maxBuffer", cfg.MaxBuffer)
	viper.SetDefault("debug", cfg.Debug)

	rootCmd.AddCommand(digestCmd, watchCmd, historyCmd, consumeCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "pyzordigest")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		log.Warn("could not resolve configuration directory", "error", err)
		return
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "pyzordigest")}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("pyzordigest")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("pyzordigest")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("could not parse configuration file", "error", err)
		}
		return
	}
	log.Debug("using configuration file", "path", viper.ConfigFileUsed())
}
