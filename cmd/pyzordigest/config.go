package main

// Config mirrors the env.ParseAs[ui.Config] pattern in charmbracelet/glow's
// main.go: a flat struct read from the environment, then layered under
// flags/viper defaults in init().
type Config struct {
	StoreDSN   string `env:"PYZORDIGEST_STORE_DSN" envDefault:"pyzordigest.db"`
	PolicyFile string `env:"PYZORDIGEST_POLICY_FILE"`
	MaxBuffer  int    `env:"PYZORDIGEST_MAX_BUFFER" envDefault:"0"`
	Debug      bool   `env:"PYZORDIGEST_DEBUG" envDefault:"false"`
}
