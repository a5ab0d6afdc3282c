package config

import (
	"flag"
	"fmt"
)

// Flags are the command line settings shared by every command.
// Values given on the command line override the config file.
type Flags struct {
	path     string
	dataDir  string
	logLevel string
	account  string
}

// SetFlags registers the shared flags on fs.
func (f *Flags) SetFlags(fs *flag.FlagSet) {
	fs.StringVar(&f.path, "config", "", "path to yaml config")
	fs.StringVar(&f.dataDir, "data", "", "data directory, overrides data_dir")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error, overrides log_level")
	fs.StringVar(&f.account, "account", "", "account name, overrides account")
}

// Path returns the config file path given on the command line.
func (f *Flags) Path() string {
	return f.path
}

// Get loads the config file when one is given, otherwise the defaults, and applies overrides.
func (f *Flags) Get() (Config, error) {
	cfg := Default()
	if f.path != "" {
		var err error
		cfg, err = Load(f.path)
		if err != nil {
			return Config{}, err
		}
	} else {
		cfg.loadEnv()
	}

	setString(&cfg.DataDir, f.dataDir)
	setString(&cfg.LogLevel, f.logLevel)
	setString(&cfg.Account, f.account)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
