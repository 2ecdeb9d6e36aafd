package main

import (
	"strings"
	"time"
)

// configCLIInputs carries the flag values plus the set of flags that were
// actually passed on the command line, so unset flags don't clobber file or
// env values with zero values.
type configCLIInputs struct {
	Set map[string]bool

	Addr        string
	User        string
	Password    string
	Database    string
	Timeout     string
	Table       string
	Schema      string
	Columns     string
	Types       string
	File        string
	NullEmpty   bool
	Truncate    bool
	MetricsAddr string
}

// loadConfig is the fully resolved configuration for one import run.
type loadConfig struct {
	Addr     string
	User     string
	Password string
	Database string
	Timeout  time.Duration

	Table   string
	Schema  string
	Columns []string
	Types   []string
	File    string

	NullEmpty   bool
	Truncate    bool
	MetricsAddr string
}

func defaultLoadConfig() loadConfig {
	return loadConfig{
		Addr:    "127.0.0.1:5432",
		User:    "postgres",
		Timeout: 30 * time.Second,
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// resolveEffectiveConfig merges configuration sources with precedence
// CLI flags > environment variables > config file > defaults.
func resolveEffectiveConfig(fileCfg *FileConfig, cli configCLIInputs, getenv func(string) string, warn func(string)) loadConfig {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if warn == nil {
		warn = func(string) {}
	}
	if cli.Set == nil {
		cli.Set = map[string]bool{}
	}

	cfg := defaultLoadConfig()

	applyDuration := func(raw, name string) {
		if raw == "" {
			return
		}
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Timeout = d
		} else {
			warn("Invalid " + name + " duration: " + err.Error())
		}
	}

	if fileCfg != nil {
		if fileCfg.Addr != "" {
			cfg.Addr = fileCfg.Addr
		}
		if fileCfg.User != "" {
			cfg.User = fileCfg.User
		}
		if fileCfg.Password != "" {
			cfg.Password = fileCfg.Password
		}
		if fileCfg.Database != "" {
			cfg.Database = fileCfg.Database
		}
		applyDuration(fileCfg.Timeout, "timeout")
		if fileCfg.Table != "" {
			cfg.Table = fileCfg.Table
		}
		if fileCfg.Schema != "" {
			cfg.Schema = fileCfg.Schema
		}
		if len(fileCfg.Columns) > 0 {
			cfg.Columns = fileCfg.Columns
		}
		if len(fileCfg.Types) > 0 {
			cfg.Types = fileCfg.Types
		}
		if fileCfg.File != "" {
			cfg.File = fileCfg.File
		}
		if fileCfg.NullEmpty != nil {
			cfg.NullEmpty = *fileCfg.NullEmpty
		}
		if fileCfg.Truncate != nil {
			cfg.Truncate = *fileCfg.Truncate
		}
		if fileCfg.MetricsAddr != "" {
			cfg.MetricsAddr = fileCfg.MetricsAddr
		}
	}

	if v := getenv("PGSINK_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("PGSINK_USER"); v != "" {
		cfg.User = v
	}
	if v := getenv("PGSINK_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := getenv("PGSINK_DATABASE"); v != "" {
		cfg.Database = v
	}
	applyDuration(getenv("PGSINK_TIMEOUT"), "PGSINK_TIMEOUT")
	if v := getenv("PGSINK_TABLE"); v != "" {
		cfg.Table = v
	}
	if v := getenv("PGSINK_FILE"); v != "" {
		cfg.File = v
	}
	if v := getenv("PGSINK_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if cli.Set["addr"] {
		cfg.Addr = cli.Addr
	}
	if cli.Set["user"] {
		cfg.User = cli.User
	}
	if cli.Set["password"] {
		cfg.Password = cli.Password
	}
	if cli.Set["database"] {
		cfg.Database = cli.Database
	}
	if cli.Set["timeout"] {
		applyDuration(cli.Timeout, "timeout")
	}
	if cli.Set["table"] {
		cfg.Table = cli.Table
	}
	if cli.Set["schema"] {
		cfg.Schema = cli.Schema
	}
	if cli.Set["columns"] {
		cfg.Columns = splitList(cli.Columns)
	}
	if cli.Set["types"] {
		cfg.Types = splitList(cli.Types)
	}
	if cli.Set["file"] {
		cfg.File = cli.File
	}
	if cli.Set["null-empty"] {
		cfg.NullEmpty = cli.NullEmpty
	}
	if cli.Set["truncate"] {
		cfg.Truncate = cli.Truncate
	}
	if cli.Set["metrics"] {
		cfg.MetricsAddr = cli.MetricsAddr
	}

	return cfg
}
