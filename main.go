package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/pgsink/pgsink/copyin"
	"github.com/pgsink/pgsink/pgwire"
)

// FileConfig represents the YAML configuration file structure
type FileConfig struct {
	Addr        string   `yaml:"addr"`
	User        string   `yaml:"user"`
	Password    string   `yaml:"password"`
	Database    string   `yaml:"database"`
	Timeout     string   `yaml:"timeout"` // e.g., "30s"
	Table       string   `yaml:"table"`
	Schema      string   `yaml:"schema"`
	Columns     []string `yaml:"columns"`
	Types       []string `yaml:"types"`
	File        string   `yaml:"file"`
	NullEmpty   *bool    `yaml:"null_empty"`
	Truncate    *bool    `yaml:"truncate"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// loadConfigFile loads configuration from a YAML file
func loadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// env returns the environment variable value or a default
func env(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func main() {
	configFile := flag.String("config", env("PGSINK_CONFIG", ""), "Path to YAML config file (env: PGSINK_CONFIG)")
	cli := configCLIInputs{}
	flag.StringVar(&cli.Addr, "addr", "", "Server address host:port (env: PGSINK_ADDR)")
	flag.StringVar(&cli.User, "user", "", "Database user (env: PGSINK_USER)")
	flag.StringVar(&cli.Password, "password", "", "Database password (env: PGSINK_PASSWORD)")
	flag.StringVar(&cli.Database, "database", "", "Database name (env: PGSINK_DATABASE)")
	flag.StringVar(&cli.Timeout, "timeout", "", "Per-IO network timeout, e.g. 30s (env: PGSINK_TIMEOUT)")
	flag.StringVar(&cli.Table, "table", "", "Target table (env: PGSINK_TABLE)")
	flag.StringVar(&cli.Schema, "schema", "", "Target schema, defaults to the search path")
	flag.StringVar(&cli.Columns, "columns", "", "Comma-separated column list; defaults to the CSV header row")
	flag.StringVar(&cli.Types, "types", "", "Comma-separated column types (int2,int4,int8,float4,float8,bool,text,bytea,date,timestamptz)")
	flag.StringVar(&cli.File, "file", "", "CSV file to load, .gz accepted; - for stdin (env: PGSINK_FILE)")
	flag.BoolVar(&cli.NullEmpty, "null-empty", false, "Load empty CSV fields as NULL")
	flag.BoolVar(&cli.Truncate, "truncate", false, "Truncate the target table before loading")
	flag.StringVar(&cli.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address during the load (env: PGSINK_METRICS_ADDR)")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pgsink - bulk CSV loader for PostgreSQL over binary COPY\n\n")
		fmt.Fprintf(os.Stderr, "Usage: pgsink [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_CONFIG        Path to YAML config file\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_ADDR          Server address (default: 127.0.0.1:5432)\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_USER          Database user (default: postgres)\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_PASSWORD      Database password\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_DATABASE      Database name\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_TABLE         Target table\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_FILE          CSV file to load\n")
		fmt.Fprintf(os.Stderr, "  PGSINK_METRICS_ADDR  Prometheus metrics address\n")
		fmt.Fprintf(os.Stderr, "\nPrecedence: CLI flags > environment variables > config file > defaults\n")
	}

	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	cli.Set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { cli.Set[f.Name] = true })

	var fileCfg *FileConfig
	if *configFile != "" {
		var err error
		fileCfg, err = loadConfigFile(*configFile)
		if err != nil {
			slog.Error("Failed to load config file.", "path", *configFile, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded configuration.", "path", *configFile)
	}

	cfg := resolveEffectiveConfig(fileCfg, cli, os.Getenv, func(msg string) {
		slog.Warn(msg)
	})

	if cfg.Table == "" || cfg.File == "" {
		fmt.Fprintln(os.Stderr, "pgsink: -table and -file are required")
		flag.Usage()
		os.Exit(2)
	}

	shutdownLogging := initLogging()
	defer shutdownLogging()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			slog.Info("Serving metrics.", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Warn("Metrics server error.", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	rows, err := runImport(ctx, cfg)
	if err != nil {
		slog.Error("Import failed.", "error", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)
	slog.Info("Import complete.",
		"table", cfg.Table,
		"rows", rows,
		"elapsed", elapsed.Round(time.Millisecond),
		"rows_per_sec", int64(float64(rows)/max(elapsed.Seconds(), 0.001)),
	)
}

// openInput opens the CSV source, transparently decompressing .gz files.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return struct {
		io.Reader
		io.Closer
	}{gz, f}, nil
}

// convertField turns a CSV field into a typed value for the importer. An
// unknown or empty type loads the field as text.
func convertField(field, typ string) (any, error) {
	switch typ {
	case "int2", "int4", "int8":
		return strconv.ParseInt(field, 10, 64)
	case "float4", "float8":
		return strconv.ParseFloat(field, 64)
	case "bool":
		return strconv.ParseBool(field)
	case "bytea":
		return []byte(field), nil
	case "date":
		return time.Parse("2006-01-02", field)
	case "timestamp", "timestamptz":
		return time.Parse(time.RFC3339, field)
	default:
		return field, nil
	}
}

func runImport(ctx context.Context, cfg loadConfig) (int64, error) {
	in, err := openInput(cfg.File)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	reader := csv.NewReader(in)
	reader.ReuseRecord = true

	columns := cfg.Columns
	if len(columns) == 0 {
		header, err := reader.Read()
		if err != nil {
			return 0, fmt.Errorf("reading CSV header: %w", err)
		}
		columns = append([]string{}, header...)
	}
	if len(cfg.Types) > 0 && len(cfg.Types) != len(columns) {
		return 0, fmt.Errorf("%d types given for %d columns", len(cfg.Types), len(columns))
	}

	conn, err := pgwire.Connect(ctx, pgwire.Config{
		Addr:        cfg.Addr,
		User:        cfg.User,
		Password:    cfg.Password,
		Database:    cfg.Database,
		Timeout:     cfg.Timeout,
		DialRetries: 3,
	})
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	target := pq.QuoteIdentifier(cfg.Table)
	query := copyin.CopyInQuery(cfg.Table, columns...)
	if cfg.Schema != "" {
		target = pq.QuoteIdentifier(cfg.Schema) + "." + target
		query = copyin.CopyInQuerySchema(cfg.Schema, cfg.Table, columns...)
	}

	if cfg.Truncate {
		if _, err := conn.Exec(ctx, "TRUNCATE "+target); err != nil {
			return 0, fmt.Errorf("truncating %s: %w", target, err)
		}
		slog.Info("Truncated target table.", "table", target)
	}

	imp, err := copyin.Begin(ctx, conn, query)
	if err != nil {
		return 0, err
	}
	defer imp.Close(context.Background())

	if got := imp.ColumnCount(); got != len(columns) {
		return 0, fmt.Errorf("server negotiated %d columns, input has %d", got, len(columns))
	}

	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("reading CSV: %w", err)
		}
		line++
		if len(record) != len(columns) {
			return 0, fmt.Errorf("line %d: %d fields, want %d", line, len(record), len(columns))
		}

		if err := imp.StartRow(ctx); err != nil {
			return 0, err
		}
		for i, field := range record {
			if cfg.NullEmpty && field == "" {
				if err := imp.WriteNull(ctx); err != nil {
					return 0, err
				}
				continue
			}
			var typ string
			if len(cfg.Types) > 0 {
				typ = cfg.Types[i]
			}
			v, err := convertField(field, typ)
			if err != nil {
				return 0, fmt.Errorf("line %d column %s: %w", line, columns[i], err)
			}
			if typ != "" {
				err = imp.Write(ctx, v, copyin.WithTypeName(typ))
			} else {
				err = imp.Write(ctx, v)
			}
			if err != nil {
				return 0, fmt.Errorf("line %d column %s: %w", line, columns[i], err)
			}
		}
	}

	return imp.Complete(ctx)
}
