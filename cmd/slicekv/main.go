package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/slicekv/pkg/common/log"
	"github.com/KevoDB/slicekv/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".sync"),
	readline.PcItem(".dump"),
	readline.PcItem(".load"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("SCAN",
		readline.PcItem("RANGE"),
	),
)

// Config holds the application configuration
type Config struct {
	DBPath    string
	LogLevel  string
	Telemetry bool
}

func main() {
	config := parseFlags()

	level, err := log.ParseLevel(config.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(2)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
	log.SetDefaultLogger(logger)

	tel, err := setupTelemetry(config.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed: %v", err)
		}
	}()

	sh := newShell(os.Stdout, os.Stderr, logger, tel)
	if config.DBPath != "" {
		fmt.Printf("Opening database at %s\n", config.DBPath)
		if err := sh.open(config.DBPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err)
			os.Exit(1)
		}
	}
	defer sh.close()

	runInteractive(sh)
}

// parseFlags parses command line flags and returns a Config
func parseFlags() Config {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "slicekv - An embedded, memory-mapped, sharded key-value store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: slicekv [options] [database_path]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor the list of commands, start slicekv and type .help\n")
	}

	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	tel := flag.Bool("telemetry", false, "Export metrics and traces to stderr (SLICEKV_TELEMETRY_* refine it)")
	flag.Parse()

	var dbPath string
	if flag.NArg() > 0 {
		dbPath = flag.Arg(0)
	}

	return Config{
		DBPath:    dbPath,
		LogLevel:  *logLevel,
		Telemetry: *tel,
	}
}

func setupTelemetry(enabled bool) (telemetry.Telemetry, error) {
	if !enabled {
		return telemetry.NewNoop(), nil
	}
	cfg := telemetry.DefaultConfig()
	cfg.LoadFromEnv()
	cfg.Enabled = true
	cfg.Output = os.Stderr
	return telemetry.New(cfg)
}

// runInteractive starts the interactive CLI mode
func runInteractive(sh *shell) {
	fmt.Println("slicekv version 0.1.0")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".slicekv_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          sh.prompt(),
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(sh.prompt())

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if sh.execute(line) {
			return
		}
	}
}
