// Package cmd wires the timing core into a command line: the serve
// loop, the grid builder and the persistence doctor.
package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/config"
)

// Version is set at build time via ldflags.
var Version = "0.3.0"

// Config holds CLI configuration.
type Config struct {
	ConfigPath string
	Debug      bool

	Serve    bool
	RaceID   string
	Mode     string
	Roster   string
	Green    bool
	Resume   bool
	Sim      bool
	DigestS  int
	Policy   string
	Verdicts string
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `chronocore v%s — race timing core for club karting events

Usage:
  chronocore [OPTIONS]

Modes:
  -serve            Run the timing core (decoder feeds, engine, journal)
  -grid             Build a starting grid from a frozen qualifying race
  -check            Verify configuration and the persistence layer, then exit
  -version          Print version and exit

Options:
  -config PATH      Config file (default: ~/.config/chronocore/config.yaml)
  -debug            Verbose logging

Serve options:
  -race ID          Race id to load on boot (requires -mode)
  -mode NAME        Race mode from the config catalog
  -roster PATH      Roster JSON to load; omitted, the stored roster is used
  -green            Throw green immediately after the load
  -resume           Restore the named race (or the newest checkpointed one)
                    from the journal instead of loading fresh
  -sim              Feed synthetic passes for the loaded roster
  -digest N         Standings digest interval in seconds (default: 30, 0 off)

Grid options:
  -race ID          Frozen qualifying race id
  -policy NAME      Brake-failure policy: demote, use_next_valid, exclude
  -verdicts LIST    Brake verdicts, entrant=pass|fail pairs, comma separated

Examples:
  chronocore -serve -race heat-07 -mode sprint -roster roster.json -green
  chronocore -serve -resume
  chronocore -serve -race practice-1 -mode practice -sim
  chronocore -grid -race quali-07 -policy demote -verdicts 3=pass,5=fail
  chronocore -check
  chronocore -version
`, Version)
}

// Run parses flags and starts the requested mode.
func Run() error {
	var (
		cfg         Config
		serveMode   bool
		gridMode    bool
		checkMode   bool
		showVersion bool
	)

	flag.StringVar(&cfg.ConfigPath, "config", "", "Config file path")
	flag.BoolVar(&cfg.Debug, "debug", false, "Verbose logging")
	flag.BoolVar(&serveMode, "serve", false, "Run the timing core")
	flag.BoolVar(&gridMode, "grid", false, "Build a starting grid from a frozen qualifying race")
	flag.BoolVar(&checkMode, "check", false, "Verify configuration and persistence, then exit")
	flag.StringVar(&cfg.RaceID, "race", "", "Race id")
	flag.StringVar(&cfg.Mode, "mode", "", "Race mode from the config catalog")
	flag.StringVar(&cfg.Roster, "roster", "", "Roster JSON file")
	flag.BoolVar(&cfg.Green, "green", false, "Throw green immediately after the load")
	flag.BoolVar(&cfg.Resume, "resume", false, "Restore from the journal instead of loading fresh")
	flag.BoolVar(&cfg.Sim, "sim", false, "Feed synthetic passes")
	flag.IntVar(&cfg.DigestS, "digest", 30, "Standings digest interval in seconds (0 disables)")
	flag.StringVar(&cfg.Policy, "policy", "", "Grid policy: demote, use_next_valid, exclude")
	flag.StringVar(&cfg.Verdicts, "verdicts", "", "Brake verdicts, entrant=pass|fail pairs")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")

	flag.Usage = printUsage
	flag.Parse()

	if showVersion {
		fmt.Printf("chronocore v%s\n", Version)
		return nil
	}

	if cfg.ConfigPath == "" {
		cfg.ConfigPath = config.Path()
	}

	log := newLogger(cfg.Debug)

	switch {
	case checkMode:
		return runCheck(cfg)
	case gridMode:
		return runGrid(cfg, log)
	case serveMode:
		return runServe(cfg, log)
	}

	printUsage()
	return fmt.Errorf("pick a mode: -serve, -grid, -check or -version")
}

// newLogger builds the root console logger every component hangs off.
func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// ExitCodeError signals a non-zero exit code without calling os.Exit
// directly, so deferred cleanup still runs.
type ExitCodeError struct{ Code int }

func (e ExitCodeError) Error() string { return fmt.Sprintf("exit %d", e.Code) }

// loadConfig reads and validates the config file. A missing default
// file is fatal for modes that need persistence.
func loadConfig(cfg Config) (*config.Config, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("no config path; pass -config or set a home directory")
	}
	return config.Load(cfg.ConfigPath)
}
