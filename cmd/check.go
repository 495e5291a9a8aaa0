package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hybridsix/chronocore/config"
	"github.com/hybridsix/chronocore/store"
)

// CheckStatus is the severity of one doctor check.
type CheckStatus int

const (
	CheckOK   CheckStatus = 0
	CheckWarn CheckStatus = 1
	CheckCrit CheckStatus = 2
	CheckSkip CheckStatus = 3
)

func (s CheckStatus) String() string {
	switch s {
	case CheckOK:
		return "OK"
	case CheckWarn:
		return "WARN"
	case CheckCrit:
		return "CRIT"
	case CheckSkip:
		return "SKIP"
	}
	return "UNKNOWN"
}

// CheckResult is the outcome of a single doctor check.
type CheckResult struct {
	Category string
	Name     string
	Status   CheckStatus
	Detail   string
	Advice   string
}

// runCheck verifies the configuration and the persistence layer, then
// exits 2 when a race could not safely run on this setup and 1 on
// warnings worth reading before race day.
func runCheck(cli Config) error {
	var checks []CheckResult

	cfg, err := loadConfig(cli)
	if err != nil {
		checks = append(checks, CheckResult{
			Category: "Config", Name: "File", Status: CheckCrit,
			Detail: fmt.Sprintf("%s: %v", cli.ConfigPath, err),
			Advice: "fix the config file, or point -config at another one",
		})
	} else {
		checks = append(checks, CheckResult{
			Category: "Config", Name: "File", Status: CheckOK, Detail: cli.ConfigPath,
		})
		checks = append(checks, checkModes(cfg)...)
		checks = append(checks, checkListeners(cfg)...)
		checks = append(checks, checkPersistence(cfg)...)
	}

	worst := worstStatus(checks)
	renderChecks(checks, worst)

	switch worst {
	case CheckCrit:
		return ExitCodeError{Code: 2}
	case CheckWarn:
		return ExitCodeError{Code: 1}
	}
	return nil
}

func checkModes(cfg *config.Config) []CheckResult {
	if len(cfg.Modes) == 0 {
		return []CheckResult{{
			Category: "Config", Name: "Modes", Status: CheckWarn,
			Detail: "no race modes defined",
			Advice: "-serve -mode has nothing to load until modes: is filled in",
		}}
	}
	names := make([]string, 0, len(cfg.Modes))
	for name := range cfg.Modes {
		names = append(names, name)
	}
	sort.Strings(names)
	return []CheckResult{{
		Category: "Config", Name: "Modes", Status: CheckOK,
		Detail: fmt.Sprintf("%d defined: %s", len(names), strings.Join(names, ", ")),
	}}
}

func checkListeners(cfg *config.Config) []CheckResult {
	var checks []CheckResult
	if addr := cfg.App.Ingest.Listeners.TCP; addr != "" {
		status, detail := CheckOK, addr
		if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
			status, detail = CheckCrit, fmt.Sprintf("%s: %v", addr, err)
		}
		checks = append(checks, CheckResult{
			Category: "Feeds", Name: "TCP listener", Status: status, Detail: detail,
		})
	}
	if addr := cfg.App.Ingest.Listeners.UDP; addr != "" {
		status, detail := CheckOK, addr
		if _, err := net.ResolveUDPAddr("udp", addr); err != nil {
			status, detail = CheckCrit, fmt.Sprintf("%s: %v", addr, err)
		}
		checks = append(checks, CheckResult{
			Category: "Feeds", Name: "UDP listener", Status: status, Detail: detail,
		})
	}
	if len(checks) == 0 {
		checks = append(checks, CheckResult{
			Category: "Feeds", Name: "Listeners", Status: CheckWarn,
			Detail: "no TCP or UDP listener configured",
			Advice: "decoder passes can only come from -sim",
		})
	}
	return checks
}

func checkPersistence(cfg *config.Config) []CheckResult {
	pers := cfg.App.Engine.Persistence
	if !pers.Enabled {
		return []CheckResult{{
			Category: "Persistence", Name: "Journal", Status: CheckWarn,
			Detail: "disabled",
			Advice: "races will run, but cannot recover after a crash or freeze results",
		}}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Open without recreate: the doctor must never touch stored races.
	db, err := store.Open(pers.SQLitePath, store.Options{Fsync: pers.Fsync})
	if err != nil {
		return []CheckResult{{
			Category: "Persistence", Name: "Database", Status: CheckCrit,
			Detail: fmt.Sprintf("%s: %v", pers.SQLitePath, err),
			Advice: "check the path and its directory permissions",
		}}
	}
	defer db.Close()

	var checks []CheckResult
	detail := db.Path()
	if fi, err := os.Stat(db.Path()); err == nil {
		size := uint64(fi.Size())
		if wi, err := os.Stat(db.Path() + "-wal"); err == nil {
			size += uint64(wi.Size())
		}
		detail = fmt.Sprintf("%s (%s on disk)", db.Path(), humanize.Bytes(size))
	}
	checks = append(checks, CheckResult{
		Category: "Persistence", Name: "Database", Status: CheckOK, Detail: detail,
	})

	mode, err := db.JournalMode(ctx)
	switch {
	case err != nil:
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Journal mode", Status: CheckCrit, Detail: err.Error(),
		})
	case mode != "wal":
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Journal mode", Status: CheckWarn, Detail: mode,
			Advice: "wal keeps readers from stalling the writer; this filesystem may not support it",
		})
	default:
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Journal mode", Status: CheckOK, Detail: mode,
		})
	}

	if counts, err := db.TableCounts(ctx); err != nil {
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Tables", Status: CheckCrit, Detail: err.Error(),
		})
	} else {
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s %s", name, humanize.Comma(counts[name])))
		}
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Tables", Status: CheckOK,
			Detail: strings.Join(parts, ", "),
		})
	}

	age, err := db.CheckpointAgeMs(ctx, time.Now().UnixMilli())
	switch {
	case err != nil:
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Checkpoint", Status: CheckCrit, Detail: err.Error(),
		})
	case age < 0:
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Checkpoint", Status: CheckOK,
			Detail: "none recorded yet",
		})
	default:
		when := humanize.Time(time.Now().Add(-time.Duration(age) * time.Millisecond))
		detail := fmt.Sprintf("newest %s", when)
		if raceID, ok, err := db.LatestCheckpointRace(ctx); err == nil && ok {
			detail = fmt.Sprintf("race %s, %s", raceID, when)
		}
		checks = append(checks, CheckResult{
			Category: "Persistence", Name: "Checkpoint", Status: CheckOK, Detail: detail,
		})
	}

	return checks
}

func worstStatus(checks []CheckResult) CheckStatus {
	worst := CheckOK
	for _, c := range checks {
		if c.Status < CheckSkip && c.Status > worst {
			worst = c.Status
		}
	}
	return worst
}

// renderChecks prints the report grouped by category.
func renderChecks(checks []CheckResult, worst CheckStatus) {
	fmt.Printf("chronocore check v%s\n\n", Version)

	const nameW = 14
	lastCategory := ""
	for _, c := range checks {
		if c.Category != lastCategory {
			fmt.Printf(" %s\n", c.Category)
			lastCategory = c.Category
		}
		fmt.Printf("  %-4s %-*s %s\n", c.Status, nameW, c.Name, c.Detail)
		if c.Advice != "" {
			fmt.Printf("       %-*s %s\n", nameW, "", c.Advice)
		}
	}

	fmt.Println()
	switch worst {
	case CheckOK:
		fmt.Println("all checks passed")
	case CheckWarn:
		fmt.Println("warnings found; a race can run, read the advice above")
	case CheckCrit:
		fmt.Println("critical problems; fix them before race day")
	}
}
