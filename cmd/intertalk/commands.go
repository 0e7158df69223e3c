package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattjoyce/intertalk/internal/bench"
	"github.com/mattjoyce/intertalk/internal/config"
	"github.com/mattjoyce/intertalk/internal/dispatch"
	"github.com/mattjoyce/intertalk/internal/journal"
	"github.com/mattjoyce/intertalk/internal/log"
	"github.com/mattjoyce/intertalk/internal/storage"
)

func printBenchHelp() {
	fmt.Println("Usage: intertalk bench [flags]")
	fmt.Println()
	fmt.Println("Registers N parallel incrementers and N sequential decrementers, invokes")
	fmt.Println("both conditions once and checks for lost updates and dispatch order.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH        Configuration (optional; defaults apply without one)")
	fmt.Println("  --subscribers N      Subscribers per condition (default: bench.subscribers)")
	fmt.Println("  --depth N            Layer to run on (default: bench.depth)")
	fmt.Println("  --initial-b N        Starting value of the sequential counter")
	fmt.Println("  --workers N          Parallel worker bound (default: dispatch.workers)")
	fmt.Println("  --journal            Record both invocations in the journal")
	fmt.Println("  --json               Output the report as JSON")
}

func runBench(args []string) int {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	subscribers := fs.Int("subscribers", 0, "Subscribers per condition")
	depth := fs.Int("depth", -1, "Layer to run on")
	initialB := fs.Int64("initial-b", 0, "Starting value of the sequential counter")
	workers := fs.Int("workers", -1, "Parallel worker bound")
	useJournal := fs.Bool("journal", false, "Record invocations in the journal")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath, *configPath == "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)

	opts := bench.Options{
		Depth:       cfg.Bench.Depth,
		Subscribers: cfg.Bench.Subscribers,
		InitialB:    cfg.Bench.InitialB,
	}
	if *subscribers > 0 {
		opts.Subscribers = *subscribers
	}
	if *depth >= 0 {
		opts.Depth = *depth
	}
	if *initialB != 0 {
		opts.InitialB = *initialB
	}
	dopts := dispatch.Options{Workers: cfg.Dispatch.Workers}
	if *workers >= 0 {
		dopts.Workers = *workers
	}

	ctx := context.Background()
	if *useJournal {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
			return 1
		}
		defer db.Close()
		dopts.Recorder = journal.New(db)
	}

	report, err := bench.Run(ctx, dispatch.New(dopts), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bench failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("depth:        %d\n", report.Depth)
	fmt.Printf("subscribers:  %d\n", report.Subscribers)
	fmt.Printf("counter:      %d\n", report.Counter)
	fmt.Printf("b:            %d\n", report.B)
	fmt.Printf("register:     %s\n", report.Register)
	fmt.Printf("parallel:     %s\n", report.Parallel)
	fmt.Printf("sequential:   %s\n", report.Sequential)
	return 0
}

func printJournalNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: intertalk journal <action>")
	fmt.Fprintln(w, "Actions: list")
}

func runJournalNoun(args []string) int {
	if len(args) < 1 {
		printJournalNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJournalNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "list":
		return runJournalList(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown journal action: %s\n", args[0])
		return 1
	}
}

func runJournalList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum rows")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath, *configPath == "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		return 1
	}
	defer db.Close()

	entries, err := journal.New(db).List(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list invocations: %v\n", err)
		return 1
	}

	if *jsonOut {
		if entries == nil {
			entries = []journal.Entry{}
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No invocations recorded.")
		return 0
	}
	fmt.Printf("%-36s  %-5s  %-16s  %-10s  %10s  %-9s  %s\n", "ID", "DEPTH", "CONDITION", "MODE", "DISPATCHED", "STATUS", "DURATION")
	for _, e := range entries {
		fmt.Printf("%-36s  %-5d  %-16s  %-10s  %10d  %-9s  %s\n",
			e.ID, e.Depth, e.Condition, e.Mode, e.Dispatched, e.Status, e.Duration.Round(time.Microsecond))
		if e.Error != nil {
			fmt.Printf("    error: %s\n", *e.Error)
		}
	}
	return 0
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: intertalk config <action>")
	fmt.Fprintln(w, "Actions: check, lock")
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

type checkResult struct {
	Path     string `json:"path"`
	Valid    bool   `json:"valid"`
	Locked   bool   `json:"locked"`
	Error    string `json:"error,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	target := *configPath
	if target == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		target = discovered
	}

	res := checkResult{Path: target}
	if abs, err := config.ResolvePath(target); err == nil {
		res.Path = abs
		if m, err := config.LoadChecksums(filepath.Dir(abs)); err == nil {
			res.Checksum = m.Hashes[filepath.Base(abs)]
			res.Locked = res.Checksum != ""
		}
	}
	if _, err := config.Load(target); err != nil {
		res.Error = err.Error()
	} else {
		res.Valid = true
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
	} else {
		if res.Valid {
			fmt.Printf("OK %s\n", res.Path)
		} else {
			fmt.Printf("INVALID %s\n  %s\n", res.Path, res.Error)
		}
		if res.Locked {
			fmt.Printf("integrity: locked (blake3 %s)\n", res.Checksum)
		} else {
			fmt.Println("integrity: not locked (run 'intertalk config lock')")
		}
	}

	if !res.Valid {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute the hash without writing .checksums")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	target := *configPath
	if target == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		target = discovered
	}

	report, err := config.Lock(target, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if report.Written {
		fmt.Printf("WROTE %s\n", report.ChecksumPath)
	} else {
		fmt.Printf("DRY-RUN %s (not written)\n", report.ChecksumPath)
	}
	fmt.Printf("  %s  %s\n", report.Hash, report.ConfigPath)
	return 0
}
