// Command tapcpctl is a thin command-line front-end over the library: it
// loads a YAML board configuration, connects to one board, and runs a
// single operation against it (device listing, metadata inspection,
// programming, temperature, clock estimation, or the local program
// history).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/casper-tapcp/tapcpctl/bitstream"
	"github.com/casper-tapcp/tapcpctl/boardconfig"
	"github.com/casper-tapcp/tapcpctl/history"
	"github.com/casper-tapcp/tapcpctl/tapcp"
)

func main() {
	configPath := flag.String("config", "boards.yaml", "path to the board fleet YAML configuration file")
	boardName := flag.String("board", "", "name of the board to operate on (optional when the config lists exactly one)")
	historyPath := flag.String("history-path", "", "path to the local program-history SQLite database (empty disables history)")
	logLevel := flag.String("log-level", "info", "minimum log level: debug, info, warn, error")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := boardconfig.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapcpctl: %v\n", err)
		os.Exit(1)
	}

	board, err := selectBoard(cfg, *boardName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tapcpctl: %v\n", err)
		os.Exit(1)
	}

	var recorder *history.Recorder
	if *historyPath != "" {
		recorder, err = history.Open(*historyPath)
		if err != nil {
			logger.Error("failed to open history database", slog.String("path", *historyPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer recorder.Close()
	}

	// The history command needs no transport; everything else does.
	ctx := context.Background()
	if command == "history" {
		if err := runHistory(ctx, recorder); err != nil {
			fmt.Fprintf(os.Stderr, "tapcpctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	tcfg := board.TransportConfig()
	tcfg.Logger = logger
	tr, err := tapcp.Connect(ctx, tcfg)
	if err != nil {
		logger.Error("failed to connect", slog.String("board", board.Name), slog.Any("error", err))
		os.Exit(1)
	}
	defer tr.Close()

	if err := run(ctx, command, flag.Args()[1:], tr, board, recorder); err != nil {
		fmt.Fprintf(os.Stderr, "tapcpctl: %s: %v\n", command, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, tr *tapcp.Transport, board *boardconfig.Board, recorder *history.Recorder) error {
	switch command {
	case "listdev":
		return runListDev(ctx, tr)
	case "status":
		return runStatus(ctx, tr)
	case "metadata":
		return runMetadata(ctx, tr)
	case "temp":
		return runTemp(ctx, tr)
	case "clock":
		return runClock(ctx, tr)
	case "program":
		return runProgram(ctx, tr, board, args, recorder)
	case "deprogram":
		return tr.Deprogram(ctx)
	default:
		return fmt.Errorf("unrecognized command %q", command)
	}
}

func runListDev(ctx context.Context, tr *tapcp.Transport) error {
	devs, err := tr.ListDev(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(devs))
	for name := range devs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r := devs[name]
		fmt.Printf("%-40s 0x%08x %6d bytes\n", name, r.Addr, r.Length)
	}
	return nil
}

func runStatus(ctx context.Context, tr *tapcp.Transport) error {
	running, err := tr.IsRunning(ctx)
	if err != nil {
		return err
	}
	if running {
		fmt.Println("running")
	} else {
		fmt.Println("not running")
	}
	return nil
}

func runMetadata(ctx context.Context, tr *tapcp.Transport) error {
	meta, err := tr.Metadata(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s\t%s\n", k, meta[k])
	}
	return nil
}

func runTemp(ctx context.Context, tr *tapcp.Transport) error {
	c, err := tr.Temperature(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%.1f C\n", c)
	return nil
}

func runClock(ctx context.Context, tr *tapcp.Transport) error {
	mhz, err := tr.EstimateClockMHz(ctx, 2*time.Second)
	if err != nil {
		return err
	}
	fmt.Printf("%.3f MHz\n", mhz)
	return nil
}

func runProgram(ctx context.Context, tr *tapcp.Transport, board *boardconfig.Board, args []string, recorder *history.Recorder) error {
	fs := flag.NewFlagSet("program", flag.ContinueOnError)
	force := fs.Bool("force", false, "program even when the board's flash metadata already matches")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: tapcpctl program [-force] <descriptor.fpg>")
	}

	path, err := resolveDescriptor(fs.Arg(0), board.DescriptorSearchPath)
	if err != nil {
		return err
	}

	cache, err := bitstream.NewCache(bitstream.DefaultCacheCapacity)
	if err != nil {
		return err
	}
	desc, err := bitstream.NewReader(cache).ReadFile(path)
	if err != nil {
		return err
	}

	return tr.Program(ctx, tapcp.FromDescription(desc), *force, recorder)
}

// resolveDescriptor returns name unchanged when it names an existing file,
// and otherwise searches the board's descriptor search path for it.
func resolveDescriptor(name string, searchPath []string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	for _, dir := range searchPath {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("descriptor %q not found on disk or in the search path", name)
}

func runHistory(ctx context.Context, recorder *history.Recorder) error {
	if recorder == nil {
		return fmt.Errorf("history requires -history-path")
	}
	entries, err := recorder.Recent(ctx, 20)
	if err != nil {
		return err
	}
	for _, e := range entries {
		finished := "-"
		if e.FinishedAt.Valid {
			finished = e.FinishedAt.String
		}
		fmt.Printf("%s  %-9s  md5=%s  started=%s  finished=%s  %s\n",
			e.CorrelationID, e.Outcome, e.MD5, e.StartedAt, finished, e.Detail)
	}
	return nil
}

func selectBoard(cfg *boardconfig.Config, name string) (*boardconfig.Board, error) {
	if name == "" {
		if len(cfg.Boards) == 1 {
			return &cfg.Boards[0], nil
		}
		return nil, fmt.Errorf("config lists %d boards; select one with -board", len(cfg.Boards))
	}
	for i := range cfg.Boards {
		if cfg.Boards[i].Name == name {
			return &cfg.Boards[i], nil
		}
	}
	return nil, fmt.Errorf("no board named %q in the configuration", name)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: tapcpctl [flags] <command> [args]

Commands:
  listdev              list the running gateware's devices
  status               report whether a user gateware is running
  metadata             print the board's flash metadata
  temp                 read the onboard temperature sensor
  clock                estimate the fabric clock rate
  program [-force] <f> write a bitstream descriptor to flash and boot it
  deprogram            reboot to the golden image
  history              print recent program attempts

Flags:
`)
	flag.PrintDefaults()
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
