// dictd - hotkey-driven voice dictation for Linux desktops
//
// Hold (or tap, in continuous mode) the configured chord, speak, and the
// transcription is typed into the focused window.
//
//	dictd run           Run the daemon in the foreground (default)
//	dictd status        Show the running daemon's state
//	dictd toggle        Start or stop a dictation session
//	dictd cancel        Abort the session being recorded
//	dictd metrics       Print daemon metrics in Prometheus text format
//	dictd devices       List keyboards and whether they are readable
//	dictd history       Show recent sessions from the journal
//	dictd init-config   Write the default configuration file
//	dictd version       Print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"dictd/internal/config"
	"dictd/internal/daemon"
	"dictd/internal/input"
	"dictd/internal/ipc"
	"dictd/internal/journal"
	"dictd/internal/logging"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK                = 0
	exitFailure           = 1
	exitUsage             = 2
	exitAlreadyRunning    = 3
	exitDeviceUnavailable = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return cmdRun(nil)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		return cmdRun(rest)
	case "status":
		return cmdStatus(rest)
	case "toggle":
		return cmdToggle(rest)
	case "cancel":
		return cmdCancel(rest)
	case "metrics":
		return cmdMetrics(rest)
	case "devices":
		return cmdDevices(rest)
	case "history":
		return cmdHistory(rest)
	case "init-config":
		return cmdInitConfig(rest)
	case "version", "-v", "--version":
		fmt.Printf("dictd %s\n", version)
		return exitOK
	case "help", "-h", "--help":
		usage(os.Stdout)
		return exitOK
	default:
		if strings.HasPrefix(cmd, "-") {
			return cmdRun(args)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `dictd - hotkey-driven voice dictation

Usage:
  dictd [command] [flags]

Commands:
  run           Run the daemon in the foreground (default)
  status        Show the running daemon's state
  toggle        Start or stop a dictation session
  cancel        Abort the session being recorded
  metrics       Print daemon metrics
  devices       List keyboards and whether they are readable
  history       Show recent sessions (-n N)
  init-config   Write the default configuration file
  version       Print version
  help          Show this help

Every command accepts -config PATH (default $DICTD_CONFIG or
$XDG_CONFIG_HOME/dictd/config.toml).

Exit codes:
  0  clean shutdown
  1  startup failure
  2  usage error
  3  already running
  4  keyboard or microphone unavailable
`)
}

// newFlagSet returns a FlagSet with the shared -config flag. Parse errors
// are reported by the caller as usage errors.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Path to configuration file")
	return fs, configPath
}

func parseFlags(fs *flag.FlagSet, args []string) int {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Unexpected argument: %s\n", fs.Arg(0))
		return exitUsage
	}
	return -1
}

func cmdRun(args []string) int {
	fs, configPath := newFlagSet("run")
	logLevel := fs.String("log-level", "", "Override the configured log level")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitFailure
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log, err := setupLogging(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		return exitFailure
	}
	defer log.Close()
	logging.SetDefault(log)

	inst, err := daemon.AcquireInstance(config.DefaultPIDPath())
	if err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, err)
			return exitAlreadyRunning
		}
		fmt.Fprintf(os.Stderr, "Error acquiring pid file: %v\n", err)
		return exitFailure
	}
	defer inst.Release()

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting dictd: %v\n", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		if daemon.IsStructural(err) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Add your user to the 'input' group (keyboards) and check the microphone, then start dictd again.")
			return exitDeviceUnavailable
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	return exitOK
}

// setupLogging maps the [logging] section onto the logging package.
func setupLogging(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	lcfg := logging.DefaultConfig()
	lcfg.Level = level
	lcfg.Format = format
	if lc.Output != "" {
		lcfg.Output = lc.Output
	}
	if lc.FilePath != "" {
		lcfg.FilePath = lc.FilePath
	}
	if lc.MaxSizeMB > 0 {
		lcfg.MaxSize = int64(lc.MaxSizeMB)
	}
	if lc.MaxBackups > 0 {
		lcfg.MaxBackups = lc.MaxBackups
	}
	return logging.New(lcfg)
}

// newClient resolves the control socket from the config, falling back to
// the default path when the config cannot be read.
func newClient(configPath string) *ipc.Client {
	socket := config.DefaultSocketPath()
	if cfg, err := config.Load(configPath); err == nil && cfg.IPC.SocketPath != "" {
		socket = cfg.IPC.SocketPath
	}
	return ipc.NewClient(ipc.ClientConfig{SocketPath: socket, Timeout: 5 * time.Second})
}

func clientError(err error) int {
	if errors.Is(err, ipc.ErrNotRunning) {
		fmt.Fprintln(os.Stderr, "dictd is not running")
		return exitFailure
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitFailure
}

func cmdStatus(args []string) int {
	fs, configPath := newFlagSet("status")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	client := newClient(*configPath)
	defer client.Close()

	st, err := client.Status(context.Background())
	if err != nil {
		return clientError(err)
	}
	printStatus(os.Stdout, st)
	return exitOK
}

func printStatus(w io.Writer, st *ipc.Status) {
	fmt.Fprintf(w, "dictd %s (pid %d)\n", st.Version, st.PID)
	fmt.Fprintf(w, "  State:       %s\n", st.State)
	if st.SessionID != "" {
		fmt.Fprintf(w, "  Session:     %s\n", st.SessionID)
	}
	fmt.Fprintf(w, "  Mode:        %s\n", st.Mode)
	fmt.Fprintf(w, "  Hotkey:      %s\n", st.Chord)
	fmt.Fprintf(w, "  Transcriber: %s\n", st.Transcriber)
	fmt.Fprintf(w, "  Injection:   %s\n", strings.Join(st.Methods, ", "))
	if len(st.Devices) > 0 {
		fmt.Fprintf(w, "  Keyboards:   %s\n", strings.Join(st.Devices, ", "))
	}
	fmt.Fprintf(w, "  Uptime:      %s\n", time.Duration(st.UptimeSeconds)*time.Second)
	if len(st.Counters) > 0 {
		fmt.Fprintf(w, "  Sessions:    %d started, %d delivered, %d discarded\n",
			st.Counters["sessions_started"], st.Counters["sessions_delivered"], st.Counters["sessions_discarded"])
	}
}

func cmdToggle(args []string) int {
	fs, configPath := newFlagSet("toggle")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	client := newClient(*configPath)
	defer client.Close()

	if err := client.Toggle(context.Background()); err != nil {
		return clientError(err)
	}
	return exitOK
}

func cmdCancel(args []string) int {
	fs, configPath := newFlagSet("cancel")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	client := newClient(*configPath)
	defer client.Close()

	if err := client.Cancel(context.Background()); err != nil {
		return clientError(err)
	}
	fmt.Println("Session cancelled")
	return exitOK
}

func cmdMetrics(args []string) int {
	fs, configPath := newFlagSet("metrics")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	client := newClient(*configPath)
	defer client.Close()

	text, err := client.Metrics(context.Background())
	if err != nil {
		return clientError(err)
	}
	fmt.Print(text)
	return exitOK
}

func cmdDevices(args []string) int {
	fs, _ := newFlagSet("devices")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	devices, err := input.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
		return exitFailure
	}
	printDevices(os.Stdout, devices)
	return exitOK
}

func printDevices(w io.Writer, devices []input.Device) {
	var keyboards, unreadable int
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME\tREADABLE")
	for _, dev := range devices {
		if !dev.Keyboard {
			continue
		}
		keyboards++
		readable := "yes"
		if !dev.Readable {
			readable = "no"
			unreadable++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", dev.Path, dev.Name, readable)
	}
	tw.Flush()

	if keyboards == 0 {
		fmt.Fprintln(w, "No keyboards found.")
	}
	if unreadable > 0 {
		fmt.Fprintln(w, "\nSome keyboards are not readable. Add your user to the 'input' group and log in again.")
	}
}

func cmdHistory(args []string) int {
	fs, configPath := newFlagSet("history")
	limit := fs.Int("n", 10, "Number of sessions to show")
	verbose := fs.Bool("v", false, "Show injection attempts")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if *limit <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -n must be positive")
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitFailure
	}
	if _, err := os.Stat(cfg.Journal.Path); os.IsNotExist(err) {
		fmt.Println("No sessions recorded yet.")
		return exitOK
	}

	j, err := journal.Open(cfg.Journal.Path, journal.Options{StoreText: cfg.Journal.StoreText})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening journal: %v\n", err)
		return exitFailure
	}
	defer j.Close()

	entries, err := j.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
		return exitFailure
	}
	printHistory(os.Stdout, entries, *verbose)
	return exitOK
}

func printHistory(w io.Writer, entries []journal.Entry, verbose bool) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No sessions recorded yet.")
		return
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-9s %-6s %5.1fs",
			e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Outcome, e.Mode, e.Duration.Seconds())
		switch {
		case e.Method != "":
			line += "  via " + e.Method
		case e.Reason != "":
			line += "  (" + e.Reason + ")"
		}
		fmt.Fprintln(w, line)

		if e.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", e.Error)
		}
		if e.Text != "" {
			fmt.Fprintf(w, "    %q\n", e.Text)
		}
		if !verbose {
			continue
		}
		for _, a := range e.Attempts {
			result := "ok"
			if !a.Success {
				result = "failed"
				if a.Reason != "" {
					result += ": " + a.Reason
				}
			}
			fmt.Fprintf(w, "    %d. %-10s %s (%s)\n", a.Ordinal, a.Method, result, a.Duration.Round(time.Millisecond))
		}
	}
}

func cmdInitConfig(args []string) int {
	fs, configPath := newFlagSet("init-config")
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}

	path := config.NewLoader(*configPath).Path()
	_, created, err := config.LoadOrCreate(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}
	if created {
		fmt.Printf("Wrote default configuration to %s\n", path)
	} else {
		fmt.Printf("Configuration already exists at %s\n", path)
	}
	return exitOK
}
