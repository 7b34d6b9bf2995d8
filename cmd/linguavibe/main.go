// Command linguavibe drives a LinguaVibe haptic band over BLE.
//
// Usage:
//
//	linguavibe [-config path] <command> [flags]
//
// Commands:
//
//	scan                      list compatible bands in range
//	lessons                   list languages, courses and lessons
//	play -lesson ID           play a lesson's pattern on the band
//	test                      play the test vibration
//	practice -lesson ID       play a pattern and score a spoken attempt
//	simulate -lesson ID       stream a pattern to a virtual band
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/linguavibe/internal/audio"
	"github.com/chaz8081/linguavibe/internal/ble"
	"github.com/chaz8081/linguavibe/internal/ble/protocol"
	"github.com/chaz8081/linguavibe/internal/config"
	"github.com/chaz8081/linguavibe/internal/lesson"
	"github.com/chaz8081/linguavibe/internal/practice"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/linguavibe/config.yaml)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "scan":
		err = runScan(ctx, cfg)
	case "lessons":
		err = runLessons(cfg)
	case "play":
		err = runPlay(ctx, cfg, args)
	case "test":
		err = runTest(ctx, cfg)
	case "practice":
		err = runPractice(ctx, cfg, args)
	case "simulate":
		err = runSimulate(ctx, cfg, args)
	case "init":
		err = runInit()
	default:
		stop()
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		stop()
		reportError(err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: linguavibe [-config path] <command> [flags]

Commands:
  scan                   list compatible bands in range
  lessons                list languages, courses and lessons
  play -lesson ID        play a lesson's pattern on the band
  test                   play the test vibration
  practice -lesson ID    play a pattern and score a spoken attempt
  simulate -lesson ID    stream a pattern to a virtual band
  init                   write a default config file
`)
}

// reportError prints err for the user with a hint on whether retrying helps.
func reportError(err error) {
	switch {
	case errors.Is(err, ble.ErrUnsupportedTransport):
		fmt.Fprintln(os.Stderr, "Bluetooth is not supported on this system.")
		fmt.Fprintln(os.Stderr, "Check that a Bluetooth adapter is present and powered on (BlueZ on Linux).")
		fmt.Fprintf(os.Stderr, "  (%v)\n", err)
	case ble.IsRetryable(err):
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "Make sure the band is powered on and in range, then try again.")
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("config loaded", "path", defaultPath)
		return cfg, nil
	}

	return config.Default(), nil
}

func runInit() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

// newLink builds a link over the host adapter using cfg's device settings.
func newLink(cfg *config.Config, picker ble.Picker) *ble.Link {
	return ble.NewLink(ble.NewTinyGoAdapter(cfg.Device.AdapterID), linkOptions(cfg, picker))
}

func linkOptions(cfg *config.Config, picker ble.Picker) ble.LinkOptions {
	return ble.LinkOptions{
		NamePrefixes:   cfg.Device.NamePrefixes,
		ScanTimeout:    cfg.Device.ScanTimeout,
		ConnectTimeout: cfg.Device.ConnectTimeout,
		WriteTimeout:   cfg.Device.WriteTimeout,
		Picker:         picker,
	}
}

// connect scans, lets the user pick a band and connects to it, retrying
// failed connects as configured.
func connect(ctx context.Context, cfg *config.Config, link *ble.Link) error {
	fmt.Println("Scanning for LinguaVibe bands...")
	p, err := link.Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Connecting to %s...\n", p.Name)
	retry := ble.RetryOptions{Attempts: cfg.Device.ConnectRetries + 1}
	if err := ble.ConnectWithRetry(ctx, link, p, retry); err != nil {
		return err
	}
	fmt.Printf("Connected to %s\n", p.Name)
	return nil
}

func runScan(ctx context.Context, cfg *config.Config) error {
	var found []ble.Peripheral
	collect := func(_ context.Context, candidates []ble.Peripheral) (ble.Peripheral, error) {
		found = candidates
		return candidates[0], nil
	}

	link := newLink(cfg, collect)
	fmt.Printf("Scanning for %s...\n", cfg.Device.ScanTimeout)
	if _, err := link.Scan(ctx); err != nil {
		return err
	}

	fmt.Printf("Found %d compatible band(s):\n", len(found))
	for i, p := range found {
		svc := ""
		if p.Service {
			svc = " (LinguaVibe service)"
		}
		fmt.Printf("  [%d] %s  %s  RSSI %d%s\n", i+1, p.Name, p.ID, p.RSSI, svc)
	}
	return nil
}

func loadCatalog(cfg *config.Config) (*lesson.Catalog, error) {
	cat, err := lesson.Load(cfg.LessonsPath)
	if err != nil {
		return nil, fmt.Errorf("loading lessons: %w", err)
	}
	return cat, nil
}

func runLessons(cfg *config.Config) error {
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	for _, lang := range cat.ActiveLanguages() {
		fmt.Printf("%s (%s)\n", lang.Name, lang.Code)
		for _, course := range cat.LanguageCourses(lang.ID) {
			fmt.Printf("  %s\n", course.Title)
			for _, l := range cat.CourseLessons(course.ID) {
				fmt.Printf("    %-12s %-6s %s\n", l.ID, l.Phoneme, l.Title)
			}
		}
	}
	return nil
}

// lessonFlag parses the -lesson flag shared by the lesson commands.
func lessonFlag(cfg *config.Config, name string, args []string, extra func(*flag.FlagSet)) (*lesson.Lesson, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("lesson", "", "lesson ID (see the lessons command)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *id == "" {
		return nil, fmt.Errorf("%s: -lesson is required", name)
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	return cat.Lesson(*id)
}

func runPlay(ctx context.Context, cfg *config.Config, args []string) error {
	l, err := lessonFlag(cfg, "play", args, nil)
	if err != nil {
		return err
	}
	doc, err := l.Document()
	if err != nil {
		return err
	}

	link := newLink(cfg, stdinPicker(os.Stdin))
	if err := connect(ctx, cfg, link); err != nil {
		return err
	}
	defer func() { _ = link.Disconnect() }()

	if err := link.SendJSONPattern(ctx, doc); err != nil {
		return err
	}
	fmt.Printf("Played %q (%s)\n", l.Title, l.Phoneme)
	return nil
}

func runTest(ctx context.Context, cfg *config.Config) error {
	link := newLink(cfg, stdinPicker(os.Stdin))
	if err := connect(ctx, cfg, link); err != nil {
		return err
	}
	defer func() { _ = link.Disconnect() }()

	if err := link.TestVibration(ctx); err != nil {
		return err
	}
	fmt.Println("Test vibration sent. You should feel a short pulse on all four motors.")
	return nil
}

func runPractice(ctx context.Context, cfg *config.Config, args []string) error {
	var transcript string
	var record time.Duration
	l, err := lessonFlag(cfg, "practice", args, func(fs *flag.FlagSet) {
		fs.StringVar(&transcript, "transcript", "", "what the speech recognizer heard")
		fs.DurationVar(&record, "record", 0, "record the attempt from the microphone for this long")
	})
	if err != nil {
		return err
	}

	link := newLink(cfg, stdinPicker(os.Stdin))
	if err := connect(ctx, cfg, link); err != nil {
		return err
	}
	defer func() { _ = link.Disconnect() }()

	session := practice.NewSession(l, link, practice.Options{})
	defer session.Close()

	fmt.Printf("Lesson: %s %s\n", l.Title, l.Phoneme)
	if err := session.SendPattern(ctx); err != nil {
		return err
	}

	if record > 0 {
		path, err := recordAttempt(cfg, l, record)
		if err != nil {
			slog.Error("recording failed", "error", err)
		} else {
			fmt.Printf("Attempt saved to %s\n", path)
		}
	}

	printFeedback(session.Score(transcript))
	return nil
}

// recordAttempt captures d of microphone audio into the recordings dir.
func recordAttempt(cfg *config.Config, l *lesson.Lesson, d time.Duration) (string, error) {
	rec, err := audio.NewRecorder(cfg.Practice.SampleRate, cfg.Practice.Channels)
	if err != nil {
		return "", fmt.Errorf("initializing audio recorder: %w", err)
	}
	defer func() { _ = rec.Close() }()

	fmt.Printf("Recording for %s, speak now...\n", d)
	samples, err := rec.Record(d)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s-%s.wav", l.ID, uuid.NewString())
	path := filepath.Join(cfg.Practice.RecordingsDir, name)
	if err := audio.WriteWAV(path, samples, rec.SampleRate(), rec.Channels()); err != nil {
		return "", err
	}
	return path, nil
}

func printFeedback(fb practice.Feedback) {
	fmt.Printf("\nAccuracy: %d%%\n%s\n", fb.Accuracy, fb.Message)
	for _, s := range fb.Suggestions {
		fmt.Printf("  - %s\n", s)
	}
}

func runSimulate(ctx context.Context, cfg *config.Config, args []string) error {
	l, err := lessonFlag(cfg, "simulate", args, nil)
	if err != nil {
		return err
	}
	doc, err := l.Document()
	if err != nil {
		return err
	}

	band := ble.NewVirtualBand(cfg.Device.NamePrefixes[0] + "-LinguaVibe-Sim")
	var n int
	band.OnWrite = func(data []byte) {
		n++
		fmt.Printf("chunk %d: %d bytes\n", n, len(data))
	}
	band.OnDocument = func(data []byte) {
		fmt.Printf("band reassembled %d bytes:\n%s\n", len(data), data)
	}

	link := ble.NewLink(band, linkOptions(cfg, ble.StrongestSignal))
	if err := connect(ctx, cfg, link); err != nil {
		return err
	}
	defer func() { _ = link.Disconnect() }()

	fmt.Printf("Streaming %q in chunks of up to %d bytes\n", l.Title, protocol.MaxChunkBytes)
	return link.SendJSONPattern(ctx, doc)
}

// stdinPicker asks the user to choose when more than one band is in range.
func stdinPicker(in io.Reader) ble.Picker {
	return func(ctx context.Context, candidates []ble.Peripheral) (ble.Peripheral, error) {
		if len(candidates) == 1 {
			return candidates[0], nil
		}
		fmt.Println("Multiple bands found:")
		for i, p := range candidates {
			fmt.Printf("  [%d] %s  %s  RSSI %d\n", i+1, p.Name, p.ID, p.RSSI)
		}
		fmt.Printf("Select a band [1-%d]: ", len(candidates))

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return ble.Peripheral{}, ble.ErrPickCancelled
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return ble.Peripheral{}, ble.ErrPickCancelled
		}
		idx, err := strconv.Atoi(line)
		if err != nil || idx < 1 || idx > len(candidates) {
			return ble.Peripheral{}, fmt.Errorf("invalid selection %q", line)
		}
		if err := ctx.Err(); err != nil {
			return ble.Peripheral{}, err
		}
		return candidates[idx-1], nil
	}
}
