// Command test-vibration is a manual end-to-end check of the band link.
// It scans, connects to the strongest band in range, plays the test
// vibration and disconnects.
//
// Usage:
//
//	go run ./cmd/test-vibration [--adapter hci0] [--timeout 5s] [--repeat 1]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chaz8081/linguavibe/internal/ble"
)

func main() {
	adapterID := flag.String("adapter", "", "BlueZ adapter id (default adapter if empty)")
	timeout := flag.Duration("timeout", 5*time.Second, "scan timeout")
	repeat := flag.Int("repeat", 1, "number of test vibrations to play")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	opts := ble.DefaultLinkOptions()
	opts.ScanTimeout = *timeout
	link := ble.NewLink(ble.NewTinyGoAdapter(*adapterID), opts)
	link.SetConnectionChangeCallback(func(connected bool) {
		fmt.Printf("connection changed: connected=%v\n", connected)
	})

	ctx := context.Background()
	fmt.Printf("Scanning for %s...\n", *timeout)
	p, err := link.Scan(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Found %s (%s, RSSI %d)\n", p.Name, p.ID, p.RSSI)

	if err := link.Connect(ctx, p); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for i := 0; i < *repeat; i++ {
		fmt.Printf("Vibration %d/%d...\n", i+1, *repeat)
		if err := link.TestVibration(ctx); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if err := link.Disconnect(); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("\nDone!")
}
