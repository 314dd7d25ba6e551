package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/dashlink/dashlink"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "dump":
		err = dumpCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("dashlink-bridge %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to bridge configuration file")
	period := fs.Duration("period", 100*time.Millisecond, "Cycle period of the built-in status subsystem")
	if err := fs.Parse(args); err != nil {
		return err
	}

	link, err := dashlink.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := link.Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(); err != nil {
		return err
	}

	// A small subsystem so the bus carries something out of the box: process
	// stats under Bridge/, published through the same engine applications
	// use.
	status := rt.Subsystem("Bridge")
	start := time.Now()
	status.SignalFloat("UptimeSec", func() (float64, error) {
		return time.Since(start).Seconds(), nil
	}, dashlink.Every(10))
	status.SignalFloat("HeapMB", func() (float64, error) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return float64(m.HeapAlloc) / (1 << 20), nil
	}, dashlink.Every(10), dashlink.OnChange())
	status.SignalFloat("Goroutines", func() (float64, error) {
		return float64(runtime.NumGoroutine()), nil
	}, dashlink.Every(10), dashlink.OnChange())

	fmt.Printf("bridge up, cycling every %s (Ctrl+C to stop)\n", *period)

	ticker := time.NewTicker(*period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return rt.Shutdown(shutdownCtx)
		case <-ticker.C:
			status.Tick()
		}
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := dashlink.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"dashlink_sends_total":         0,
		"dashlink_record_queue_length": 0,
		"dashlink_archive_size_bytes":  0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] sends=%.0f queue=%.0f archive_bytes=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["dashlink_sends_total"],
		targets["dashlink_record_queue_length"],
		targets["dashlink_archive_size_bytes"],
	)
	return nil
}

var errDumpLimit = errors.New("dump limit reached")

func dumpCommand(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Stop after this many records (0 prints all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one archive file (*%s)", dashlink.ArchiveExt)
	}

	n := 0
	err := dashlink.ReadArchive(fs.Arg(0), func(r dashlink.Record) error {
		fmt.Printf("%s  %-32s %s\n", r.Time().Format(time.RFC3339Nano), r.Path, formatValue(r.Value))
		n++
		if *limit > 0 && n >= *limit {
			return errDumpLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDumpLimit) {
		return err
	}
	fmt.Printf("%d records\n", n)
	return nil
}

func formatValue(v dashlink.Value) string {
	switch v.Kind {
	case dashlink.KindFloat:
		return fmt.Sprintf("%g", v.Num)
	case dashlink.KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case dashlink.KindString:
		return v.Str
	case dashlink.KindFloats:
		return fmt.Sprintf("%v", v.Floats)
	case dashlink.KindStrings:
		return fmt.Sprintf("%v", v.Strs)
	case dashlink.KindStruct:
		return fmt.Sprintf("%+v", v.Any)
	default:
		return "<invalid>"
	}
}

func printUsage() {
	fmt.Printf(`DashLink bridge CLI

Usage:
  dashlink-bridge <command> [flags]

Commands:
  run        Start the bridge with the provided config and a status subsystem
  validate   Load and validate a config file without starting the bridge
  stats      Poll the Prometheus metrics endpoint and print live counters
  dump       Decode a value archive segment and print its records

Examples:
  dashlink-bridge run -config ./config.yaml
  dashlink-bridge validate -config ./config.yaml
  dashlink-bridge stats -url http://localhost:9100/metrics -interval 1s
  dashlink-bridge dump -limit 20 ./archive/values-20260101-120000%s
`, dashlink.ArchiveExt)
}
