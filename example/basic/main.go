package main

import (
	"context"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/dashlink/dashlink"
)

func main() {
	link, err := dashlink.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	rt, err := link.Build()
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	maxRPM := 3200.0
	start := time.Now()

	drive := rt.Subsystem("Drive")
	drive.SignalFloat("Speed", func() (float64, error) {
		t := time.Since(start).Seconds()
		return maxRPM * math.Abs(math.Sin(t/3)), nil
	})
	drive.SignalBool("Enabled", func() (bool, error) {
		return true, nil
	}, dashlink.OnChange())
	drive.TunableFloat("MaxRPM", &maxRPM)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rt.Shutdown(shutdownCtx); err != nil {
				log.Fatalf("shutdown: %v", err)
			}
			return
		case <-ticker.C:
			drive.Tick()
		}
	}
}
