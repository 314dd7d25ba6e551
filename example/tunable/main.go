package main

import (
	"context"
	"fmt"
	"log"

	"github.com/dashlink/dashlink"
)

func main() {
	cfg := &dashlink.Config{}
	cfg.ApplyDefaults()
	cfg.Metrics.Addr = ":0"

	rt, err := dashlink.NewRuntime(cfg)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("start runtime: %v", err)
	}

	maxRPM := 3200.0
	drive := rt.Subsystem("Drive")
	drive.TunableFloat("MaxRPM", &maxRPM)

	// The first cycle seeds Drive/MaxRPM on the bus with the field's value.
	drive.Tick()
	fmt.Printf("after first cycle:    maxRPM=%.0f\n", maxRPM)

	// A dashboard edit is just a write to the same path; the next cycle
	// pulls it into the field.
	drive.SetFloat("MaxRPM", 4800)
	drive.Tick()
	fmt.Printf("after dashboard edit: maxRPM=%.0f\n", maxRPM)

	// Local writes stick until the next edit arrives from the bus.
	maxRPM = 4000
	drive.Tick()
	fmt.Printf("after local write:    maxRPM=%.0f\n", maxRPM)

	if err := rt.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
