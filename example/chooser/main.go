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

	routines := dashlink.NewChooser[func()](rt.Cache(), "Auto", "Routine").
		Default("idle", func() { fmt.Println("holding position") }).
		Add("spin", func() { fmt.Println("spinning in place") }).
		Add("figure8", func() { fmt.Println("tracing a figure eight") })
	if err := routines.Publish(); err != nil {
		log.Fatalf("publish chooser: %v", err)
	}

	// Nothing picked yet: the default runs.
	routines.Selected()()

	// The dashboard writes its pick to Auto/Routine/selected.
	rt.Cache().SetString("Auto", "Routine/selected", "spin")
	routines.Selected()()

	// Unknown picks fall back to the default.
	rt.Cache().SetString("Auto", "Routine/selected", "warp")
	routines.Selected()()

	if err := rt.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
