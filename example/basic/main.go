package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	scpibench "github.com/moonmd/SCPI-Bench"
)

func main() {
	cfg, err := scpibench.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	plan, err := scpibench.LoadPlan("../../data/plan.yaml")
	if err != nil {
		log.Fatalf("load plan: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bench, err := scpibench.NewBench(cfg, plan)
	if err != nil {
		log.Fatalf("wire bench: %v", err)
	}

	report, err := bench.Run(ctx)
	if err != nil {
		log.Fatalf("run failed to start: %v", err)
	}

	log.Printf("run %s finished: %s after %d samples", report.RunID, report.Phase, report.Samples)
	os.Exit(scpibench.ExitCode(report))
}
