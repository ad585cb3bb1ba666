package main

import (
	"context"
	"fmt"
	"log"
	"sync"

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, samples, closeSink := scpibench.NewChannelSink("stream", 32)
	defer closeSink()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamWorker("live", samples)
	}()

	bench, err := scpibench.NewBench(cfg, plan, scpibench.WithSink(sink))
	if err != nil {
		log.Fatalf("wire bench: %v", err)
	}

	report, err := bench.Run(ctx)
	if err != nil {
		log.Fatalf("run failed to start: %v", err)
	}
	wg.Wait()
	log.Printf("run %s finished: %s", report.RunID, report.Phase)
}

func streamWorker(name string, samples <-chan *scpibench.Sample) {
	for s := range samples {
		fmt.Printf("[%s] t=%.1fs v_meas=%.4f V\n", name, s.T, s.VMeas)
	}
}
