package main

import (
	"context"
	"fmt"
	"log"

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

	stdout := scpibench.NewCallbackSink("stdout", func(s *scpibench.Sample) error {
		fmt.Printf("t=%6.1fs step=%d v=%.4f i=%.4f ens_ok=%v\n",
			s.T, s.Step, s.VMeas, s.IMeas, s.EnsOK)
		return nil
	})

	bench, err := scpibench.NewBench(cfg, plan, scpibench.WithSink(stdout))
	if err != nil {
		log.Fatalf("wire bench: %v", err)
	}

	report, err := bench.Run(ctx)
	if err != nil {
		log.Fatalf("run failed to start: %v", err)
	}
	log.Printf("run %s finished: %s", report.RunID, report.Phase)
}
