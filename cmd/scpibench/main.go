package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonmd/SCPI-Bench/internal/adapters/scpi"
	"github.com/moonmd/SCPI-Bench/internal/transport"
	scpibench "github.com/moonmd/SCPI-Bench/pkg/scpibench"
)

func main() {
	root := &cobra.Command{
		Use:           "scpibench",
		Short:         "Bench-test controller for SCPI instruments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(), validateCommand(), scanCommand(), probeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scpibench: %v\n", err)
		os.Exit(1)
	}
}

type runFlags struct {
	configPath string
	psu        string
	dmm        string
	scope      string
	ens210     string
	out        string
	debugLog   string
	tcpOneShot bool
}

func runCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a test plan against the bench",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrBuildConfig(&f)
			if err != nil {
				return err
			}
			p, err := scpibench.LoadPlan(args[0])
			if err != nil {
				return fmt.Errorf("load plan: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b, err := scpibench.NewBench(cfg, p)
			if err != nil {
				return err
			}
			rep, err := b.Run(ctx)
			if err != nil {
				return err
			}

			switch rep.Phase {
			case scpibench.PhaseCompleted:
				fmt.Printf("run %s completed: %d samples in %s\n", rep.RunID, rep.Samples, rep.Elapsed.Round(time.Millisecond))
			case scpibench.PhaseAborted:
				fmt.Printf("run %s aborted (%s): %s\n", rep.RunID, rep.Reason, rep.Detail)
			case scpibench.PhaseErrored:
				fmt.Fprintf(os.Stderr, "run %s errored: %s\n", rep.RunID, rep.Detail)
			}
			os.Exit(scpibench.ExitCode(rep))
			return nil
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "Bench configuration file (flags override it)")
	cmd.Flags().StringVar(&f.psu, "psu", "", "PSU address (host[:port] or /dev/usbtmcN)")
	cmd.Flags().StringVar(&f.dmm, "dmm", "", "DMM address")
	cmd.Flags().StringVar(&f.scope, "scope", "", "Oscilloscope address")
	cmd.Flags().StringVar(&f.ens210, "ens210", "", "ENS210 dongle serial device")
	cmd.Flags().StringVar(&f.out, "out", "", "CSV output path (default bench_run.csv when no sink is configured)")
	cmd.Flags().StringVar(&f.debugLog, "debug-log", "", "Record every transport exchange as NDJSON to this file")
	cmd.Flags().BoolVar(&f.tcpOneShot, "tcp-oneshot", false, "Reconnect per SCPI command instead of holding sessions")
	return cmd
}

func loadOrBuildConfig(f *runFlags) (*scpibench.Config, error) {
	cfg := &scpibench.Config{}
	if f.configPath != "" {
		loaded, err := scpibench.LoadConfig(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if f.psu != "" {
		cfg.Instruments.PSU = f.psu
	}
	if f.dmm != "" {
		cfg.Instruments.DMM = f.dmm
	}
	if f.scope != "" {
		cfg.Instruments.Scope = f.scope
	}
	if f.ens210 != "" {
		cfg.Instruments.ENS210 = f.ens210
	}
	if f.out != "" {
		cfg.Sink.CSVPath = f.out
	}
	if f.debugLog != "" {
		cfg.DebugLog = f.debugLog
	}
	if f.tcpOneShot {
		cfg.Instruments.TCPOneShot = true
	}
	if !cfg.HasSink() {
		cfg.Sink.CSVPath = "bench_run.csv"
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Check a plan (and optionally a config) without touching hardware",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := scpibench.LoadPlan(args[0])
			if err != nil {
				return fmt.Errorf("plan %s: %w", args[0], err)
			}
			fmt.Printf("plan %s: %d steps, %.4g Hz sampling\n", args[0], len(p.Steps), p.SampleRateHz)

			if configPath != "" {
				if _, err := scpibench.LoadConfig(configPath); err != nil {
					return fmt.Errorf("config %s: %w", configPath, err)
				}
				fmt.Printf("config %s: ok\n", configPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Bench configuration file to validate as well")
	return cmd
}

func scanCommand() *cobra.Command {
	var glob string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Identify USBTMC instruments and suggest role assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := filepath.Glob(glob)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				return fmt.Errorf("no devices match %s", glob)
			}
			sort.Strings(devices)

			for _, dev := range devices {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				idn, err := identify(ctx, dev)
				cancel()
				if err != nil {
					fmt.Printf("%s\t?\t(%v)\n", dev, err)
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", dev, roleForIDN(idn), idn)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&glob, "glob", "/dev/usbtmc*", "Device pattern to scan")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "Per-device identification timeout")
	return cmd
}

func identify(ctx context.Context, device string) (string, error) {
	t := transport.NewUSBTMC(device)
	defer t.Close()
	s := scpi.NewSession(t, "scan")
	return s.IDN(ctx)
}

// roleForIDN maps the instrument model in an *IDN? response to the bench
// role it usually plays.
func roleForIDN(idn string) string {
	up := strings.ToUpper(idn)
	switch {
	case strings.Contains(up, "SPD"):
		return "psu"
	case strings.Contains(up, "SDM"):
		return "dmm"
	case strings.Contains(up, "SDS"):
		return "scope"
	default:
		return "?"
	}
}
