//go:build linux

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moonmd/SCPI-Bench/internal/adapters/ens210"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

func probeCommand() *cobra.Command {
	var (
		device    string
		baud      int
		count     int
		interval  time.Duration
		ignoreCRC bool
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Read the ENS210 temperature/humidity sensor in a loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := transport.OpenSerial(device, baud)
			if err != nil {
				return fmt.Errorf("open %s: %w", device, err)
			}
			defer t.Close()

			var opts []ens210.Option
			if ignoreCRC {
				opts = append(opts, ens210.IgnoreCRC())
			}
			p, err := ens210.NewProbe(t, opts...)
			if err != nil {
				return fmt.Errorf("init probe: %w", err)
			}

			for i := 0; i < count; i++ {
				env, err := p.ReadEnvironment(cmd.Context())
				if err != nil {
					fmt.Printf("read %d: %v\n", i+1, err)
				} else {
					fmt.Printf("read %d: %.2f C  %.1f %%RH  ok=%v\n", i+1, env.TempC, env.HumidityPct, env.OK)
				}
				if i < count-1 {
					select {
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					case <-time.After(interval):
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "ens210", "/dev/ttyUSB0", "Serial device of the USB-I2C dongle")
	cmd.Flags().IntVar(&baud, "baud", 115200, "Serial baud rate")
	cmd.Flags().IntVar(&count, "count", 5, "Number of readings")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Delay between readings")
	cmd.Flags().BoolVar(&ignoreCRC, "ignore-crc", false, "Accept readings that fail the CRC check")
	return cmd
}
