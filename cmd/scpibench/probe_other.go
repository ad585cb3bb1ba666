//go:build !linux

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func probeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Read the ENS210 temperature/humidity sensor in a loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return errors.New("the ens210 serial probe is only supported on linux")
		},
	}
}
