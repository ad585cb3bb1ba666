//go:build !linux

package scpibench

import (
	"errors"

	"github.com/moonmd/SCPI-Bench/internal/transport"
)

func openENS210Transport(string, int) (transport.Transport, error) {
	return nil, errors.New("ens210 serial transport is only supported on linux")
}
