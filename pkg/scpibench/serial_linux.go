//go:build linux

package scpibench

import "github.com/moonmd/SCPI-Bench/internal/transport"

func openENS210Transport(device string, baud int) (transport.Transport, error) {
	return transport.OpenSerial(device, baud)
}
