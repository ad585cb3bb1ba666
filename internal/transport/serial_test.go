//go:build linux

package transport

import (
	"bufio"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"
)

func TestSerialQueryOverPTY(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	s, err := OpenSerial(slave.Name(), 115200, WithSerialTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// Dongle side: answer each command line with a canned response.
	go func() {
		scanner := bufio.NewScanner(master)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "i2c scan":
				master.Write([]byte("i2c: scan found dev 86\n"))
			case "i2c raw 30 r6":
				master.Write([]byte("i2c: raw dev 86: 4c f6 63 54 12 34 error=none\n"))
			}
		}
	}()

	resp, err := s.Query("i2c scan")
	require.NoError(t, err)
	require.Contains(t, resp, "found dev 86")

	resp, err = s.Query("i2c raw 30 r6")
	require.NoError(t, err)
	require.Contains(t, resp, "raw dev 86")
}

func TestSerialQueryNoResponse(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	s, err := OpenSerial(slave.Name(), 115200, WithSerialTimeout(150*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	start := time.Now()
	resp, err := s.Query("nobody home")
	require.NoError(t, err)
	require.Empty(t, resp)
	require.Less(t, time.Since(start), 2*time.Second)
}
