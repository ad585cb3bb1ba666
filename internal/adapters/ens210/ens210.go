// Package ens210 reads an AMS ENS210 temperature/humidity sensor behind a
// USB-I2C serial dongle. The dongle speaks a small text protocol ("i2c opt",
// "i2c raw", ...) over a raw serial line; sensor words carry a CRC7 and a
// valid flag that are checked before a reading is trusted.
package ens210

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
	"github.com/moonmd/SCPI-Bench/internal/transport"
)

const defaultAddr = 0x43

// Probe is an environment probe over one dongle transport.
type Probe struct {
	t         transport.Transport
	addr      int
	ignoreCRC bool
}

// Option configures a Probe.
type Option func(*Probe)

// AtAddress overrides the sensor's I2C address (default 0x43).
func AtAddress(addr int) Option {
	return func(p *Probe) { p.addr = addr }
}

// IgnoreCRC accepts readings whose CRC check failed. Useful with flaky
// dongle firmware; the valid flags are still honored.
func IgnoreCRC() Option {
	return func(p *Probe) { p.ignoreCRC = true }
}

// NewProbe configures the dongle for the sensor's address and wakes its
// firmware. The dongle expects hex values without the 0x prefix.
func NewProbe(t transport.Transport, opts ...Option) (*Probe, error) {
	p := &Probe{t: t, addr: defaultAddr}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.t.Send(""); err != nil {
		return nil, err
	}
	time.Sleep(100 * time.Millisecond)

	dev8 := (p.addr << 1) & 0xFE
	out, err := p.t.Query(fmt.Sprintf("i2c opt dev %02X asize 1 vsize 1 speed 100000", dev8))
	if err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(out), "error") {
		if _, err := p.t.Query(fmt.Sprintf("i2c opt dev %02X asize 1 vsize 1 speed 100000", p.addr)); err != nil {
			return nil, err
		}
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := p.t.Query("i2c scan"); err != nil {
		return nil, err
	}
	return p, nil
}

// ReadEnvironment triggers one single-shot conversion and decodes it. A
// failed exchange or validation returns a not-OK environment along with the
// error; callers degrade the sample instead of failing the run.
func (p *Probe) ReadEnvironment(ctx context.Context) (domain.Environment, error) {
	if err := ctx.Err(); err != nil {
		return domain.Environment{}, err
	}
	if err := p.startSingleShot(); err != nil {
		return domain.Environment{}, err
	}
	time.Sleep(120 * time.Millisecond)

	tRaw, hRaw, err := p.readRaw()
	if err != nil {
		return domain.Environment{}, err
	}

	tData, tValid, tCRC := decodeWord(tRaw)
	if !tCRC {
		if d, v, ok := decodeWord(swapBytes(tRaw)); ok {
			tData, tValid, tCRC = d, v, ok
		}
	}
	hData, hValid, hCRC := decodeWord(hRaw)
	if !hCRC {
		if d, v, ok := decodeWord(swapBytes(hRaw)); ok {
			hData, hValid, hCRC = d, v, ok
		}
	}

	tempK := float64(tData) / 64.0
	env := domain.Environment{
		TempK:       tempK,
		TempC:       tempK - 273.15,
		HumidityPct: float64(hData) / 512.0,
		OK:          tValid && hValid && (tCRC && hCRC || p.ignoreCRC),
	}
	if !env.OK {
		return env, fmt.Errorf("ens210: reading failed validation (t_valid=%v h_valid=%v t_crc=%v h_crc=%v)", tValid, hValid, tCRC, hCRC)
	}
	return env, nil
}

// startSingleShot kicks off one T+H conversion, preferring the raw command
// this dongle supports and falling back to older verbs.
func (p *Probe) startSingleShot() error {
	resp, err := p.t.Query("i2c raw 22 03")
	if err != nil {
		return err
	}
	if resp == "" {
		if resp, err = p.t.Query("i 22 03"); err != nil {
			return err
		}
	}
	if resp == "" {
		if _, err = p.t.Query("i2c wr 22 03"); err != nil {
			return err
		}
	}
	return nil
}

var hexPairRe = regexp.MustCompile(`\b([0-9a-fA-F]{2})\b`)

// readRaw performs the combined write+read of the six T/H register bytes.
// The dongle answers with a line like
// "i2c: raw dev 86: f6 4c e3 54 12 34 error=none".
func (p *Probe) readRaw() (tRaw, hRaw uint32, err error) {
	resp, err := p.t.Query("i2c raw 30 r6")
	if err != nil {
		return 0, 0, err
	}

	var payload string
	for _, ln := range strings.Split(resp, "\n") {
		if strings.HasPrefix(strings.TrimSpace(ln), "i2c: raw dev") {
			// Only parse bytes after the last colon to skip the 'dev XX:' token.
			parts := strings.Split(ln, ":")
			payload = parts[len(parts)-1]
			break
		}
	}
	if payload == "" {
		payload = resp
	}

	matches := hexPairRe.FindAllString(payload, -1)
	if len(matches) < 6 {
		return 0, 0, fmt.Errorf("ens210: no read data from dongle in %q", resp)
	}
	b := make([]uint32, 6)
	for i := 0; i < 6; i++ {
		v, perr := strconv.ParseUint(matches[i], 16, 8)
		if perr != nil {
			return 0, 0, perr
		}
		b[i] = uint32(v)
	}
	tRaw = b[2]<<16 | b[1]<<8 | b[0]
	hRaw = b[5]<<16 | b[4]<<8 | b[3]
	return tRaw, hRaw, nil
}

const (
	crc7Poly  = 0x89
	crc7Width = 7
	crc7Ivec  = 0x7F
	dataWidth = 17
)

// crc7 computes the ENS210 CRC over the 17-bit data+valid payload.
func crc7(val uint32) uint32 {
	pol := uint32(crc7Poly) << (dataWidth - crc7Width - 1)
	bit := uint32(1) << (dataWidth - 1)
	v := (val << crc7Width) | crc7Ivec
	pol <<= crc7Width
	for bit >= 1 {
		if v&(bit<<crc7Width) != 0 {
			v ^= pol
		}
		bit >>= 1
		pol >>= 1
	}
	return v & ((1 << crc7Width) - 1)
}

// decodeWord splits a 24-bit register word into data, valid flag and CRC
// check result.
func decodeWord(val24 uint32) (data uint32, valid, crcOK bool) {
	data = val24 & 0xFFFF
	valid = (val24>>16)&0x1 == 1
	crc := (val24 >> 17) & 0x7F
	payload := val24 & 0x1FFFF
	return data, valid, crc7(payload) == crc
}

// swapBytes reverses the byte order of a 24-bit word, the alternate layout
// some dongle firmwares emit.
func swapBytes(v uint32) uint32 {
	return (v&0xFF)<<16 | (v & 0xFF00) | (v>>16)&0xFF
}

var _ ports.EnvironmentProbe = (*Probe)(nil)
