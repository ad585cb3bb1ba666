// Package sink holds the result sinks a run can stream samples into.
package sink

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/moonmd/SCPI-Bench/internal/domain"
	"github.com/moonmd/SCPI-Bench/internal/ports"
)

// csvHeader is the wire-stable column order; downstream analysis scripts
// index these by name and position.
var csvHeader = []string{
	"t_s", "v_set", "i_set", "v_meas", "i_meas",
	"scope_vpp", "scope_vrms", "temp_c", "humidity_pct", "ens_ok",
}

// CSVSink writes one row per sample and flushes after every row, so an
// aborted run still leaves a usable file.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink creates (truncating) the file at path and writes the header.
func NewCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewCSVWriterSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.closer = f
	return s, nil
}

// NewCSVWriterSink writes rows to an arbitrary writer, header included.
func NewCSVWriterSink(w io.Writer) (*CSVSink, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return &CSVSink{w: cw}, nil
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) Emit(smp *domain.Sample) error {
	row := []string{
		fmtFloat(smp.T),
		fmtFloat(smp.VSet),
		fmtFloat(smp.ISet),
		fmtFloat(smp.VMeas),
		fmtFloat(smp.IMeas),
		fmtOptFloat(smp.ScopeVpp),
		fmtOptFloat(smp.ScopeVrms),
		fmtOptFloat(smp.TempC),
		fmtOptFloat(smp.HumidityPct),
		strconv.FormatBool(smp.EnsOK),
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// fmtOptFloat renders a missing optional measurement as an empty cell.
func fmtOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtFloat(*v)
}

var _ ports.Sink = (*CSVSink)(nil)
