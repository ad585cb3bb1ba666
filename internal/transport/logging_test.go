package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

type scriptedTransport struct {
	replies map[string]string
	sent    []string
}

func (s *scriptedTransport) Send(cmd string) error {
	s.sent = append(s.sent, cmd)
	return nil
}

func (s *scriptedTransport) Query(cmd string) (string, error) {
	s.sent = append(s.sent, cmd)
	return s.replies[cmd], nil
}

func (s *scriptedTransport) SetTimeout(time.Duration) {}
func (s *scriptedTransport) Close() error            { return nil }
func (s *scriptedTransport) Remote() string          { return "scripted" }

func TestLoggerRecordsExchanges(t *testing.T) {
	var buf bytes.Buffer
	inner := &scriptedTransport{replies: map[string]string{"*IDN?": "MOCK"}}
	l := NewLogger(inner, "psu", &buf)

	if err := l.Send("OUTP CH1,OFF"); err != nil {
		t.Fatalf("send: %v", err)
	}
	resp, err := l.Query("*IDN?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp != "MOCK" {
		t.Fatalf("unexpected response %q", resp)
	}

	var records []logRecord
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec logRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad NDJSON line %q: %v", scanner.Text(), err)
		}
		records = append(records, rec)
	}

	// open, write, write, read
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[0].Op != "open" || records[0].Remote != "scripted" {
		t.Fatalf("unexpected open record %+v", records[0])
	}
	if records[1].Op != "write" || records[1].Data != "OUTP CH1,OFF" {
		t.Fatalf("unexpected write record %+v", records[1])
	}
	if records[3].Op != "read" || records[3].Data != "MOCK" {
		t.Fatalf("unexpected read record %+v", records[3])
	}
	for _, rec := range records {
		if rec.Role != "psu" {
			t.Fatalf("expected role psu, got %q", rec.Role)
		}
		if rec.TS == 0 {
			t.Fatal("missing timestamp")
		}
	}
	if !strings.HasPrefix(records[1].Data, "OUTP") {
		t.Fatalf("unexpected data %q", records[1].Data)
	}
}
