package transport

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Logger is a transparent wrapper around another Transport that writes
// newline-delimited JSON records of every exchange to the provided writer.
// Records carry timestamp seconds, role, op (open/write/read), remote and
// data. A failing log writer never breaks instrument I/O.
type Logger struct {
	inner  Transport
	role   string
	remote string

	mu sync.Mutex
	w  io.Writer
}

type logRecord struct {
	TS     float64 `json:"ts"`
	Role   string  `json:"role"`
	Op     string  `json:"op"`
	Remote string  `json:"remote"`
	Data   string  `json:"data"`
}

// NewLogger wraps inner, tagging records with the given role.
func NewLogger(inner Transport, role string, w io.Writer) *Logger {
	remote := "unknown"
	if r, ok := inner.(Remoter); ok {
		remote = r.Remote()
	}
	l := &Logger{inner: inner, role: role, remote: remote, w: w}
	l.log("open", "")
	return l
}

func (l *Logger) log(op, data string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := logRecord{
		TS:     float64(time.Now().UnixNano()) / 1e9,
		Role:   l.role,
		Op:     op,
		Remote: l.remote,
		Data:   data,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.w.Write(append(b, '\n'))
}

func (l *Logger) Remote() string { return l.remote }

func (l *Logger) Send(cmd string) error {
	l.log("write", cmd)
	return l.inner.Send(cmd)
}

func (l *Logger) Query(cmd string) (string, error) {
	l.log("write", cmd)
	resp, err := l.inner.Query(cmd)
	if err == nil {
		l.log("read", resp)
	}
	return resp, err
}

func (l *Logger) SetTimeout(d time.Duration) { l.inner.SetTimeout(d) }

func (l *Logger) Close() error { return l.inner.Close() }
