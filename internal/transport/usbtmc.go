package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// USBTMC is a persistent transport over a Linux /dev/usbtmcX character
// device. It keeps a single read/write handle open, retries writes once
// after reopening, and resets the handle on read failures to recover from
// stalled sessions.
type USBTMC struct {
	mu              sync.Mutex
	path            string
	timeout         time.Duration
	interQueryDelay time.Duration
	f               *os.File
}

// USBTMCOption configures a USBTMC transport.
type USBTMCOption func(*USBTMC)

// WithUSBTMCTimeout sets the kernel io_timeout requested via sysfs.
func WithUSBTMCTimeout(d time.Duration) USBTMCOption {
	return func(t *USBTMC) { t.timeout = d }
}

// WithInterQueryDelay sets the settle delay between write and read in Query.
func WithInterQueryDelay(d time.Duration) USBTMCOption {
	return func(t *USBTMC) { t.interQueryDelay = d }
}

// NewUSBTMC creates a transport for the given device path. The device is
// opened lazily on first use.
func NewUSBTMC(path string, opts ...USBTMCOption) *USBTMC {
	t := &USBTMC{
		path:            path,
		timeout:         5 * time.Second,
		interQueryDelay: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *USBTMC) Remote() string { return t.path }

func (t *USBTMC) SetTimeout(d time.Duration) {
	t.mu.Lock()
	t.timeout = d
	t.mu.Unlock()
}

// openLocked opens the device handle, tuning the kernel usbtmc driver via
// sysfs where available: extend io_timeout and enable newline termination.
// Sysfs failures are ignored; the driver defaults still work.
func (t *USBTMC) openLocked() (*os.File, error) {
	if t.f != nil {
		return t.f, nil
	}
	base := filepath.Base(t.path)
	sysfs := fmt.Sprintf("/sys/class/usbtmc/%s/io_timeout", base)
	if _, err := os.Stat(sysfs); err == nil {
		os.WriteFile(sysfs, []byte(fmt.Sprintf("%d", t.timeout.Milliseconds())), 0o644)
	}
	termPath := fmt.Sprintf("/sys/class/usbtmc/%s/term_char", base)
	if _, err := os.Stat(termPath); err == nil {
		os.WriteFile(termPath, []byte("10"), 0o644)
		os.WriteFile(fmt.Sprintf("/sys/class/usbtmc/%s/term_char_enabled", base), []byte("1"), 0o644)
	}

	f, err := os.OpenFile(t.path, os.O_RDWR, 0)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Remote: t.path, Err: err}
	}
	t.f = f
	return f, nil
}

func (t *USBTMC) closeLocked() {
	if t.f != nil {
		t.f.Close()
		t.f = nil
	}
}

func (t *USBTMC) Send(cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sendLocked(cmd)
}

func (t *USBTMC) sendLocked(cmd string) error {
	payload := []byte(cmd + "\n")
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		f, err := t.openLocked()
		if err != nil {
			return err
		}
		if _, err = f.Write(payload); err == nil {
			return nil
		}
		lastErr = err
		t.closeLocked()
		time.Sleep(50 * time.Millisecond)
	}
	return &Error{Kind: KindReset, Remote: t.path, Err: lastErr}
}

func (t *USBTMC) readLocked() (string, error) {
	var lastErr error
	buf := make([]byte, 65536)
	for attempt := 0; attempt < 3; attempt++ {
		f, err := t.openLocked()
		if err != nil {
			return "", err
		}
		n, err := f.Read(buf)
		if err == nil {
			if n > 0 {
				return strings.TrimSpace(string(buf[:n])), nil
			}
			// Empty read; the device may need a moment.
			time.Sleep(20 * time.Millisecond)
			continue
		}
		lastErr = err
		t.closeLocked()
		time.Sleep(20 * time.Millisecond)
	}
	if lastErr != nil {
		return "", &Error{Kind: KindReadTimeout, Remote: t.path, Err: lastErr}
	}
	return "", nil
}

func (t *USBTMC) Query(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendLocked(cmd); err != nil {
		return "", err
	}
	if t.interQueryDelay > 0 {
		time.Sleep(t.interQueryDelay)
	}
	return t.readLocked()
}

func (t *USBTMC) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f != nil {
		err := t.f.Close()
		t.f = nil
		return err
	}
	return nil
}
