//go:build linux

package transport

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Serial is a raw-termios serial transport for the USB-I2C probe dongle.
// Unlike the SCPI transports, replies from the dongle are not strictly
// line-framed: Query collects everything the device says until it goes
// quiet, because a single command can echo several status lines.
type Serial struct {
	mu      sync.Mutex
	device  string
	fd      int
	file    *os.File
	timeout time.Duration
	settle  time.Duration
}

// SerialOption configures a Serial transport.
type SerialOption func(*Serial)

// WithSerialTimeout sets the overall per-read deadline (default 500ms).
func WithSerialTimeout(d time.Duration) SerialOption {
	return func(s *Serial) { s.timeout = d }
}

// OpenSerial opens the device and configures it for raw 8N1 operation at
// the given baud rate.
func OpenSerial(device string, baud int, opts ...SerialOption) (*Serial, error) {
	fd, err := syscall.Open(device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0o666)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Remote: device, Err: err}
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, &Error{Kind: KindConnect, Remote: device, Err: fmt.Errorf("get termios: %w", err)}
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	if b, ok := baudToUnix(baud); ok {
		termios.Cflag &^= unix.CBAUD
		termios.Cflag |= b
	}

	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, &Error{Kind: KindConnect, Remote: device, Err: fmt.Errorf("set termios: %w", err)}
	}
	syscall.SetNonblock(fd, false)

	s := &Serial{
		device:  device,
		fd:      fd,
		file:    os.NewFile(uintptr(fd), device),
		timeout: 500 * time.Millisecond,
		settle:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Serial) Remote() string { return s.device }

func (s *Serial) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

func (s *Serial) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	if _, err := s.file.WriteString(cmd); err != nil {
		return &Error{Kind: KindReset, Remote: s.device, Err: err}
	}
	return nil
}

// Query writes a command line and drains the dongle's output. Reading stops
// once data has arrived and the line has been idle for the settle period,
// or at the overall deadline.
func (s *Serial) Query(cmd string) (string, error) {
	if err := s.Send(cmd); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

func (s *Serial) readAllLocked() (string, error) {
	deadline := time.Now().Add(s.timeout)
	lastData := time.Now()
	var out []byte
	buf := make([]byte, 256)
	for time.Now().Before(deadline) {
		pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, 10)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return "", &Error{Kind: KindReset, Remote: s.device, Err: err}
		}
		if n == 0 || pfd[0].Revents&unix.POLLIN == 0 {
			if len(out) > 0 && time.Since(lastData) > s.settle {
				break
			}
			continue
		}
		nr, err := s.file.Read(buf)
		if err != nil {
			return "", &Error{Kind: KindReset, Remote: s.device, Err: err}
		}
		if nr > 0 {
			out = append(out, buf[:nr]...)
			lastData = time.Now()
		}
	}
	if len(out) == 0 {
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func baudToUnix(baud int) (uint32, bool) {
	switch baud {
	case 9600:
		return unix.B9600, true
	case 19200:
		return unix.B19200, true
	case 38400:
		return unix.B38400, true
	case 57600:
		return unix.B57600, true
	case 115200:
		return unix.B115200, true
	case 230400:
		return unix.B230400, true
	}
	return 0, false
}
