package serial

import (
	"fmt"
	"time"
)

// Parity selects the parity scheme a rig's control port uses. Rig control
// protocols are overwhelmingly 8N1; even parity shows up on a handful of
// older Kenwood/Yaesu models.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
)

// FlowControl is always NoFlow for the rigs this package talks to: CI-V,
// CAT and similar control busses don't use RTS/CTS or XON/XOFF.
type FlowControl int

const (
	NoFlow FlowControl = iota
)

// Config describes how to open and frame one RS-232 rig control port.
type Config struct {
	Path        string
	Baud        CFlag
	DataBits    int // 5..8
	StopBits    int // 1 or 2
	Parity      Parity
	FlowControl FlowControl
	ReadTimeout time.Duration
}

func characterSize(bits int) (CFlag, error) {
	switch bits {
	case 5:
		return CS5, nil
	case 6:
		return CS6, nil
	case 7:
		return CS7, nil
	case 8:
		return CS8, nil
	}
	return 0, fmt.Errorf("serial: unsupported data bits %d", bits)
}

// Open opens cfg.Path and puts it into raw, non-canonical mode at cfg's
// baud rate, character size, stop bits and parity. The returned Port is
// ready for WriteAll/ReadExact.
func Open(cfg Config) (*Port, error) {
	if cfg.StopBits != 1 && cfg.StopBits != 2 {
		return nil, fmt.Errorf("serial: unsupported stop bits %d", cfg.StopBits)
	}
	csize, err := characterSize(cfg.DataBits)
	if err != nil {
		return nil, err
	}
	opts := NewOptions().SetReadTimeout(cfg.ReadTimeout)
	p, err := OpenRaw(cfg.Path, opts)
	if err != nil {
		return nil, wrapErr("open "+cfg.Path, err)
	}
	attrs, err := p.GetAttr()
	if err != nil {
		p.Close()
		return nil, wrapErr("get attrs", err)
	}
	attrs.MakeRaw()
	attrs.Cflag &^= CSIZE | CSTOPB | PARENB | PARODD
	attrs.Cflag |= csize | CREAD | CLOCAL
	if cfg.StopBits == 2 {
		attrs.Cflag |= CSTOPB
	}
	if cfg.Parity == ParityEven {
		attrs.Cflag |= PARENB
	}
	attrs.SetSpeed(cfg.Baud)
	// Reads are bounded by poll, so the tty itself must never block them.
	attrs.Cc[VMIN] = 0
	attrs.Cc[VTIME] = 0
	if err := p.SetAttr(TCSANOW, attrs); err != nil {
		p.Close()
		return nil, wrapErr("set attrs", err)
	}
	if err := p.SetExclusive(); err != nil {
		p.Close()
		return nil, wrapErr("set exclusive", err)
	}
	// Discard whatever was sitting in the buffers before this process took
	// the port; a stale half-frame would desync the first read.
	if err := p.Flush(TCIOFLUSH); err != nil {
		p.Close()
		return nil, wrapErr("flush", err)
	}
	return p, nil
}

// WriteAll writes every byte of data, retrying short writes the way a
// plain Write over a tty can produce under load, then drains the output
// queue so the caller's read timeout starts once the frame is actually on
// the wire.
func (p *Port) WriteAll(data []byte) error {
	for len(data) > 0 {
		n, err := p.Write(data)
		if err != nil {
			return wrapErr("write", err)
		}
		if n == 0 {
			return wrapErr("write", fmt.Errorf("zero-length write"))
		}
		data = data[n:]
	}
	if err := p.Drain(); err != nil {
		return wrapErr("drain", err)
	}
	return nil
}

// ReadExact reads exactly n bytes, bounded by timeout, retrying short reads.
// It returns whatever it managed to read alongside the timeout error if the
// deadline passes before n bytes arrive, so callers can report how far the
// response got.
func (p *Port) ReadExact(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	out := make([]byte, 0, n)
	for len(out) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return out, wrapErr("read", fmt.Errorf("timed out with %d/%d bytes", len(out), n))
		}
		buf := make([]byte, n-len(out))
		got, err := p.ReadTimeout(buf, remaining)
		if err != nil {
			return out, wrapErr("read", err)
		}
		if got == 0 {
			continue
		}
		out = append(out, buf[:got]...)
	}
	return out, nil
}
