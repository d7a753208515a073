package monitor

import (
	"bufio"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"

	"go.bug.st/serial"
	"golang.org/x/xerrors"
)

// ErrProcessExited reports that a monitored subprocess exited with a
// non-zero code before its output was fully consumed. Callers treat
// it as an infrastructure failure.
var ErrProcessExited = xerrors.New("monitored process exited")

// A LineSource yields one line of target output at a time.
// ReadLine returns ok=false with a nil error when no complete line is
// available yet; the caller sleeps briefly and retries, so sources
// must never busy spin internally. A non-nil error is fatal to the
// whole monitoring run.
type LineSource interface {
	ReadLine() (line string, ok bool, err error)
	Close() error
}

// pollDelay is how long the monitor relaxes the CPU between
// unsuccessful ReadLine calls.
const pollDelay = 10 * time.Millisecond

// decode converts raw target bytes to text. Target UARTs emit ASCII;
// anything outside the printable range (noise on the line, boot-time
// garbage) is replaced rather than propagated.
func decode(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == '\r':
			// swallowed; terminator handling owns line ends
		case c == '\t' || (c >= ' ' && c < 0x7f):
			out = append(out, c)
		default:
			out = append(out, '?')
		}
	}
	return string(out)
}

// SerialSource reads byte-at-a-time from a serial port (or a JLink
// RTT channel exposed as one), accumulating until the terminator.
// A short read timeout on the port makes ReadLine non-blocking.
type SerialSource struct {
	port serial.Port
	term byte
	buf  []byte
	one  [1]byte
}

// serialReadTimeout bounds a single byte read so the monitor can
// check its timers between bytes.
const serialReadTimeout = 100 * time.Millisecond

// OpenSerial opens a serial port for monitoring.
func OpenSerial(portName string, baud int, terminator byte) (*SerialSource, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", portName, err)
	}
	err = port.SetReadTimeout(serialReadTimeout)
	if err != nil {
		port.Close()
		return nil, err
	}
	return &SerialSource{port: port, term: terminator}, nil
}

func (s *SerialSource) ReadLine() (string, bool, error) {
	for {
		n, err := s.port.Read(s.one[:])
		if err != nil {
			return "", false, xerrors.Errorf("serial read: %w", err)
		}
		if n == 0 {
			// read timeout, no complete line yet
			return "", false, nil
		}
		if s.one[0] == s.term {
			line := decode(s.buf)
			s.buf = s.buf[:0]
			return line, true, nil
		}
		s.buf = append(s.buf, s.one[0])
	}
}

func (s *SerialSource) Close() error {
	return s.port.Close()
}

// TelnetSource reads terminator-delimited lines from a TCP
// connection, e.g. an OpenOCD or JLink telnet server.
type TelnetSource struct {
	conn net.Conn
	r    *bufio.Reader
	term byte
}

// telnetReadTimeout is deliberately long: telnet servers deliver
// whole lines, so a block-read with a generous deadline is cheaper
// than byte polling.
const telnetReadTimeout = 5 * time.Second

// DialTelnet connects to a telnet-style line server.
func DialTelnet(addr string, terminator byte) (*TelnetSource, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, xerrors.Errorf("dial %s: %w", addr, err)
	}
	return &TelnetSource{conn: conn, r: bufio.NewReader(conn), term: terminator}, nil
}

func (t *TelnetSource) ReadLine() (string, bool, error) {
	t.conn.SetReadDeadline(time.Now().Add(telnetReadTimeout))
	line, err := t.r.ReadString(t.term)
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Errorf("telnet read: %w", err)
	}
	// some servers prefix a stray newline on connect
	line = strings.TrimSuffix(line, string(t.term))
	line = strings.TrimPrefix(line, "\n")
	return decode([]byte(line)), true, nil
}

func (t *TelnetSource) Close() error {
	return t.conn.Close()
}

// PipeSource reads a subprocess's combined output. When the pipe
// reaches EOF the subprocess's exit status decides whether the run
// merely ended or the tool died underneath us.
type PipeSource struct {
	cmd  *exec.Cmd
	r    *bufio.Reader
	term byte
	eof  bool
}

// NewPipeSource monitors the output pipe r of an already-started cmd.
func NewPipeSource(cmd *exec.Cmd, r io.Reader, terminator byte) *PipeSource {
	return &PipeSource{cmd: cmd, r: bufio.NewReader(r), term: terminator}
}

func (p *PipeSource) ReadLine() (string, bool, error) {
	if p.eof {
		return "", false, io.EOF
	}
	line, err := p.r.ReadString(p.term)
	if err == io.EOF {
		p.eof = true
		werr := p.cmd.Wait()
		if werr != nil {
			return "", false, xerrors.Errorf("%s: %w", werr, ErrProcessExited)
		}
		if line != "" {
			// final unterminated fragment
			return decode([]byte(line)), true, nil
		}
		return "", false, io.EOF
	}
	if err != nil {
		return "", false, xerrors.Errorf("pipe read: %w", err)
	}
	return decode([]byte(strings.TrimSuffix(line, string(p.term)))), true, nil
}

func (p *PipeSource) Close() error {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	return nil
}
