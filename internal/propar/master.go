package propar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nerrad567/mfc-control/internal/instrument"
)

const (
	readChunk = 64

	// maxForeignFrames bounds how many frames for other nodes are skipped
	// while waiting for an answer.
	maxForeignFrames = 4
)

// Port is the serial connection a Master talks through. A Read that times
// out returns (0, nil), as go.bug.st/serial does.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Master owns one serial port and serialises request/answer exchanges on it.
type Master struct {
	name string
	port Port

	mu     sync.Mutex
	buf    []byte
	closed bool
}

// NewMaster wraps an open port.
func NewMaster(name string, port Port) *Master {
	return &Master{name: name, port: port}
}

// Exchange sends f and waits for the reply from the same node. It returns
// ErrNoAnswer when the port read times out.
func (m *Master) Exchange(f Frame) (Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Frame{}, ErrBusClosed
	}

	// Stale bytes belong to an earlier, abandoned exchange.
	m.buf = m.buf[:0]

	if _, err := m.port.Write(f.Encode()); err != nil {
		return Frame{}, fmt.Errorf("writing to %s: %w", m.name, err)
	}

	for skipped := 0; skipped <= maxForeignFrames; skipped++ {
		line, err := m.readLine()
		if err != nil {
			return Frame{}, err
		}
		reply, err := DecodeFrame(line)
		if err != nil {
			return Frame{}, err
		}
		if reply.Node == f.Node {
			return reply, nil
		}
	}
	return Frame{}, fmt.Errorf("%w: no reply from node %d", ErrUnexpectedAnswer, f.Node)
}

// Close closes the port. Further exchanges fail with ErrBusClosed.
func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.port.Close()
}

// readLine returns the next LF-terminated line. Caller holds mu.
func (m *Master) readLine() ([]byte, error) {
	chunk := make([]byte, readChunk)
	for {
		if i := bytes.IndexByte(m.buf, '\n'); i >= 0 {
			line := make([]byte, i+1)
			copy(line, m.buf[:i+1])
			m.buf = append(m.buf[:0], m.buf[i+1:]...)
			return line, nil
		}

		n, err := m.port.Read(chunk)
		if n > 0 {
			m.buf = append(m.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading from %s: %w", m.name, err)
		}
		return nil, ErrNoAnswer
	}
}

// Node is one FLOW-BUS node reached through a Master.
type Node struct {
	master  *Master
	address byte
}

// NewNode returns the instrument for address on master.
func NewNode(master *Master, address int) *Node {
	return &Node{master: master, address: byte(address)}
}

// Address returns the node address.
func (n *Node) Address() int {
	return int(n.address)
}

// ReadParameter implements instrument.Instrument. A node that does not answer
// yields (nil, nil).
func (n *Node) ReadParameter(p instrument.Parameter) (any, error) {
	ref, err := Lookup(p)
	if err != nil {
		return nil, err
	}

	reply, err := n.master.Exchange(RequestFrame(n.address, ref))
	if errors.Is(err, ErrNoAnswer) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s from node %d: %w", p, n.address, err)
	}

	v, err := DecodeAnswer(reply, ref)
	if err != nil {
		return nil, fmt.Errorf("reading %s from node %d: %w", p, n.address, err)
	}
	return v, nil
}

// WriteParameter implements instrument.Instrument.
func (n *Node) WriteParameter(p instrument.Parameter, value any) error {
	ref, err := Lookup(p)
	if err != nil {
		return err
	}
	frame, err := WriteFrame(n.address, ref, value)
	if err != nil {
		return fmt.Errorf("writing %s to node %d: %w", p, n.address, err)
	}

	reply, err := n.master.Exchange(frame)
	if err != nil {
		return fmt.Errorf("writing %s to node %d: %w", p, n.address, err)
	}
	if err := DecodeStatus(reply); err != nil {
		return fmt.Errorf("writing %s to node %d: %w", p, n.address, err)
	}
	return nil
}
