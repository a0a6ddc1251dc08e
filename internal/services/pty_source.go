package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/webmux/webmux/internal/buffer"
	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/term"
)

// PTYSource runs a command under a pseudo-terminal and streams its output
// into a terminal buffer and chunk queue. It is the capture path for
// processes hosted directly by the server rather than inside tmux: same
// downstream plumbing, no external capture calls.
type PTYSource struct {
	cmd  *exec.Cmd
	ptmx *os.File

	buffer *buffer.TerminalBuffer
	queue  *buffer.ChunkQueue

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// StartPTYSource launches the command under a PTY sized cols x rows and
// begins pumping output. The caller reads via the returned source's Buffer
// and Chunks.
func StartPTYSource(command []string, cols, rows int, buf *buffer.TerminalBuffer, queue *buffer.ChunkQueue) (*PTYSource, error) {
	if len(command) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
	if err != nil {
		return nil, fmt.Errorf("starting pty: %w", err)
	}

	s := &PTYSource{
		cmd:    cmd,
		ptmx:   ptmx,
		buffer: buf,
		queue:  queue,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	logger.Debugf("Started PTY source pid=%d cmd=%q", cmd.Process.Pid, command[0])
	return s, nil
}

// Buffer returns the terminal buffer this source writes into.
func (s *PTYSource) Buffer() *buffer.TerminalBuffer { return s.buffer }

// Chunks returns the chunk queue this source writes into.
func (s *PTYSource) Chunks() *buffer.ChunkQueue { return s.queue }

// Done is closed once the child exits and the output stream is drained.
func (s *PTYSource) Done() <-chan struct{} { return s.done }

// readLoop pumps PTY output through the stream decoder so only whole UTF-8
// sequences reach subscribers, no matter where the kernel splits reads.
func (s *PTYSource) readLoop() {
	defer close(s.done)

	decoder := term.NewStreamDecoder()
	raw := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(raw)
		if n > 0 {
			text, _ := decoder.DecodeChunk(raw[:n])
			if text != "" {
				data := []byte(text)
				if werr := s.buffer.Write(data); werr != nil {
					logger.Warnf("PTY buffer write: %v", werr)
				}
				s.queue.Write(data)
			}
		}
		if err != nil {
			// EIO is the normal way a Linux PTY reports child exit.
			if !errors.Is(err, io.EOF) && !isPTYClosed(err) {
				logger.Debugf("PTY read ended: %v", err)
			}
			return
		}
	}
}

// Write sends input bytes to the child process.
func (s *PTYSource) Write(data []byte) (int, error) {
	return s.ptmx.Write(data)
}

// Resize changes the PTY window size.
func (s *PTYSource) Resize(cols, rows int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{
		Cols: uint16(cols),
		Rows: uint16(rows),
	})
}

// Close kills the child process and releases the PTY. Safe to call more
// than once.
func (s *PTYSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	err := s.ptmx.Close()
	go func() { _ = s.cmd.Wait() }()
	return err
}

func isPTYClosed(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
