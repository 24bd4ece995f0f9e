// Package channel implements the line-oriented message pipe over a player
// process's stdin and stdout.
package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/livelyd/livelyd/internal/ipc"
	"github.com/livelyd/livelyd/internal/logger"
	"github.com/livelyd/livelyd/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrChannelWrite marks a failed outbound write
var ErrChannelWrite = errors.New("channel write failed")

// maxLineSize bounds a single protocol line
const maxLineSize = 1 << 20

// errLineTooLong reports a line that was skipped for exceeding maxLineSize
var errLineTooLong = fmt.Errorf("line exceeds %d bytes", maxLineSize)

// Handler receives decoded messages in arrival order
type Handler func(ipc.Message)

// Channel reads messages from r and writes messages to w
type Channel struct {
	r       io.Reader
	w       io.Writer
	handler Handler
	log     *zerolog.Logger

	writeMu sync.Mutex
	closed  bool

	startOnce sync.Once
	done      chan struct{}
}

// New creates a channel over the given streams. Reading starts with Start.
func New(r io.Reader, w io.Writer, handler Handler, log *zerolog.Logger) *Channel {
	if log == nil {
		log = logger.WithComponent("channel")
	}
	return &Channel{
		r:       r,
		w:       w,
		handler: handler,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Start launches the read loop. Calling it more than once has no effect.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// Done is closed when the read loop stops
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) readLoop() {
	defer close(c.done)

	reader := bufio.NewReaderSize(c.r, 64*1024)
	for {
		line, err := readLine(reader)
		if errors.Is(err, errLineTooLong) {
			metrics.DecodeErrors.Inc()
			c.log.Warn().Err(err).Msg("Dropping oversized line")
			continue
		}
		if len(line) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				c.log.Debug().Msg("Player closed its output")
			} else {
				c.log.Warn().Err(err).Msg("Stopped reading player output")
			}
			return
		}
	}
}

// readLine returns the next line without its terminator. Blank lines inside
// the stream come back as an empty slice with a nil error; an empty read at
// the end of the stream comes back with io.EOF. A line longer than
// maxLineSize is consumed up to its terminator and reported as
// errLineTooLong.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	oversized := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if !oversized {
			line = append(line, chunk...)
			if len(line) > maxLineSize {
				oversized = true
				line = nil
			}
		}
		if err != nil {
			return line, err
		}
		if !isPrefix {
			if oversized {
				return nil, errLineTooLong
			}
			return line, nil
		}
	}
}

func (c *Channel) dispatch(line []byte) {
	msg, err := ipc.Decode(line)
	if err != nil {
		metrics.DecodeErrors.Inc()
		c.log.Warn().Err(err).Msg("Dropping undecodable line")
		return
	}

	metrics.MessagesReceived.WithLabelValues(msg.Type().String()).Inc()
	c.log.Trace().Str("type", msg.Type().String()).Msg("Received message")

	if c.handler != nil {
		c.handler(msg)
	}
}

// Send writes one message followed by a newline. Failures are logged and
// swallowed; the returned error is for callers that care.
func (c *Channel) Send(msg ipc.Message) error {
	data, err := ipc.Encode(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to encode message")
		return err
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed || c.w == nil {
		metrics.WriteErrors.Inc()
		c.log.Debug().Str("type", msg.Type().String()).Msg("Send after channel close ignored")
		return fmt.Errorf("%w: channel closed", ErrChannelWrite)
	}

	if _, err := c.w.Write(data); err != nil {
		metrics.WriteErrors.Inc()
		c.log.Warn().Err(err).Str("type", msg.Type().String()).Msg("Failed to write message")
		return fmt.Errorf("%w: %v", ErrChannelWrite, err)
	}

	metrics.MessagesSent.WithLabelValues(msg.Type().String()).Inc()
	c.log.Trace().Str("type", msg.Type().String()).Msg("Sent message")
	return nil
}

// CloseWrite stops further sends and closes the write side if it is a Closer
func (c *Channel) CloseWrite() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	if closer, ok := c.w.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.log.Debug().Err(err).Msg("Closing player stdin")
		}
	}
}
