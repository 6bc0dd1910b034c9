package anthropic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/rhuss/dolmetscher/pkg/debug"
)

// readBufferSize is the size of each upstream read in Run.
const readBufferSize = 4 << 10

var (
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
)

// SplitLines appends chunk to buf and splits the result on '\n'. It returns
// every complete line in order, each with one trailing '\r' removed, and
// the trailing fragment that is not yet terminated. SplitLines does not
// retain buf or chunk.
func SplitLines(buf, chunk []byte) (lines [][]byte, rest []byte) {
	data := make([]byte, 0, len(buf)+len(chunk))
	data = append(data, buf...)
	data = append(data, chunk...)

	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, bytes.TrimSuffix(data[:i], []byte("\r")))
		data = data[i+1:]
	}
	if len(data) > 0 {
		rest = data
	}
	return lines, rest
}

// Decoder turns upstream bytes into Events. It holds only the partial
// line between two chunks and is owned by a single stream.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one chunk of bytes and returns the events of every line it
// completed, in arrival order. A data line that is not valid JSON stops
// decoding and returns a *StreamError of kind StreamMalformed; events
// decoded from earlier lines are returned with it.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	lines, rest := SplitLines(d.buf, chunk)
	d.buf = rest

	var events []Event
	for _, line := range lines {
		ev, err := decodeLine(line)
		if err != nil {
			d.buf = nil
			return events, err
		}
		if ev != nil {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Close discards any unterminated fragment without parsing it.
func (d *Decoder) Close() {
	if len(d.buf) > 0 {
		debug.Log("streaming", "discarding unterminated stream fragment",
			"bytes", len(d.buf), "fragment", debug.Truncate(string(d.buf), 200))
	}
	d.buf = nil
}

// Run reads r until EOF, feeding each read into the decoder and handing
// every event to yield in arrival order. It returns nil on EOF, ctx.Err()
// when ctx is cancelled, the first error from yield, a read error, or the
// *StreamError of the first malformed frame. Run never yields after it
// has decided to return.
func (d *Decoder) Run(ctx context.Context, r io.Reader, yield func(Event) error) error {
	defer d.Close()

	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			debug.Trace("streaming", "upstream bytes", "data", string(buf[:n]))
			events, err := d.Feed(buf[:n])
			for _, ev := range events {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if yieldErr := yield(ev); yieldErr != nil {
					return yieldErr
				}
			}
			if err != nil {
				return err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return readErr
		}
	}
}

// decodeLine classifies one line. It returns a nil Event for lines that
// carry nothing to translate.
func decodeLine(line []byte) (Event, error) {
	switch {
	case len(line) == 0:
		return nil, nil
	case bytes.HasPrefix(line, dataPrefix):
		payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
		ev, err := ParseEvent(payload)
		if err != nil {
			return nil, &StreamError{
				Kind:    StreamMalformed,
				Message: "upstream sent an undecodable event: " + debug.Truncate(string(payload), 200),
				Err:     err,
			}
		}
		return ev, nil
	case bytes.HasPrefix(line, eventPrefix):
		return nil, nil
	case line[0] == ':':
		// SSE comment
		return nil, nil
	default:
		slog.Warn("ignoring unrecognized stream line", "line", debug.Truncate(string(line), 200))
		return nil, nil
	}
}
