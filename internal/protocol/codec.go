package protocol

import (
	"bytes"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/sumo-bridge/internal/metrics"
)

// Codec turns raw stdout chunks into decoded frames. It owns a rolling
// buffer, so Feed may be called with arbitrary chunk splits; the decoded
// frames are the same regardless of where the bytes were cut.
//
// A Codec is bound to one process generation and is not safe for concurrent
// use; the supervisor feeds it from a single reader goroutine, which keeps
// frames in strict arrival order.
type Codec struct {
	buf bytes.Buffer
}

// NewCodec returns an empty codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Feed appends chunk to the buffer and returns every frame that is now
// complete. A line that fails decoding is dropped and decoding continues
// with the rest of the buffer; one corrupt line never stalls the stream.
func (c *Codec) Feed(chunk []byte) []Frame {
	c.buf.Write(chunk)

	var frames []Frame
	for {
		raw := c.buf.Bytes()
		i := bytes.IndexByte(raw, '\n')
		if i < 0 {
			break
		}
		line := make([]byte, i)
		copy(line, raw[:i])
		c.buf.Next(i + 1)

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		frame, err := decodeLine(line)
		if err != nil {
			metrics.MalformedLines.Inc()
			log.WithError(err).Debug("Dropping undecodable frame line")
			continue
		}
		metrics.FramesDecoded.WithLabelValues(string(frame.Type)).Inc()
		frames = append(frames, frame)
	}
	return frames
}

// Buffered returns the number of bytes held back waiting for a line
// terminator.
func (c *Codec) Buffered() int {
	return c.buf.Len()
}
