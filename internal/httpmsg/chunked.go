package httpmsg

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// ChunkedReader decodes an HTTP/1.1 chunked transfer-coded body into a
// plain byte stream, stopping after the zero-length final chunk and its
// trailer block.
type ChunkedReader struct {
	br   *bufio.Reader
	rem  int64 // bytes left in the current chunk, -1 before the first chunk-size line
	done bool
}

// NewChunkedReader wraps br, which must be positioned at the first
// chunk-size line.
func NewChunkedReader(br *bufio.Reader) *ChunkedReader {
	return &ChunkedReader{br: br, rem: -1}
}

func (c *ChunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}

	if c.rem == 0 {
		// consume the CRLF ending the previous chunk's data
		if err := c.discardCRLF(); err != nil {
			return 0, err
		}
		c.rem = -1
	}

	if c.rem < 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, err
		}
		if size == 0 {
			if err := c.readTrailer(); err != nil {
				return 0, err
			}
			c.done = true
			return 0, io.EOF
		}
		c.rem = size
	}

	max := int64(len(p))
	if max > c.rem {
		max = c.rem
	}
	n, err := c.br.Read(p[:max])
	c.rem -= int64(n)
	if err != nil {
		return n, fmt.Errorf("%w: %v", rterrors.ErrHTTPParse, err)
	}
	return n, nil
}

func (c *ChunkedReader) readChunkSize() (int64, error) {
	line, err := c.br.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("%w: %v", rterrors.ErrHTTPParse, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i] // drop chunk extensions
	}
	size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed chunk size %q", rterrors.ErrHTTPParse, line)
	}
	return size, nil
}

func (c *ChunkedReader) discardCRLF() error {
	b, err := c.br.ReadByte()
	if err != nil || b != '\r' {
		return fmt.Errorf("%w: malformed chunk terminator", rterrors.ErrHTTPParse)
	}
	b, err = c.br.ReadByte()
	if err != nil || b != '\n' {
		return fmt.Errorf("%w: malformed chunk terminator", rterrors.ErrHTTPParse)
	}
	return nil
}

func (c *ChunkedReader) readTrailer() error {
	for {
		line, err := c.br.ReadString('\n')
		if err != nil {
			return fmt.Errorf("%w: %v", rterrors.ErrHTTPParse, err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			return nil
		}
	}
}

// WriteChunk writes one chunk of p (possibly empty, which callers use as
// the final chunk) to w in chunked transfer-coding.
func WriteChunk(w io.Writer, p []byte) error {
	if _, err := fmt.Fprintf(w, "%x\r\n", len(p)); err != nil {
		return err
	}
	if len(p) > 0 {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// WriteChunkedTrailer writes the terminating zero-length chunk.
func WriteChunkedTrailer(w io.Writer) error {
	return WriteChunk(w, nil)
}
