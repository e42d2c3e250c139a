package wsock

import (
	"fmt"
	"io"

	"github.com/cobalt-run/tjs/internal/rterrors"
)

// Message is one reassembled application message: a TEXT or BINARY
// payload, possibly spanning several frames joined by CONTINUATION.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Reassembler turns a stream of frames read from one connection into
// complete messages, tracking an in-progress fragmentation run the way
// spec's "fragment accumulator (ordered byte list) with opcode of first
// fragment" describes.
type Reassembler struct {
	masked bool

	fragmenting bool
	fragOpcode  Opcode
	fragBuf     []byte
}

// NewReassembler returns a Reassembler for a peer that masks its frames
// (true when reading frames sent by a client) or does not (false when
// reading frames sent by a server).
func NewReassembler(masked bool) *Reassembler {
	return &Reassembler{masked: masked}
}

// Next reads frames from r until either a complete message is
// available (msg != nil) or a control frame arrives (ctrl != nil). The
// caller dispatches control frames (ping/pong/close) per RFC 6455 and
// then calls Next again to resume reassembly.
func (rs *Reassembler) Next(r io.Reader) (msg *Message, ctrl *Frame, err error) {
	for {
		f, ferr := ReadFrame(r, rs.masked)
		if ferr != nil {
			return nil, nil, ferr
		}

		if f.Opcode.IsControl() {
			return nil, f, nil
		}

		switch f.Opcode {
		case OpText, OpBinary:
			if rs.fragmenting {
				return nil, nil, fmt.Errorf("%w: data frame received mid-fragmentation", rterrors.ErrProtocol)
			}
			if f.FIN {
				return &Message{Opcode: f.Opcode, Payload: f.Payload}, nil, nil
			}
			rs.fragmenting = true
			rs.fragOpcode = f.Opcode
			rs.fragBuf = append([]byte(nil), f.Payload...)
		case OpContinuation:
			if !rs.fragmenting {
				return nil, nil, fmt.Errorf("%w: continuation frame without fragmentation in progress", rterrors.ErrProtocol)
			}
			rs.fragBuf = append(rs.fragBuf, f.Payload...)
			if f.FIN {
				done := &Message{Opcode: rs.fragOpcode, Payload: rs.fragBuf}
				rs.fragmenting = false
				rs.fragOpcode = 0
				rs.fragBuf = nil
				return done, nil, nil
			}
		default:
			return nil, nil, fmt.Errorf("%w: unsupported opcode %#x", rterrors.ErrProtocol, byte(f.Opcode))
		}
	}
}
