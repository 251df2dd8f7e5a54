package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderLen is the fixed size of a frame header: 4 bytes magic, 4 bytes
// command, 4 bytes payload length.
const HeaderLen = 12

var (
	reqMagic = [4]byte{0, 'R', 'E', 'Q'}
	resMagic = [4]byte{0, 'R', 'E', 'S'}
)

// ErrBadMagic is returned by Decoder.Next when a frame header does not
// begin with the expected response magic.
var ErrBadMagic = fmt.Errorf("wire: invalid response magic")

// Frame is a single decoded Gearman packet.
type Frame struct {
	Command Command
	Payload []byte
}

// Encode produces the outbound wire representation of cmd/payload:
// "\0REQ" || be32(cmd) || be32(len(payload)) || payload.
func Encode(cmd Command, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	copy(buf[0:4], reqMagic[:])
	binary.BigEndian.PutUint32(buf[4:8], uint32(cmd))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf
}

// Decoder is a stream parser for inbound frames. It buffers partial frames
// across arbitrary read chunk boundaries and never allocates beyond the
// frame currently being assembled.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r for frame-at-a-time decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next blocks until a full frame has been read, or returns an error:
// ErrBadMagic if the header's magic does not match "\0RES", or the
// underlying read error (including io.EOF) otherwise.
func (d *Decoder) Next() (Frame, error) {
	header := make([]byte, HeaderLen)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return Frame{}, err
	}
	if string(header[0:4]) != string(resMagic[:]) {
		return Frame{}, ErrBadMagic
	}
	cmd := Command(binary.BigEndian.Uint32(header[4:8]))
	size := binary.BigEndian.Uint32(header[8:12])

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(d.r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Command: cmd, Payload: payload}, nil
}
