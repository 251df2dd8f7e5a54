package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		payload []byte
	}{
		{"empty payload", EchoReq, nil},
		{"short payload", GrabJob, []byte("hello")},
		{"job assign payload", JobAssign, []byte("H:1\x00reverse\x00some data")},
		{"binary payload", WorkComplete, []byte{0x00, 0x01, 0xff, 0xfe, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeResponse(tt.cmd, tt.payload)

			// Append trailing bytes from an unrelated second frame to make
			// sure the decoder leaves them untouched.
			trailer := encodeResponse(Noop, []byte("next"))
			buf := append(append([]byte{}, encoded...), trailer...)

			dec := NewDecoder(bytes.NewReader(buf))
			frame, err := dec.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if frame.Command != tt.cmd {
				t.Fatalf("command = %v, want %v", frame.Command, tt.cmd)
			}
			if !bytes.Equal(frame.Payload, tt.payload) {
				t.Fatalf("payload = %q, want %q", frame.Payload, tt.payload)
			}

			next, err := dec.Next()
			if err != nil {
				t.Fatalf("Next (trailer): %v", err)
			}
			if next.Command != Noop || string(next.Payload) != "next" {
				t.Fatalf("trailer frame = %+v", next)
			}
		})
	}
}

func TestDecoderSingleByteChunking(t *testing.T) {
	encoded := encodeResponse(WorkComplete, []byte("H:1\x00result"))
	r := &oneByteReader{data: encoded}
	dec := NewDecoder(r)
	frame, err := dec.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if frame.Command != WorkComplete || string(frame.Payload) != "H:1\x00result" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestDecoderBadMagic(t *testing.T) {
	buf := append([]byte("\x00BAD"), make([]byte, 8)...)
	dec := NewDecoder(bytes.NewReader(buf))
	_, err := dec.Next()
	if err != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestDecoderTruncated(t *testing.T) {
	encoded := encodeResponse(GrabJob, []byte("hello"))
	dec := NewDecoder(bytes.NewReader(encoded[:HeaderLen+2]))
	_, err := dec.Next()
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

// encodeResponse builds an inbound (broker-to-client) frame: the same
// layout as Encode, but with the "\0RES" magic the Decoder expects.
func encodeResponse(cmd Command, payload []byte) []byte {
	buf := Encode(cmd, payload)
	copy(buf[0:4], resMagic[:])
	return buf
}

// oneByteReader forces the decoder through many small reads to exercise
// partial-frame buffering.
type oneByteReader struct {
	data []byte
	pos  int
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}
