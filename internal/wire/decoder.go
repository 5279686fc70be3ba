package wire

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// FrameDelimiter separates frames on the wire.
const FrameDelimiter = "\n\n"

// FrameDecoder turns arbitrarily chunked response bytes into complete frames.
//
// Bytes are decoded with a streaming text transformer, so a multi-byte
// character split across two chunks is held back until it is complete. The
// decoded text is buffered and split on the blank-line delimiter; the last
// fragment is always retained because it may be a partial frame.
type FrameDecoder struct {
	dec     transform.Transformer
	pending []byte // undecoded bytes of an incomplete character
	buf     string
	frames  int
}

// NewFrameDecoder returns a decoder for UTF-8 streams.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{dec: unicode.UTF8.NewDecoder()}
}

// NewFrameDecoderForCharset returns a decoder for the named charset as found
// in a Content-Type header. An empty name means UTF-8.
func NewFrameDecoderForCharset(charset string) (*FrameDecoder, error) {
	if charset == "" {
		return NewFrameDecoder(), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", charset, err)
	}
	return &FrameDecoder{dec: enc.NewDecoder()}, nil
}

// Feed appends chunk to the buffer and returns every frame completed by it.
func (d *FrameDecoder) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)

	d.buf += string(d.decode(src, false))
	if strings.Contains(d.buf, "\r\n") {
		d.buf = strings.ReplaceAll(d.buf, "\r\n", "\n")
	}

	parts := strings.Split(d.buf, FrameDelimiter)
	d.buf = parts[len(parts)-1]

	var frames []string
	for _, p := range parts[:len(parts)-1] {
		if p == "" {
			continue
		}
		frames = append(frames, p)
	}
	d.frames += len(frames)
	return frames
}

// Close ends the stream. Whatever is still buffered cannot form a frame and
// is discarded; the number of dropped bytes is returned so the caller can
// report the framing error.
func (d *FrameDecoder) Close() int {
	if len(d.pending) > 0 {
		d.buf += string(d.decode(d.pending, true))
	}
	dropped := len(strings.TrimSpace(d.buf))
	d.buf = ""
	d.pending = nil
	d.dec.Reset()
	return dropped
}

// Buffered returns the size of the retained partial frame in bytes.
func (d *FrameDecoder) Buffered() int {
	return len(d.buf) + len(d.pending)
}

// Frames returns how many frames have been emitted so far.
func (d *FrameDecoder) Frames() int {
	return d.frames
}

func (d *FrameDecoder) decode(src []byte, atEOF bool) []byte {
	out := make([]byte, 0, len(src))
	dst := make([]byte, len(src)+16)
	d.pending = nil

	for len(src) > 0 {
		nDst, nSrc, err := d.dec.Transform(dst, src, atEOF)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch err {
		case nil:
			return out
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
			}
		case transform.ErrShortSrc:
			d.pending = append([]byte(nil), src...)
			return out
		default:
			// Undecodable byte in a legacy charset.
			out = append(out, "�"...)
			src = src[1:]
		}
	}
	return out
}
