package channel

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Recorder writes a zstd-compressed copy of the lines crossing a channel.
// It is safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	enc *zstd.Encoder
}

// NewRecorder starts a transcript on w. Close must be called to finish
// the zstd frame.
func NewRecorder(w io.Writer) (*Recorder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, err
	}
	return &Recorder{enc: enc}, nil
}

// Record appends one line. A nil recorder records nothing.
func (r *Recorder) Record(line string) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.enc, line); err != nil {
		return err
	}
	_, err := r.enc.Write([]byte{'\n'})
	return err
}

func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Close()
}

// OpenTranscript returns the plain lines of a transcript, decompressing it
// when it starts with a zstd frame.
func OpenTranscript(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && len(head) == 0 {
		if err == io.EOF {
			return io.NopCloser(br), nil
		}
		return nil, err
	}
	if !bytes.Equal(head, zstdMagic) {
		return io.NopCloser(br), nil
	}
	dec, err := zstd.NewReader(br)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
