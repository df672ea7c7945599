package newsletter

import (
	"context"
	"errors"
	"io"
	"unicode/utf8"
)

const readerChunkSize = 512

// ReaderStream turns a byte stream into text chunks. A multi-byte UTF-8 sequence
// split across reads is held back until its remaining bytes arrive.
type ReaderStream struct {
	r       io.Reader
	buf     []byte
	pending []byte
	done    bool
}

func NewReaderStream(r io.Reader) *ReaderStream {
	return &ReaderStream{r: r, buf: make([]byte, readerChunkSize)}
}

func (s *ReaderStream) Recv() (string, error) {
	for !s.done {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			data := append(s.pending, s.buf[:n]...)
			cut := completePrefix(data)
			s.pending = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				if errors.Is(err, io.EOF) {
					s.done = true
				}
				return string(data[:cut]), nil
			}
		}
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return "", err
		}
	}

	if len(s.pending) > 0 {
		// truncated sequence at end of stream
		rest := string(s.pending)
		s.pending = nil
		return rest, nil
	}
	return "", io.EOF
}

func (s *ReaderStream) Close() error {
	if closer, ok := s.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// completePrefix returns the length of the longest prefix of data that does not end
// inside a multi-byte sequence.
func completePrefix(data []byte) int {
	end := len(data)
	// a sequence is at most utf8.UTFMax bytes, so only the tail needs checking
	for i := end - 1; i >= 0 && i >= end-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if !utf8.FullRune(data[i:]) {
			return i
		}
		return end
	}
	return end
}

// readerProducer serves a fixed stream, used when the caller already holds the text.
type readerProducer struct {
	open func() io.Reader
}

// NewReaderProducer returns a Producer whose streams read from readers made by open.
func NewReaderProducer(open func() io.Reader) Producer {
	return &readerProducer{open: open}
}

func (p *readerProducer) Open(_ context.Context, _ string) (ChunkStream, error) {
	return NewReaderStream(p.open()), nil
}
