package model

import (
	"context"
	"io"
)

// Stream yields the chunks of one model response. Recv returns io.EOF after
// the final chunk has been delivered.
type Stream interface {
	Recv() (Chunk, error)
}

// Client issues model calls and returns streamed responses.
type Client interface {
	Stream(ctx context.Context, req Request, cfg Config) (Stream, error)
}

// chunkStream is a Stream backed by a fixed chunk slice. Provider adapters
// that issue non-streaming calls wrap their response in one.
type chunkStream struct {
	chunks []Chunk
	pos    int
}

// NewChunkStream returns a Stream that replays the given chunks in order.
func NewChunkStream(chunks ...Chunk) Stream {
	return &chunkStream{chunks: chunks}
}

func (s *chunkStream) Recv() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

// errStream is a Stream that fails on first read.
type errStream struct {
	err error
}

// NewErrStream returns a Stream whose Recv always returns err.
func NewErrStream(err error) Stream {
	return &errStream{err: err}
}

func (s *errStream) Recv() (Chunk, error) {
	return Chunk{}, s.err
}
