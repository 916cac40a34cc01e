package llm

import (
	"io"
	"sync"
)

// ChunkKind identifies the payload of a Chunk
type ChunkKind int

const (
	ChunkText ChunkKind = iota + 1
	ChunkReasoning
	ChunkSource
	ChunkFile
	ChunkFinish
)

func (k ChunkKind) String() string {
	switch k {
	case ChunkText:
		return "text"
	case ChunkReasoning:
		return "reasoning"
	case ChunkSource:
		return "source"
	case ChunkFile:
		return "file"
	case ChunkFinish:
		return "finish"
	default:
		return "unknown"
	}
}

// FinishReason is the normalized reason a generation stopped
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

// SourceRef is a citation reported by a search-grounded provider
type SourceRef struct {
	URL   string
	Title string
}

// File is binary output such as a generated image
type File struct {
	MimeType string
	Data     []byte
}

// Chunk is one element of a provider stream. Exactly one payload is set,
// matching Kind.
type Chunk struct {
	Kind   ChunkKind
	Text   string     // ChunkText, ChunkReasoning
	Source *SourceRef // ChunkSource
	File   *File      // ChunkFile

	// ChunkFinish
	FinishReason FinishReason
	Usage        *Usage // nil when the provider did not report usage
}

// Stream is a pull iterator over provider chunks:
//
//	for s.Next() {
//		c := s.Chunk()
//	}
//	if err := s.Err(); err != nil { ... }
//	s.Close()
//
// A well-formed stream ends with exactly one ChunkFinish.
type Stream interface {
	Next() bool
	Chunk() Chunk
	Err() error
	Close() error
}

// pullStream adapts a fill function returning batches of chunks into a
// Stream. fill returns io.EOF (optionally with a last batch) when done.
type pullStream struct {
	fill    func() ([]Chunk, error)
	closeFn func() error

	pending []Chunk
	cur     Chunk
	err     error
	done    bool

	closeOnce sync.Once
	closeErr  error
}

func newPullStream(fill func() ([]Chunk, error), closeFn func() error) *pullStream {
	return &pullStream{fill: fill, closeFn: closeFn}
}

func (s *pullStream) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		chunks, err := s.fill()
		s.pending = append(s.pending, chunks...)
		if err == io.EOF {
			s.done = true
			continue
		}
		if err != nil {
			s.err = err
			s.done = true
			s.pending = nil
			return false
		}
	}
	s.cur = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

func (s *pullStream) Chunk() Chunk { return s.cur }

func (s *pullStream) Err() error { return s.err }

func (s *pullStream) Close() error {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

// SliceStream replays a fixed list of chunks and then reports err.
// Used by tests and by providers that buffer a whole response.
type SliceStream struct {
	chunks []Chunk
	err    error
	idx    int
	cur    Chunk
	Closed bool
}

// NewSliceStream creates a stream over chunks. err (may be nil) is
// returned from Err once the chunks are exhausted.
func NewSliceStream(chunks []Chunk, err error) *SliceStream {
	return &SliceStream{chunks: chunks, err: err}
}

func (s *SliceStream) Next() bool {
	if s.Closed || s.idx >= len(s.chunks) {
		return false
	}
	s.cur = s.chunks[s.idx]
	s.idx++
	return true
}

func (s *SliceStream) Chunk() Chunk { return s.cur }

func (s *SliceStream) Err() error {
	if s.idx < len(s.chunks) {
		return nil
	}
	return s.err
}

func (s *SliceStream) Close() error {
	s.Closed = true
	return nil
}

// Convenience constructors for chunks

func TextChunk(text string) Chunk      { return Chunk{Kind: ChunkText, Text: text} }
func ReasoningChunk(text string) Chunk { return Chunk{Kind: ChunkReasoning, Text: text} }

func SourceChunk(url, title string) Chunk {
	return Chunk{Kind: ChunkSource, Source: &SourceRef{URL: url, Title: title}}
}

func FileChunk(mimeType string, data []byte) Chunk {
	return Chunk{Kind: ChunkFile, File: &File{MimeType: mimeType, Data: data}}
}

func FinishChunk(reason FinishReason, usage *Usage) Chunk {
	return Chunk{Kind: ChunkFinish, FinishReason: reason, Usage: usage}
}
