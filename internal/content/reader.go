package content

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sync"
)

// ReaderSource is a Source that copies an io.Reader one chunk at a time.
// The reader is read on a goroutine started by the first Advance, and the
// next read waits until the previous chunk has been sent. If the reader is
// an io.Closer it is closed once the content ends or is aborted.
type ReaderSource struct {
	*AsyncSource
	r    io.Reader
	pool *Pool

	start sync.Once
	shut  sync.Once
}

// NewReaderSource returns a source of unknown length reading r in chunks
// of chunkSize bytes.
func NewReaderSource(contentType string, r io.Reader, chunkSize int) *ReaderSource {
	s := &ReaderSource{AsyncSource: NewAsyncSource(), r: r, pool: NewPool(chunkSize)}
	s.SetContentType(contentType)
	return s
}

// NewFileSource opens the file at path as request content of known length.
// When contentType is empty it is derived from the file extension.
func NewFileSource(path, contentType string, chunkSize int) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("content: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("content: stat %s: %w", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("content: %s is a directory", path)
	}

	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// An empty body is never read, so the file is not kept open for it.
	var r io.Reader = f
	if info.Size() == 0 {
		_ = f.Close()
		r = bytes.NewReader(nil)
	}

	s := NewReaderSource(contentType, r, chunkSize)
	s.SetLength(info.Size())
	return s, nil
}

// Advance implements Source.
func (s *ReaderSource) Advance() Result {
	s.start.Do(func() { go s.pump() })
	return s.AsyncSource.Advance()
}

// Abort implements Source.
func (s *ReaderSource) Abort(err error) {
	s.AsyncSource.Abort(err)
	s.start.Do(func() {})
	s.closeReader()
}

func (s *ReaderSource) pump() {
	defer s.closeReader()

	for {
		buf := s.pool.Get()
		n, err := s.r.Read(buf.Bytes())
		if n > 0 {
			done := make(chan error, 1)
			s.Offer(NewChunk(buf.Bytes()[:n], err == io.EOF, CallbackFuncs{
				Success: func() { done <- nil },
				Failure: func(err error) { done <- err },
			}))
			failed := <-done
			buf.Release()
			if failed != nil {
				return
			}
		} else {
			buf.Release()
		}

		switch {
		case err == io.EOF:
			_ = s.Close()
			return
		case err != nil:
			s.AsyncSource.Abort(fmt.Errorf("content: read source: %w", err))
			return
		}
	}
}

func (s *ReaderSource) closeReader() {
	s.shut.Do(func() {
		if c, ok := s.r.(io.Closer); ok {
			_ = c.Close()
		}
	})
}
