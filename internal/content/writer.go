package content

// WriterSource is an AsyncSource driven through io.Writer. Each Write is
// offered as one chunk and blocks until the exchange has consumed it, so
// it must never be called from a content callback.
type WriterSource struct {
	*AsyncSource
}

// NewWriterSource returns an open WriterSource.
func NewWriterSource() *WriterSource {
	return &WriterSource{AsyncSource: NewAsyncSource()}
}

// Write offers p and waits for its completion.
func (w *WriterSource) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	done := make(chan error, 1)
	w.Offer(NewChunk(p, false, CallbackFuncs{
		Success: func() { done <- nil },
		Failure: func(err error) { done <- err },
	}))
	if err := <-done; err != nil {
		return 0, err
	}
	return len(p), nil
}
