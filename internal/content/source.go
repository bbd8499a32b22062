package content

// Kind tags the outcome of Source.Advance.
type Kind int

// Advance outcomes.
const (
	// Pending means no content is available yet; the source will call its
	// availability function once that changes.
	Pending Kind = iota
	// Delivered carries the next chunk.
	Delivered
	// EndOfContent means the source is exhausted.
	EndOfContent
	// Aborted means the source failed; Result.Err holds the cause.
	Aborted
)

func (k Kind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Delivered:
		return "delivered"
	case EndOfContent:
		return "end-of-content"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result is the tagged result of Source.Advance.
type Result struct {
	Kind  Kind
	Chunk *Chunk
	Err   error
}

// Source supplies request content to an exchange, which pulls chunks
// through Advance whenever its write path is ready for more.
type Source interface {
	// Advance returns the next chunk, Pending, EndOfContent or Aborted.
	// A delivered chunk must be completed by the caller.
	Advance() Result

	// OnAvailable registers the function called whenever Advance may
	// return something other than Pending. It must not block.
	OnAvailable(fn func())

	// Length returns the total content length, or -1 if unknown.
	Length() int64

	// ContentType returns the media type of the content, if known.
	ContentType() string

	// Abort fails the source. Queued chunks are failed with err and
	// Advance reports Aborted from then on.
	Abort(err error)
}
