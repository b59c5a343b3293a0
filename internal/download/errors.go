package download

import "fmt"

// NetworkError represents a transient network failure while fetching a file:
// connection errors, timeouts, unexpected status codes or short bodies.
// The engine retries these with the resume mechanism up to a bounded number
// of attempts before demoting them to a per-file failure.
type NetworkError struct {
	URL        string // the file being fetched
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Reason     string // human-readable explanation
	Err        error  // underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error fetching %s (HTTP %d): %s", e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("network error fetching %s: %s", e.URL, e.Reason)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RangeUnsupportedError indicates the remote source rejected a byte-range
// request. It triggers a restart-from-zero for the file, not a failure.
type RangeUnsupportedError struct {
	URL        string
	StatusCode int
}

func (e *RangeUnsupportedError) Error() string {
	return fmt.Sprintf("range request not supported for %s (HTTP %d)", e.URL, e.StatusCode)
}

// SequenceError indicates a chunk arrived out of order: its offset does not
// match the file's persisted byte count. It is a protocol violation between
// engine and coordinator, rejected without mutating any state.
type SequenceError struct {
	URL      string
	Expected int64 // -1 when the file is not part of the working set
	Offset   int64
}

func (e *SequenceError) Error() string {
	if e.Expected < 0 {
		return fmt.Sprintf("chunk at offset %d for unknown file %s", e.Offset, e.URL)
	}
	return fmt.Sprintf("out-of-sequence chunk for %s: offset %d, expected %d", e.URL, e.Offset, e.Expected)
}

// StorageError represents a persistence-layer failure: the store being
// unavailable, quota exceeded, or an I/O error on the chunk blob. It is fatal
// to the current file's transfer and is never retried by the engine.
type StorageError struct {
	Op  string // the store operation that failed (e.g. "put_chunk")
	Key string // the record or file the operation targeted
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s for %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ResolutionError indicates the resolver could not produce a file set for a
// video. It is fatal to starting the session.
type ResolutionError struct {
	VideoID string
	Reason  string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve files for video %s: %s", e.VideoID, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
