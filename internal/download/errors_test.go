package download

import (
	"errors"
	"fmt"
	"testing"
)

func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *NetworkError
		want string
	}{
		{
			name: "with HTTP status code",
			err:  &NetworkError{URL: "http://cdn/seg0.ts", StatusCode: 503, Reason: "service unavailable"},
			want: "network error fetching http://cdn/seg0.ts (HTTP 503): service unavailable",
		},
		{
			name: "without HTTP status code",
			err:  &NetworkError{URL: "http://cdn/seg0.ts", Reason: "connection timeout"},
			want: "network error fetching http://cdn/seg0.ts: connection timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSequenceError_Error(t *testing.T) {
	err := &SequenceError{URL: "http://cdn/seg0.ts", Expected: 40, Offset: 80}

	want := "out-of-sequence chunk for http://cdn/seg0.ts: offset 80, expected 40"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	unknown := &SequenceError{URL: "http://cdn/ghost.ts", Expected: -1, Offset: 0}

	want = "chunk at offset 0 for unknown file http://cdn/ghost.ts"
	if unknown.Error() != want {
		t.Errorf("Error() = %q, want %q", unknown.Error(), want)
	}
}

func TestRangeUnsupportedError_Error(t *testing.T) {
	err := &RangeUnsupportedError{URL: "http://cdn/seg0.ts", StatusCode: 200}

	want := "range request not supported for http://cdn/seg0.ts (HTTP 200)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
	}{
		{
			name: "NetworkError",
			err:  &NetworkError{URL: "u", Reason: "r", Err: cause},
		},
		{
			name: "StorageError",
			err:  &StorageError{Op: "put_chunk", Key: "u", Err: cause},
		},
		{
			name: "ResolutionError",
			err:  &ResolutionError{VideoID: "v1", Reason: "r", Err: cause},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != cause {
				t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
			}

			wrapped := fmt.Errorf("context: %w", tt.err)
			if !errors.Is(wrapped, cause) {
				t.Error("errors.Is() should find cause in wrapped chain")
			}
		})
	}
}

func TestStorageError_As(t *testing.T) {
	original := &StorageError{Op: "put_chunk", Key: "http://cdn/seg0.ts", Err: errors.New("quota exceeded")}
	wrapped := fmt.Errorf("context: %w", original)

	var target *StorageError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract StorageError from wrapped chain")
	}

	if target.Op != "put_chunk" {
		t.Errorf("Op = %q, want %q", target.Op, "put_chunk")
	}
}
