package repository

import (
	"errors"
	"fmt"
)

var (
	ErrMissingTitle      = errors.New("page has no title element")
	ErrArchiveWrite      = errors.New("archive write failed")
	ErrCheckpointCorrupt = errors.New("checkpoint is corrupt or unreadable")
	ErrCheckpointWrite   = errors.New("checkpoint write failed")
	ErrRendererInit      = errors.New("renderer initialization failed")
	ErrRendererGone      = errors.New("renderer session terminated")
	ErrExtract           = errors.New("link extraction failed")
)

// FetchKind classifies a render failure. Kinds differ only in how they are logged.
type FetchKind int

const (
	FetchTransport FetchKind = iota
	FetchNotFound
	FetchTimeout
)

func (k FetchKind) String() string {
	switch k {
	case FetchNotFound:
		return "not_found"
	case FetchTimeout:
		return "timeout"
	default:
		return "transport"
	}
}

// FetchError is returned by a PageRenderer when a page could not be rendered.
type FetchError struct {
	Kind       FetchKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s, status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// FetchKindOf reports the kind of a fetch failure; errors that are not a
// *FetchError count as transport failures.
func FetchKindOf(err error) FetchKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchTransport
}
