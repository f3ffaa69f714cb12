package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrReferenceLoad marks any failure to load eco-region or taxon reference data.
	ErrReferenceLoad = errors.New("reference data load failed")

	// ErrFetchFailed marks a network or server failure while querying the occurrence source.
	ErrFetchFailed = errors.New("occurrence fetch failed")

	// ErrCRSMismatch is returned when points and polygons carry different coordinate systems.
	ErrCRSMismatch = errors.New("coordinate reference systems differ")
)

// ReferenceLoadError describes a fatal problem with a reference file.
// Line is the 1-based CSV line, or 0 when the problem is not tied to a row.
type ReferenceLoadError struct {
	Path string
	Line int
	Err  error
}

func (e *ReferenceLoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("load %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *ReferenceLoadError) Unwrap() []error {
	return []error{ErrReferenceLoad, e.Err}
}

// FetchError reports a failed occurrence fetch. Pages and Records describe the
// progress made before the failure; the records themselves are returned alongside.
type FetchError struct {
	Stage   string // "match" or "search"
	Pages   int
	Records int
	Err     error
}

func (e *FetchError) Error() string {
	if e.Stage == "match" {
		return fmt.Sprintf("name match: %v", e.Err)
	}
	return fmt.Sprintf("occurrence search failed after %d pages (%d records): %v", e.Pages, e.Records, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}
