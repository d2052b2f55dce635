package epub

import "errors"

// Sentinel errors returned by the epub package.
var (
	// ErrMalformedArchive indicates the input is not a valid EPUB
	// container (not a ZIP, or no package document found).
	ErrMalformedArchive = errors.New("epub: malformed archive")

	// ErrEntryNotFound indicates the requested path does not exist
	// in the archive.
	ErrEntryNotFound = errors.New("epub: entry not found in archive")

	// ErrNoContent indicates no text could be extracted from any
	// document item of the book.
	ErrNoContent = errors.New("epub: no content extracted")

	// ErrNoCover indicates no cover image could be detected using any
	// of the lookup strategies. Callers degrade to the placeholder.
	ErrNoCover = errors.New("epub: no cover image found")
)
