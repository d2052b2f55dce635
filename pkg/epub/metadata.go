package epub

import "strings"

// Defaults used when a Dublin-Core field is absent from the package
// document. Every Metadata field is always non-empty after extraction.
const (
	DefaultTitle       = "Unknown Title"
	DefaultCreator     = "Unknown Author"
	DefaultIdentifier  = "Unknown Identifier"
	DefaultLanguage    = "Unknown"
	DefaultDescription = "No description available"
)

// Metadata holds the tracked Dublin-Core fields of a book.
type Metadata struct {
	Title       string
	Creator     string
	Identifier  string
	Language    string
	Description string
}

// Metadata extracts the Dublin-Core metadata block. Absent fields get
// their documented default; this never fails.
func (a *Archive) Metadata() Metadata {
	om := a.opf.Metadata
	return Metadata{
		Title:       firstNonEmpty(om.Titles, DefaultTitle),
		Creator:     firstNonEmpty(om.Creators, DefaultCreator),
		Identifier:  firstNonEmpty(om.Identifiers, DefaultIdentifier),
		Language:    firstNonEmpty(om.Languages, DefaultLanguage),
		Description: firstNonEmpty(om.Descriptions, DefaultDescription),
	}
}

func firstNonEmpty(elems []opfDCElement, fallback string) string {
	for _, e := range elems {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return fallback
}
