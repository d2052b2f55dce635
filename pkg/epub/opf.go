package epub

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// opfPackage represents the root <package> element of the OPF file.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

// opfMetadata holds the Dublin-Core elements tracked by the extractor
// plus <meta> entries (the ePub 2 cover pointer lives there).
type opfMetadata struct {
	Titles       []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators     []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Identifiers  []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Languages    []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ language"`
	Descriptions []opfDCElement `xml:"http://purl.org/dc/elements/1.1/ description"`
	Metas        []opfMeta      `xml:"meta"`
}

type opfDCElement struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

// opfMeta represents a <meta> element.
// ePub 2: <meta name="cover" content="item-id"/>
// ePub 3: <meta property="...">value</meta>
type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Value    string `xml:",chardata"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

// opfManifestItem is a single <item> in the manifest.
type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	ItemRefs []opfSpineItemRef `xml:"itemref"`
}

type opfSpineItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// entityNameToNumeric maps common HTML entity names to XML numeric
// references. encoding/xml does not know HTML named entities, and real
// EPUBs use them in OPF metadata anyway.
var entityNameToNumeric = map[string]string{
	"nbsp": "&#160;", "mdash": "&#8212;", "ndash": "&#8211;",
	"hellip": "&#8230;", "lsquo": "&#8216;", "rsquo": "&#8217;",
	"ldquo": "&#8220;", "rdquo": "&#8221;", "copy": "&#169;",
	"reg": "&#174;", "trade": "&#8482;", "eacute": "&#233;",
	"egrave": "&#232;", "auml": "&#228;", "ouml": "&#246;",
	"uuml": "&#252;", "ntilde": "&#241;", "ccedil": "&#231;",
}

var htmlEntityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|` +
		`eacute|egrave|auml|ouml|uuml|ntilde|ccedil);`)

func preprocessHTMLEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if replacement, ok := entityNameToNumeric[name]; ok {
			return []byte(replacement)
		}
		return match
	})
}

// parseOPF parses package document bytes.
func parseOPF(data []byte) (*opfPackage, error) {
	data = stripBOM(preprocessHTMLEntities(data))

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w", err)
	}
	if pkg.Version == "" {
		pkg.Version = "2.0"
	}
	return &pkg, nil
}

// manifestItemByID returns the manifest item with the given id.
func (a *Archive) manifestItemByID(id string) (opfManifestItem, bool) {
	for _, item := range a.opf.Manifest.Items {
		if item.ID == id {
			return item, true
		}
	}
	return opfManifestItem{}, false
}

// documentItems returns the manifest items holding book text, in reading
// order: spine order first, then any document-typed manifest items the
// spine does not reference, in manifest order. Manifest order alone does
// not guarantee narrative sequence.
func (a *Archive) documentItems() []opfManifestItem {
	seen := make(map[string]bool, len(a.opf.Spine.ItemRefs))
	items := make([]opfManifestItem, 0, len(a.opf.Manifest.Items))
	for _, ref := range a.opf.Spine.ItemRefs {
		item, ok := a.manifestItemByID(ref.IDRef)
		if !ok || !isDocumentMediaType(item.MediaType) {
			continue
		}
		seen[item.ID] = true
		items = append(items, item)
	}
	for _, item := range a.opf.Manifest.Items {
		if seen[item.ID] || !isDocumentMediaType(item.MediaType) {
			continue
		}
		items = append(items, item)
	}
	return items
}

func isDocumentMediaType(mediaType string) bool {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "application/xhtml+xml", "text/html", "application/html+xml":
		return true
	}
	return false
}

func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/")
}
