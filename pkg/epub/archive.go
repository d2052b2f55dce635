package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// maxEntrySize is the maximum allowed decompressed size for a single ZIP
// entry, guarding against zip bombs.
const maxEntrySize int64 = 256 * 1024 * 1024

// containerPath is the well-known location of container.xml in an EPUB.
const containerPath = "META-INF/container.xml"

// Archive is an opened EPUB container. It is read-only and scoped to a
// single ingestion: it holds the ZIP reader, the located package document
// and the directory all manifest hrefs resolve against.
type Archive struct {
	zr      *zip.Reader
	opfPath string
	opfDir  string
	opf     *opfPackage
}

// containerXML models META-INF/container.xml, used to locate the OPF.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// Open validates that data is a ZIP container holding a package document
// and returns an Archive ready for metadata/cover/content extraction.
// Returns ErrMalformedArchive when either check fails.
func Open(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}

	opfPath, err := locateOPF(zr)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		zr:      zr,
		opfPath: opfPath,
		opfDir:  path.Dir(opfPath),
	}
	raw, err := a.ReadEntry(opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable package document %s", ErrMalformedArchive, opfPath)
	}
	opf, err := parseOPF(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	a.opf = opf
	return a, nil
}

// locateOPF finds the package document path, first via container.xml,
// then by scanning for any ".opf" entry.
func locateOPF(zr *zip.Reader) (string, error) {
	if f := findFileInsensitive(zr, containerPath); f != nil {
		if p, err := parseContainerXML(f); err == nil {
			return p, nil
		}
		// Broken container.xml still falls through to the scan.
	}
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".opf") {
			return f.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no package document", ErrMalformedArchive)
}

// parseContainerXML decodes a container.xml entry and returns the
// full-path of the package rootfile.
func parseContainerXML(f *zip.File) (string, error) {
	data, err := readZipFile(f)
	if err != nil {
		return "", err
	}
	var c containerXML
	if err := xml.Unmarshal(stripBOM(data), &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	var fallback string
	for _, rf := range c.RootFiles {
		fullPath := strings.TrimSpace(rf.FullPath)
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(rf.MediaType), "application/oebps-package+xml") {
			return fullPath, nil
		}
		if fallback == "" {
			fallback = fullPath
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("container.xml has no usable rootfile")
	}
	return fallback, nil
}

// OPFPath returns the archive-internal path of the package document.
func (a *Archive) OPFPath() string { return a.opfPath }

// ListEntries returns all archive-internal paths.
func (a *Archive) ListEntries() []string {
	names := make([]string, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		names = append(names, f.Name)
	}
	return names
}

// ReadEntry returns the content of the entry at the given archive path.
// Lookup falls back to case-insensitive matching; returns ErrEntryNotFound
// when no entry matches.
func (a *Archive) ReadEntry(name string) ([]byte, error) {
	f := findFileInsensitive(a.zr, name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	return readZipFile(f)
}

// ResolveHref resolves a manifest href against the package document's
// directory. Hrefs are relative to the OPF, not the archive root.
// Unsafe hrefs (absolute, or escaping the archive) resolve to "".
func (a *Archive) ResolveHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		href = href[:idx]
	}
	joined := path.Clean(path.Join(a.opfDir, href))
	if !isSafePath(joined) {
		return ""
	}
	return joined
}

// findFileInsensitive looks up a ZIP entry by path, exact match first,
// then case-insensitive.
func findFileInsensitive(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	lower := strings.ToLower(name)
	for _, f := range zr.File {
		if strings.ToLower(f.Name) == lower {
			return f
		}
	}
	return nil
}

// isSafePath rejects archive paths that escape the root via traversal.
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

// readZipFile reads a ZIP entry enforcing maxEntrySize. The declared size
// may be forged, so the actual decompressed stream is limited too.
func readZipFile(f *zip.File) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("%w: unsafe entry path %s", ErrMalformedArchive, f.Name)
	}
	if f.UncompressedSize64 > uint64(maxEntrySize) {
		return nil, fmt.Errorf("%w: entry %s too large", ErrMalformedArchive, f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("read zip entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxEntrySize {
		return nil, fmt.Errorf("%w: entry %s exceeds decompressed size limit", ErrMalformedArchive, f.Name)
	}
	return data, nil
}

// stripBOM removes a leading UTF-8 BOM, if present.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
