package epub

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

const testOPFPath = "OEBPS/content.opf"

const testContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// buildArchive assembles an EPUB ZIP in memory. files maps
// archive-internal paths to raw content; container.xml is added unless
// the caller supplies one.
func buildArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, ok := files["META-INF/container.xml"]; !ok {
		writeEntry(t, zw, "META-INF/container.xml", []byte(testContainerXML))
	}
	for name, data := range files {
		writeEntry(t, zw, name, data)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	return buf.Bytes()
}

func writeEntry(t *testing.T, zw *zip.Writer, name string, data []byte) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("create zip entry %s: %v", name, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write zip entry %s: %v", name, err)
	}
}

// opfDoc wraps metadata/manifest/spine fragments into a package document.
func opfDoc(metadata, manifest, spine string) []byte {
	return []byte(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="2.0">
  <metadata>` + metadata + `</metadata>
  <manifest>` + manifest + `</manifest>
  <spine>` + spine + `</spine>
</package>`)
}

// testPNG returns a decodable PNG of the given solid color.
func testPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

// mustOpen opens an archive and fails the test on error.
func mustOpen(t *testing.T, data []byte) *Archive {
	t.Helper()
	a, err := Open(data)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return a
}
