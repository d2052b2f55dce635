package epub

import (
	"errors"
	"testing"
)

func TestOpenRejectsNonZip(t *testing.T) {
	_, err := Open([]byte("this is not a zip archive"))
	if !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("Open(non-zip) = %v, want ErrMalformedArchive", err)
	}
}

func TestOpenRejectsZipWithoutPackageDocument(t *testing.T) {
	data := buildArchive(t, map[string][]byte{
		"META-INF/container.xml": []byte("<container/>"),
		"mimetype":               []byte("application/epub+zip"),
	})
	_, err := Open(data)
	if !errors.Is(err, ErrMalformedArchive) {
		t.Fatalf("Open(no opf) = %v, want ErrMalformedArchive", err)
	}
}

func TestOpenLocatesOPFViaContainer(t *testing.T) {
	data := buildArchive(t, map[string][]byte{
		testOPFPath: opfDoc(`<dc:title>Container Route</dc:title>`, ``, ``),
	})
	a := mustOpen(t, data)
	if a.OPFPath() != testOPFPath {
		t.Fatalf("OPFPath = %q, want %q", a.OPFPath(), testOPFPath)
	}
}

func TestOpenFallsBackToOPFScan(t *testing.T) {
	// No container.xml at all; the .opf scan must still find the package.
	data := buildArchive(t, map[string][]byte{
		"META-INF/container.xml": []byte("<not-valid-container"),
		"inner/book.opf":         opfDoc(`<dc:title>Scanned</dc:title>`, ``, ``),
	})
	a := mustOpen(t, data)
	if a.OPFPath() != "inner/book.opf" {
		t.Fatalf("OPFPath = %q, want inner/book.opf", a.OPFPath())
	}
	if got := a.Metadata().Title; got != "Scanned" {
		t.Fatalf("Title = %q", got)
	}
}

func TestReadEntryMissing(t *testing.T) {
	a := mustOpen(t, buildArchive(t, map[string][]byte{
		testOPFPath: opfDoc(``, ``, ``),
	}))
	_, err := a.ReadEntry("OEBPS/absent.xhtml")
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("ReadEntry(missing) = %v, want ErrEntryNotFound", err)
	}
}

func TestReadEntryCaseInsensitiveFallback(t *testing.T) {
	a := mustOpen(t, buildArchive(t, map[string][]byte{
		testOPFPath:       opfDoc(``, ``, ``),
		"OEBPS/Ch01.html": []byte("<p>hi</p>"),
	}))
	data, err := a.ReadEntry("OEBPS/ch01.html")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(data) != "<p>hi</p>" {
		t.Fatalf("unexpected entry content: %q", data)
	}
}

func TestResolveHref(t *testing.T) {
	a := mustOpen(t, buildArchive(t, map[string][]byte{
		testOPFPath: opfDoc(``, ``, ``),
	}))

	tests := []struct {
		href string
		want string
	}{
		{"chapter1.xhtml", "OEBPS/chapter1.xhtml"},
		{"images/cover.jpg", "OEBPS/images/cover.jpg"},
		{"chapter1.xhtml#part2", "OEBPS/chapter1.xhtml"},
		{"image%20one.png", "OEBPS/image one.png"},
		{"../root.xhtml", "root.xhtml"},
		{"../../escape.xhtml", ""},
		{"/absolute.xhtml", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := a.ResolveHref(tt.href); got != tt.want {
			t.Errorf("ResolveHref(%q) = %q, want %q", tt.href, got, tt.want)
		}
	}
}

func TestListEntries(t *testing.T) {
	a := mustOpen(t, buildArchive(t, map[string][]byte{
		testOPFPath:     opfDoc(``, ``, ``),
		"OEBPS/a.xhtml": []byte("a"),
	}))
	entries := a.ListEntries()
	found := map[string]bool{}
	for _, e := range entries {
		found[e] = true
	}
	if !found[testOPFPath] || !found["OEBPS/a.xhtml"] || !found["META-INF/container.xml"] {
		t.Fatalf("ListEntries missing expected paths: %v", entries)
	}
}
