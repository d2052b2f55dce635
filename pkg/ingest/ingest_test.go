package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"shelfchat/pkg/ai"
	"shelfchat/pkg/covers"
	"shelfchat/pkg/domain"
	"shelfchat/pkg/epub"
	"shelfchat/pkg/store"
)

const testContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// buildEPUB assembles a minimal EPUB with the given metadata fragment
// and chapter texts.
func buildEPUB(t *testing.T, metadata string, chapters ...string) []byte {
	t.Helper()
	var manifest, spine strings.Builder
	files := map[string]string{"META-INF/container.xml": testContainerXML}
	for i, chapter := range chapters {
		name := string(rune('a'+i)) + ".xhtml"
		manifest.WriteString(`<item id="c` + name + `" href="` + name + `" media-type="application/xhtml+xml"/>`)
		spine.WriteString(`<itemref idref="c` + name + `"/>`)
		files["OEBPS/"+name] = `<html><body><p>` + chapter + `</p></body></html>`
	}
	files["OEBPS/content.opf"] = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="2.0">
  <metadata>` + metadata + `</metadata>
  <manifest>` + manifest.String() + `</manifest>
  <spine>` + spine.String() + `</spine>
</package>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create zip entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write zip entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T) (*Pipeline, *store.MemoryStore, *covers.FileStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	coverStore, err := covers.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	p, err := New(Config{
		Store:    memStore,
		Covers:   coverStore,
		Embedder: ai.NewHashEmbedder(64),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, memStore, coverStore
}

func TestIngestSuccess(t *testing.T) {
	p, memStore, coverStore := newTestPipeline(t)
	data := buildEPUB(t,
		`<dc:title>The Voyage</dc:title><dc:creator>A. Mariner</dc:creator>`,
		"The ship left at dawn.", "The storm came at night.")

	res, err := p.Ingest(context.Background(), data, "u1", "b1", "voyage.epub")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Title != "The Voyage" || res.Creator != "A. Mariner" {
		t.Fatalf("result metadata = %+v", res)
	}
	if res.ChunkCount < 1 {
		t.Fatalf("ChunkCount = %d, want >= 1", res.ChunkCount)
	}

	book, ok, err := memStore.GetBookForUser("b1", "u1")
	if err != nil || !ok {
		t.Fatalf("GetBookForUser: ok=%v err=%v", ok, err)
	}
	if book.Status != domain.StatusReady {
		t.Fatalf("book status = %s, want ready", book.Status)
	}
	if book.CoverURL != "/covers/b1.jpg" {
		t.Fatalf("CoverURL = %q", book.CoverURL)
	}
	if book.ChunkCount != res.ChunkCount {
		t.Fatalf("book.ChunkCount = %d, result %d", book.ChunkCount, res.ChunkCount)
	}

	chunks, err := memStore.ListChunksByBook("u1", "b1")
	if err != nil {
		t.Fatalf("ListChunksByBook: %v", err)
	}
	if len(chunks) != res.ChunkCount {
		t.Fatalf("stored %d chunks, result says %d", len(chunks), res.ChunkCount)
	}
	for i, chunk := range chunks {
		if chunk.ID != domain.ChunkID("u1", "b1", i) {
			t.Fatalf("chunk %d id = %q", i, chunk.ID)
		}
		if chunk.Type != domain.RecordBookChunk {
			t.Fatalf("chunk %d type = %s", i, chunk.Type)
		}
		if chunk.Metadata["title"] != "The Voyage" {
			t.Fatalf("chunk %d metadata = %+v", i, chunk.Metadata)
		}
		if len(chunk.Embedding) != 64 {
			t.Fatalf("chunk %d embedding width = %d", i, len(chunk.Embedding))
		}
	}

	if _, err := os.Stat(coverStore.Path("b1")); err != nil {
		t.Fatalf("cover file missing: %v", err)
	}
}

func TestIngestDefaultsMissingMetadata(t *testing.T) {
	p, memStore, _ := newTestPipeline(t)
	data := buildEPUB(t, ``, "Some text with no metadata at all.")

	res, err := p.Ingest(context.Background(), data, "u1", "b1", "bare.epub")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Title != epub.DefaultTitle || res.Creator != epub.DefaultCreator {
		t.Fatalf("defaults not applied: %+v", res)
	}
	book, _, _ := memStore.GetBookForUser("b1", "u1")
	if book.Language != epub.DefaultLanguage || book.Description != epub.DefaultDescription {
		t.Fatalf("book defaults not applied: %+v", book)
	}
}

func TestIngestIdempotent(t *testing.T) {
	p, memStore, _ := newTestPipeline(t)
	data := buildEPUB(t, `<dc:title>Twice</dc:title>`, "Identical content both times.")

	first, err := p.Ingest(context.Background(), data, "u1", "b1", "twice.epub")
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	second, err := p.Ingest(context.Background(), data, "u1", "b1", "twice.epub")
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if first.ChunkCount != second.ChunkCount {
		t.Fatalf("chunk counts differ: %d then %d", first.ChunkCount, second.ChunkCount)
	}

	chunks, _ := memStore.ListChunksByBook("u1", "b1")
	if len(chunks) != first.ChunkCount {
		t.Fatalf("stored %d chunks after re-ingest, want %d", len(chunks), first.ChunkCount)
	}
	seen := make(map[string]bool)
	for _, chunk := range chunks {
		if seen[chunk.ID] {
			t.Fatalf("duplicate chunk id %s", chunk.ID)
		}
		seen[chunk.ID] = true
	}
}

func TestIngestShrinkingReplaceDropsStaleTail(t *testing.T) {
	p, memStore, _ := newTestPipeline(t)
	long := strings.Repeat("Plenty of sentences to fill several chunks. ", 200)
	big := buildEPUB(t, ``, long)
	small := buildEPUB(t, ``, "Just one tiny paragraph now.")

	bigRes, err := p.Ingest(context.Background(), big, "u1", "b1", "book.epub")
	if err != nil {
		t.Fatalf("Ingest big: %v", err)
	}
	if bigRes.ChunkCount < 2 {
		t.Fatalf("big ingest made %d chunks, want several", bigRes.ChunkCount)
	}

	smallRes, err := p.Ingest(context.Background(), small, "u1", "b1", "book.epub")
	if err != nil {
		t.Fatalf("Ingest small: %v", err)
	}
	chunks, _ := memStore.ListChunksByBook("u1", "b1")
	if len(chunks) != smallRes.ChunkCount {
		t.Fatalf("%d chunks remain, want %d; stale tail not removed", len(chunks), smallRes.ChunkCount)
	}
}

func TestIngestMalformedArchive(t *testing.T) {
	p, memStore, _ := newTestPipeline(t)

	_, err := p.Ingest(context.Background(), []byte("not a zip"), "u1", "b1", "broken.epub")
	if !errors.Is(err, epub.ErrMalformedArchive) {
		t.Fatalf("err = %v, want ErrMalformedArchive", err)
	}
	var ingestErr *Error
	if !errors.As(err, &ingestErr) || ingestErr.Filename != "broken.epub" {
		t.Fatalf("error does not carry the filename: %v", err)
	}

	book, ok, _ := memStore.GetBookForUser("b1", "u1")
	if !ok {
		t.Fatal("failed book record missing")
	}
	if book.Status != domain.StatusFailed || book.ErrorMessage == "" {
		t.Fatalf("book = %+v, want failed with message", book)
	}
}

func TestIngestNoContent(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	data := buildEPUB(t, `<dc:title>Empty</dc:title>`)

	if _, err := p.Ingest(context.Background(), data, "u1", "b1", "empty.epub"); !errors.Is(err, epub.ErrNoContent) {
		t.Fatalf("err = %v, want ErrNoContent", err)
	}
}

func TestIngestPlaceholderCover(t *testing.T) {
	p, _, coverStore := newTestPipeline(t)
	data := buildEPUB(t, ``, "A book with no images whatsoever.")

	if _, err := p.Ingest(context.Background(), data, "u1", "b1", "plain.epub"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	saved, err := os.ReadFile(coverStore.Path("b1"))
	if err != nil {
		t.Fatalf("read cover: %v", err)
	}
	if !bytes.Equal(saved, epub.PlaceholderJPEG()) {
		t.Fatal("cover is not the deterministic placeholder")
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := newKeyedMutex()
	km.Lock("b1")

	entered := make(chan struct{})
	go func() {
		km.Lock("b1")
		close(entered)
		km.Unlock("b1")
	}()

	select {
	case <-entered:
		t.Fatal("second lock of the same key was not blocked")
	default:
	}

	// A different key does not contend.
	km.Lock("b2")
	km.Unlock("b2")

	km.Unlock("b1")
	<-entered
}
