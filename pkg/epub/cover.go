package epub

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"strings"

	// Cover sources in the wild are JPEG, PNG or GIF.
	_ "image/gif"
	_ "image/png"
)

// CoverStrategy names one way of locating a cover image. Strategies are
// tried in the fixed order of CoverStrategies; first success wins.
type CoverStrategy string

const (
	// CoverByMetaRef resolves the manifest item referenced by
	// <meta name="cover" content="item-id"/> (ePub 2) or flagged with
	// properties="cover-image" (ePub 3).
	CoverByMetaRef CoverStrategy = "meta-ref"
	// CoverByNameHeuristic picks an image item whose id or href contains
	// "cover", case-insensitively.
	CoverByNameHeuristic CoverStrategy = "name-heuristic"
	// CoverFirstImage picks the first image item in the manifest.
	CoverFirstImage CoverStrategy = "first-image"
	// CoverPlaceholder is the terminal fallback: a generated image.
	CoverPlaceholder CoverStrategy = "placeholder"
)

// CoverStrategies is the resolution order. Tests pin this order; do not
// reorder without revisiting ingestion determinism.
var CoverStrategies = []CoverStrategy{
	CoverByMetaRef,
	CoverByNameHeuristic,
	CoverFirstImage,
	CoverPlaceholder,
}

// Cover is a resolved cover image, always JPEG-encoded.
type Cover struct {
	JPEG     []byte
	Strategy CoverStrategy
}

// Cover resolves the book's cover image by trying each strategy in
// order. Decode or read failures on a candidate move on to the next
// strategy, so this never fails: the worst case is the deterministic
// placeholder.
func (a *Archive) Cover() Cover {
	for _, strategy := range CoverStrategies {
		var item opfManifestItem
		var ok bool
		switch strategy {
		case CoverByMetaRef:
			item, ok = a.coverByMetaRef()
		case CoverByNameHeuristic:
			item, ok = a.coverByNameHeuristic()
		case CoverFirstImage:
			item, ok = a.coverFirstImage()
		case CoverPlaceholder:
			return Cover{JPEG: PlaceholderJPEG(), Strategy: CoverPlaceholder}
		}
		if !ok {
			continue
		}
		data, err := a.ReadEntry(a.ResolveHref(item.Href))
		if err != nil {
			continue
		}
		encoded, err := toJPEG(data)
		if err != nil {
			continue
		}
		return Cover{JPEG: encoded, Strategy: strategy}
	}
	return Cover{JPEG: PlaceholderJPEG(), Strategy: CoverPlaceholder}
}

// coverByMetaRef handles the explicit cover declarations: the ePub 3
// cover-image manifest property and the ePub 2 meta pointer.
func (a *Archive) coverByMetaRef() (opfManifestItem, bool) {
	for _, item := range a.opf.Manifest.Items {
		for _, prop := range strings.Fields(item.Properties) {
			if strings.EqualFold(prop, "cover-image") {
				return item, true
			}
		}
	}
	for _, m := range a.opf.Metadata.Metas {
		if !strings.EqualFold(m.Name, "cover") || m.Content == "" {
			continue
		}
		if item, ok := a.manifestItemByID(m.Content); ok && isImageMediaType(item.MediaType) {
			return item, true
		}
	}
	return opfManifestItem{}, false
}

func (a *Archive) coverByNameHeuristic() (opfManifestItem, bool) {
	for _, item := range a.opf.Manifest.Items {
		if !isImageMediaType(item.MediaType) {
			continue
		}
		if containsFold(item.ID, "cover") || containsFold(item.Href, "cover") {
			return item, true
		}
	}
	return opfManifestItem{}, false
}

func (a *Archive) coverFirstImage() (opfManifestItem, bool) {
	for _, item := range a.opf.Manifest.Items {
		if isImageMediaType(item.MediaType) {
			return item, true
		}
	}
	return opfManifestItem{}, false
}

// toJPEG decodes image data (JPEG/PNG/GIF) and re-encodes it as an RGB
// JPEG, the canonical stored form.
func toJPEG(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode cover image: %w", err)
	}
	rgb := image.NewRGBA(src.Bounds())
	draw.Draw(rgb, rgb.Bounds(), src, src.Bounds().Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode cover jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// PlaceholderJPEG returns the deterministic fallback cover: a solid
// 100x150 fill of RGB(73, 109, 137), encoded as JPEG. Two calls always
// return identical bytes.
func PlaceholderJPEG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 100, 150))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 73, G: 109, B: 137, A: 255}}, image.Point{}, draw.Src)
	var buf bytes.Buffer
	// Encoding a uniform RGBA image cannot fail.
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	return buf.Bytes()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
