package imaging

import (
	"fmt"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI is the rendering resolution used for PDF pages when none is given.
const DefaultDPI = 150

// PageName returns the frame name of a PDF page (page is 1-based).
func PageName(path string, page int) string {
	return fmt.Sprintf("%s#p%d", filepath.Base(path), page)
}

// LoadPDF rasterizes the pages of a PDF at dpi and converts them to
// grayscale frames. limit > 0 stops after that many pages.
//
// A page that fails to render aborts the whole document, so a damaged PDF
// is skipped as a unit by LoadDir.
func LoadPDF(path string, dpi float64, limit int) ([]Frame, error) {
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}
	if limit > 0 && limit < n {
		n = limit
	}

	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		frames = append(frames, Frame{
			Name:   PageName(path, i+1),
			Path:   path,
			Page:   i + 1,
			Pixels: ToGray(img),
		})
	}

	return frames, nil
}
