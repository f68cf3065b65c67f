package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	"golang.org/x/image/draw"
)

// imageExtensions are the raster formats LoadGray accepts, keyed by
// lower-case extension.
var imageExtensions = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".gif":  "gif",
	".bmp":  "bmp",
	".tif":  "tiff",
	".tiff": "tiff",
}

// Format returns the format name for a path's extension: one of the raster
// formats, "pdf", or "unknown".
func Format(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return "pdf"
	}
	if f, ok := imageExtensions[ext]; ok {
		return f
	}
	return "unknown"
}

// ImageCache provides thread-safe caching of grayscale images keyed by path.
//
// Once an image is loaded, subsequent Load() calls for the same path return the
// cached copy without disk I/O. Cached images are shared and must be treated as
// read-only by every caller.
//
// ImageCache is safe for concurrent use by multiple goroutines.
//
// # Memory Management
//
// Cached images remain in memory until explicitly removed via Evict().
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]*image.Gray
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]*image.Gray),
	}
}

// Load retrieves an image from the cache or loads it from disk with LoadGray.
//
// The image is cached using the exact path string provided. Different paths to the
// same file (e.g., relative vs absolute) will result in separate cache entries.
func (c *ImageCache) Load(path string) (*image.Gray, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	img, err := LoadGray(path)
	if err != nil {
		return nil, err
	}

	c.Put(path, img)
	return img, nil
}

// Put stores an already decoded image under key, replacing any previous entry.
func (c *ImageCache) Put(key string, img *image.Gray) {
	c.mu.Lock()
	c.images[key] = img
	c.mu.Unlock()
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Evict removes a specific image from the cache by its path.
//
// If the path is not in the cache, this method does nothing.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// LoadGray decodes a raster image file and converts it to 8-bit grayscale.
//
// EXIF orientation is applied so that phone photos of marker boards come out
// upright. Supported formats are PNG, JPEG, GIF, BMP and TIFF.
//
// # Errors
//
//   - Returns error if the file does not exist or cannot be read
//   - Returns error if the file is not a supported image
func LoadGray(path string) (*image.Gray, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return ToGray(img), nil
}

// ToGray returns img as an *image.Gray whose bounds start at the origin.
//
// A *image.Gray already anchored at (0,0) is returned as is; anything else is
// copied.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}

	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Frame is one grayscale image produced by LoadDir. Raster files give one
// frame each; PDF files give one frame per page.
type Frame struct {
	// Name identifies the frame: the file name, or "file.pdf#pN" for page N
	// (1-based) of a PDF.
	Name string `json:"name"`

	// Path is the source file.
	Path string `json:"path"`

	// Page is the 1-based PDF page, 0 for raster files.
	Page int `json:"page,omitempty"`

	// Pixels is the decoded image.
	Pixels *image.Gray `json:"-"`
}

// Skipped records a directory entry that did not produce a frame.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// LoadResult is the outcome of LoadDir.
type LoadResult struct {
	Frames  []Frame   `json:"frames"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// LoadDir loads up to maxFiles frames from the regular files in dir, in file
// name order. maxFiles <= 0 means no limit. PDF pages are rendered at dpi.
//
// Files that cannot be decoded are recorded in Skipped and never count toward
// maxFiles. Only a failure to list dir is returned as an error.
func LoadDir(dir string, maxFiles int, dpi float64) (*LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	result := &LoadResult{}
	full := func() bool {
		return maxFiles > 0 && len(result.Frames) >= maxFiles
	}

	for _, entry := range entries {
		if full() {
			break
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		switch Format(path) {
		case "unknown":
			result.Skipped = append(result.Skipped, Skipped{Path: path, Reason: "unsupported format"})

		case "pdf":
			remaining := 0
			if maxFiles > 0 {
				remaining = maxFiles - len(result.Frames)
			}
			frames, err := LoadPDF(path, dpi, remaining)
			if err != nil {
				result.Skipped = append(result.Skipped, Skipped{Path: path, Reason: err.Error()})
				continue
			}
			result.Frames = append(result.Frames, frames...)

		default:
			img, err := LoadGray(path)
			if err != nil {
				result.Skipped = append(result.Skipped, Skipped{Path: path, Reason: err.Error()})
				continue
			}
			result.Frames = append(result.Frames, Frame{Name: entry.Name(), Path: path, Pixels: img})
		}
	}

	return result, nil
}

// ImageInfo contains metadata about a loaded image file.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the format detected from the file extension.
	Format string `json:"format"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads an image into the cache (if not already cached) and
// returns its dimensions, format and file size.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        Format(path),
		FileSizeBytes: stat.Size(),
	}, nil
}
