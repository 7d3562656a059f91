package inference

import (
	"context"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// ImageSource turns an opaque photo reference into pixels.
type ImageSource interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// FileSource loads photos from the local filesystem, applying EXIF orientation.
type FileSource struct{}

func (FileSource) Load(ctx context.Context, ref string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(ref, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", facematch.ErrImageSource, ref, err)
	}
	return img, nil
}

// DecodeImage decodes an uploaded image, applying EXIF orientation.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", facematch.ErrImageSource, err)
	}
	return img, nil
}

// IsPhoto reports whether path has a supported photo extension.
func IsPhoto(path string) bool {
	return slices.Contains(constants.PhotoExtensions, strings.ToLower(filepath.Ext(path)))
}

// CollectPhotos expands files and directories (recursively) into a sorted list of photo paths.
// Explicitly named files are kept even if their extension is unknown.
func CollectPhotos(paths []string) ([]string, error) {
	var photos []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			photos = append(photos, p)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		var found []string
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsPhoto(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
		slices.Sort(found)
		for _, p := range found {
			add(p)
		}
	}
	return photos, nil
}
