package annotool

// Image header decoding, image indexing and image resizing.

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register the BMP decoder.
	_ "golang.org/x/image/tiff" // Register the TIFF decoder.
	_ "golang.org/x/image/webp" // Register the WebP decoder.
)

// imageExtensions are the file extensions treated as images when scanning directories.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".tif": true, ".tiff": true,
	".webp": true, ".gif": true,
}

// isImageFile reports whether name has a known image file extension.
func isImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// imageFilesInDir returns the sorted names of the image files in dir.
func imageFilesInDir(dir string) ([]string, error) {
	files, err := filesByExtInDir(dir, "")
	if err != nil {
		return nil, err
	}
	images := files[:0]
	for _, f := range files {
		if isImageFile(f) {
			images = append(images, f)
		}
	}
	return images, nil
}

// decodeImageConfig opens the file at path and returns the results of image.DecodeConfig.
func decodeImageConfig(path string) (config image.Config, format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return image.Config{}, "", err
	}
	defer file.Close()

	config, format, err = image.DecodeConfig(file)
	if err != nil {
		return image.Config{}, "", fmt.Errorf("cannot decode image header of %q: %w", path, err)
	}
	return config, format, nil
}

// ImageSize is the pixel size of an image.
type ImageSize struct {
	Width  int
	Height int
}

// ImageIndex maps image file names to their pixel size. It is the image dimension lookup used by
// Validate.
type ImageIndex map[string]ImageSize

// IndexImages reads the header of every image file in dir concurrently and indexes the sizes by
// file name. Images whose header cannot be decoded are left out and reported in a *BatchError,
// together with the index of the remaining images.
func IndexImages(ctx context.Context, dir string, workers int) (ImageIndex, error) {
	names, err := imageFilesInDir(dir)
	if err != nil {
		return nil, err
	}

	sizes := make([]ImageSize, len(names))
	errs := runTasks(ctx, len(names), workers, func(i int) error {
		config, _, err := decodeImageConfig(filepath.Join(dir, names[i]))
		if err != nil {
			return err
		}
		sizes[i] = ImageSize{Width: config.Width, Height: config.Height}
		return nil
	})

	index := make(ImageIndex, len(names))
	for i, name := range names {
		if errs[i] == nil {
			index[name] = sizes[i]
		}
	}
	log.Printf("Indexed %d images in %s", len(index), dir)

	return index, batchErr(collectItemErrors(errs, func(i int) string { return names[i] }))
}

// ParseResampleFilter returns the imaging filter with the given name
// {nearest, box, linear, gaussian, lanczos}.
func ParseResampleFilter(name string) (imaging.ResampleFilter, error) {
	switch name {
	case "nearest":
		return imaging.NearestNeighbor, nil
	case "box":
		return imaging.Box, nil
	case "linear":
		return imaging.Linear, nil
	case "gaussian":
		return imaging.Gaussian, nil
	case "lanczos":
		return imaging.Lanczos, nil
	}
	return imaging.ResampleFilter{}, fmt.Errorf("unknown resampling filter %q", name)
}

// ResizeOptions configures ResizeImages.
type ResizeOptions struct {
	Width      int  // Target width.
	Height     int  // Target height.
	KeepAspect bool // Fit into Width x Height keeping the aspect ratio, never upscaling.

	Downsample  imaging.ResampleFilter
	Upsample    imaging.ResampleFilter
	Encoding    string // "jpg", "png", "webp", or empty to keep the input encoding.
	JPEGQuality int    // [1, 100], also used as the lossy WebP quality.
	Workers     int
}

// outputExt returns the output file extension for an input file name.
func (o ResizeOptions) outputExt(name string) (string, error) {
	switch strings.ToLower(o.Encoding) {
	case "":
		return filepath.Ext(name), nil
	case "jpg", "jpeg":
		return ".jpg", nil
	case "png":
		return ".png", nil
	case "webp":
		return ".webp", nil
	}
	return "", fmt.Errorf("unsupported output encoding %q", o.Encoding)
}

// ResizeImages resizes the image of every record in data from inDir and writes it to outDir. The
// records are updated in place: new file name and size, and absolute boxes rescaled to match.
//
// Images that fail are reported in a *BatchError and their records are left unchanged.
func ResizeImages(ctx context.Context, data *Dataset, inDir, outDir string,
	opts ResizeOptions) error {

	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", opts.Width, opts.Height)
	}
	if _, err := opts.outputExt(""); err != nil {
		return err
	}
	if filepath.Clean(inDir) == filepath.Clean(outDir) {
		return fmt.Errorf("the image input and output directories cannot be identical")
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", outDir, err)
	}
	log.Printf("Resizing %d images to %dx%d", len(data.Images), opts.Width, opts.Height)

	outName := func(i int) string {
		name := data.Images[i].Filename
		ext, _ := opts.outputExt(name)
		return baseNoExt(name) + ext
	}
	conflicts := conflictingOutputs(len(data.Images), outName)

	errs := runTasks(ctx, len(data.Images), opts.Workers, func(i int) error {
		if err := conflicts[i]; err != nil {
			return err
		}
		return resizeRecord(&data.Images[i], inDir, filepath.Join(outDir, outName(i)), opts)
	})

	return batchErr(collectItemErrors(errs, func(i int) string { return data.Images[i].Filename }))
}

// resizeRecord resizes the image of r and writes it to outPath, updating r on success.
func resizeRecord(r *ImageRecord, inDir, outPath string, opts ResizeOptions) error {
	img, err := imaging.Open(filepath.Join(inDir, r.Filename))
	if err != nil {
		return err
	}

	b := img.Bounds()
	width, height := opts.Width, opts.Height
	if opts.KeepAspect {
		width, height = fitSize(b.Dx(), b.Dy(), opts.Width, opts.Height)
	}

	// Select the filter based on the direction of the rescaling operation.
	filter := opts.Upsample
	if width*height < b.Dx()*b.Dy() {
		filter = opts.Downsample
	}
	resized := img
	if width != b.Dx() || height != b.Dy() {
		resized = imaging.Resize(img, width, height, filter)
	}

	if err := saveImage(outPath, resized, opts.JPEGQuality); err != nil {
		return fmt.Errorf("cannot save %q: %w", outPath, err)
	}

	sx := float64(width) / float64(b.Dx())
	sy := float64(height) / float64(b.Dy())
	r.scale(sx, sy, width, height)
	r.Filename = filepath.Base(outPath)

	return nil
}

// fitSize returns the largest size with the aspect ratio of w x h that fits into maxW x maxH,
// without upscaling.
func fitSize(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	fw := int(math.Max(1, math.Round(float64(w)*scale)))
	fh := int(math.Max(1, math.Round(float64(h)*scale)))
	return fw, fh
}

// saveImage saves img to path, encoding it as PNG, WebP or JPEG depending on the file extension
// of path.
func saveImage(path string, img image.Image, quality int) (err error) {
	if quality < 1 || quality > 100 {
		quality = 90
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".webp":
		f, createErr := os.Create(path)
		if createErr != nil {
			return createErr
		}
		defer closeWithErrCheck(f, &err)
		return webp.Encode(f, img, &webp.Options{Quality: float32(quality)})
	case ".png":
		return imaging.Save(img, path)
	default:
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// DatasetFromIndex returns a dataset with one unannotated record per indexed image, sorted by
// file name.
func DatasetFromIndex(index ImageIndex, classes *ClassRegistry) *Dataset {
	names := make([]string, 0, len(index))
	for name := range index {
		names = append(names, name)
	}
	sort.Strings(names)

	data := NewDataset(classes)
	data.Images = make([]ImageRecord, len(names))
	for i, name := range names {
		size := index[name]
		data.Images[i] = ImageRecord{Filename: name, Width: size.Width, Height: size.Height}
	}
	return data
}
