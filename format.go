package annotool

// Format selection and the codec contract.

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies an annotation interchange format.
type Format int

// The known label formats.
const (
	Unknown Format = iota // If an unknown format is specified.
	YOLO
	COCO
	PascalVOC
	Native
	KITTI
	TFRecord
)

var formatNames = map[Format]string{
	YOLO:      "yolo",
	COCO:      "coco",
	PascalVOC: "voc",
	Native:    "native",
	KITTI:     "kitti",
	TFRecord:  "tfrecord",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unknown"
}

// ParseFormat returns the format with the given name, or Unknown.
func ParseFormat(s string) Format {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "pascal-voc" {
		return PascalVOC
	}
	for f, name := range formatNames {
		if name == s {
			return f
		}
	}
	return Unknown
}

// ParseDirection parses a conversion direction of the form "<from>-to-<to>", e.g. "yolo-to-coco".
func ParseDirection(s string) (from, to Format, err error) {
	parts := strings.Split(s, "-to-")
	if len(parts) != 2 {
		return Unknown, Unknown, fmt.Errorf("invalid direction %q, expected <from>-to-<to>", s)
	}
	from, to = ParseFormat(parts[0]), ParseFormat(parts[1])
	if from == Unknown || to == Unknown {
		return Unknown, Unknown, fmt.Errorf("unknown format in direction %q", s)
	}
	return from, to, nil
}

// DetectFormat guesses the label format of the file or directory at path.
//
// JSON files are COCO if they have "annotations" or "categories" and native if they have
// "classes". In a directory, XML files mean Pascal VOC; otherwise the first non-empty line of the
// text files tells YOLO (5 fields) from KITTI (8 or more fields).
func DetectFormat(path string) (Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Unknown, fmt.Errorf("cannot detect the label format: %w", err)
	}
	if !info.IsDir() {
		return detectFileFormat(path)
	}

	if files, err := filesByExtInDir(path, ".xml"); err != nil {
		return Unknown, err
	} else if len(files) > 0 {
		return PascalVOC, nil
	}
	files, err := filesByExtInDir(path, ".txt")
	if err != nil {
		return Unknown, err
	}
	for _, name := range files {
		if name == YOLOClassFile {
			continue
		}
		lines, err := readLines(filepath.Join(path, name))
		if err != nil {
			return Unknown, err
		}
		for _, line := range lines {
			fields := strings.Fields(line)
			switch {
			case len(fields) == 0 || strings.HasPrefix(fields[0], "#"):
				continue
			case len(fields) == yoloFields:
				return YOLO, nil
			case len(fields) >= kittiMinFields:
				return KITTI, nil
			}
			return Unknown, fmt.Errorf("cannot detect the label format of %q", path)
		}
	}
	if len(files) > 0 {
		// Only empty label files, which YOLO allows for images without objects.
		return YOLO, nil
	}
	return Unknown, fmt.Errorf("no label files found in %q", path)
}

// detectFileFormat guesses the format of a single label file.
func detectFileFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".record", ".tfrecord":
		return TFRecord, nil
	case ".json":
	default:
		return Unknown, fmt.Errorf("cannot detect the label format of %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Unknown, fmt.Errorf("cannot read %q: %w", path, err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return Unknown, &FormatError{Path: path, Reason: err.Error()}
	}
	if _, ok := keys["annotations"]; ok {
		return COCO, nil
	}
	if _, ok := keys["categories"]; ok {
		return COCO, nil
	}
	if _, ok := keys["classes"]; ok {
		return Native, nil
	}
	return Unknown, fmt.Errorf("cannot detect the label format of %q", path)
}

// Decoder reads a dataset from a file or directory, depending on the format.
type Decoder interface {
	Decode(path string) (*Dataset, error)
}

// Encoder writes a dataset to a file or directory, depending on the format.
type Encoder interface {
	Encode(data *Dataset, path string) error
}

// Codec translates between a Dataset and one on-disk format. Codecs for a direction they do not
// support return an *UnsupportedOperationError.
//
// Per-image formats process images concurrently and report the images that failed in a
// *BatchError, returned together with the images that succeeded.
type Codec interface {
	Decoder
	Encoder
	Format() Format
}

// CodecOptions holds the collaborators a codec may need.
type CodecOptions struct {
	Classes      *ClassRegistry // Class names (YOLO, VOC, KITTI decode; VOC, KITTI, TFRecord encode).
	ImageDir     string         // The image directory, used to look up image sizes and data.
	Workers      int            // The number of concurrent per-image tasks, <= 0 for the default.
	NumShards    int            // TFRecord only: the number of shard files.
	LabelMapPath string         // TFRecord only: the label map output path.
}

// NewCodec returns the codec for format f.
func NewCodec(f Format, opts CodecOptions) (Codec, error) {
	switch f {
	case YOLO:
		return &YOLOCodec{opts: opts}, nil
	case COCO:
		return &COCOCodec{opts: opts}, nil
	case PascalVOC:
		return &VOCCodec{opts: opts}, nil
	case Native:
		return &NativeCodec{opts: opts}, nil
	case KITTI:
		return &KITTICodec{opts: opts}, nil
	case TFRecord:
		return &TFRecordCodec{opts: opts}, nil
	}
	return nil, fmt.Errorf("unsupported format %v", f)
}

// Convert decodes the dataset at in with src and encodes it to out with dst. The decoded Dataset
// is the only intermediate, so every pair of formats goes through the same canonical model.
//
// A *BatchError from decoding does not stop the conversion of the images that were decoded; it is
// returned after encoding.
func Convert(src Decoder, dst Encoder, in, out string) error {
	data, decodeErr := src.Decode(in)
	if data == nil {
		return decodeErr
	}
	log.Printf("Decoded %d images with %d annotations", len(data.Images), data.NumAnnotations())

	if err := dst.Encode(data, out); err != nil {
		return err
	}
	return decodeErr
}

// annotationFile returns the per-image annotation file name for the image file name, e.g.
// "img.txt" for "img.jpg".
func annotationFile(imageName, ext string) string {
	return baseNoExt(imageName) + ext
}

// absoluteCorner returns the i-th annotation box of r in AbsoluteCorner space.
func absoluteCorner(r ImageRecord, i int) (BoundingBox, error) {
	if b := r.Annotations[i].Box; b.Space == AbsoluteCorner {
		return b, nil
	}
	return r.box(i, AbsoluteCorner)
}
