package annotool

// KITTI specific functionality.

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// kittiMinFields is the number of fields up to and including the 2D bounding box.
const kittiMinFields = 8

// KITTICodec reads and writes one KITTI object label file per image. Labels are class names,
// resolved through CodecOptions.Classes; boxes are absolute corners (fields 4..7). The optional
// score (field 15) is not kept.
type KITTICodec struct {
	opts CodecOptions
}

// Format implements Codec.
func (c *KITTICodec) Format() Format { return KITTI }

// Decode reads the KITTI annotations from labelDir and matches them to the images in
// CodecOptions.ImageDir (next to the labels if empty), with identical base name except for the
// file extension. Label files without an image keep their own name and an unknown size.
func (c *KITTICodec) Decode(labelDir string) (*Dataset, error) {
	if c.opts.Classes == nil {
		return nil, fmt.Errorf("decoding KITTI requires a class list")
	}
	imageDir := c.opts.ImageDir
	if imageDir == "" {
		imageDir = labelDir
	}

	labelFiles, err := filesByExtInDir(labelDir, ".txt")
	if err != nil {
		return nil, err
	}
	// Find the image files and create a map from base file name without ext to file name.
	imageFiles, err := imageFilesInDir(imageDir)
	if err != nil {
		return nil, err
	}
	imageNames := mapFileNamesToNames(imageFiles)
	log.Printf("Parsing KITTI labels for %d files", len(labelFiles))

	records := make([]ImageRecord, len(labelFiles))
	errs := runTasks(context.Background(), len(labelFiles), c.opts.Workers, func(i int) error {
		path := filepath.Join(labelDir, labelFiles[i])
		r := ImageRecord{Filename: labelFiles[i]}
		if name, found := imageNames[baseNoExt(path)]; found {
			config, _, err := decodeImageConfig(filepath.Join(imageDir, name))
			if err != nil {
				return err
			}
			r = ImageRecord{Filename: name, Width: config.Width, Height: config.Height}
		}

		annotations, err := c.parseFile(path)
		if err != nil {
			return err
		}
		r.Annotations = annotations
		records[i] = r
		return nil
	})

	data := NewDataset(c.opts.Classes)
	for i, r := range records {
		if errs[i] == nil {
			data.Images = append(data.Images, r)
		}
	}
	return data, batchErr(collectItemErrors(errs, func(i int) string { return labelFiles[i] }))
}

// parseFile parses all annotation lines of the KITTI file at path.
func (c *KITTICodec) parseFile(path string) ([]Annotation, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	annotations := make([]Annotation, 0, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		label, coords, err := parseKittiLine(line)
		if err != nil {
			err.Path, err.Line = path, i+1
			return nil, err
		}
		id, ok := c.opts.Classes.ID(label)
		if !ok {
			return nil, &FormatError{Path: path, Line: i + 1, Key: "type", Value: label,
				Reason: "class name not in the class list"}
		}
		annotations = append(annotations, Annotation{
			ClassID: id,
			Box:     BoxFromCorners(coords[0], coords[1], coords[2], coords[3]),
		})
	}

	return annotations, nil
}

// parseKittiLine parses the line of values for a single annotation.
func parseKittiLine(line string) (string, [4]float64, *FormatError) {
	var coords [4]float64
	tokens := strings.Fields(line)
	if len(tokens) < kittiMinFields {
		return "", coords, &FormatError{Value: line, Reason: "insufficient tokens"}
	}

	for i := 4; i < kittiMinFields; i++ {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return "", coords, &FormatError{Key: fmt.Sprintf("field %d", i), Value: tokens[i],
				Reason: "not a number"}
		}
		coords[i-4] = v
	}

	return tokens[0], coords, nil
}

// Encode writes one label file per image to labelDir, using the image file name with .txt
// extension as label file name.
func (c *KITTICodec) Encode(data *Dataset, labelDir string) error {
	classes := data.Classes
	if classes.Len() == 0 {
		classes = c.opts.Classes
	}
	if err := os.MkdirAll(labelDir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", labelDir, err)
	}

	labelPath := func(i int) string {
		return filepath.Join(labelDir, annotationFile(data.Images[i].Filename, ".txt"))
	}
	conflicts := conflictingOutputs(len(data.Images), labelPath)

	errs := runTasks(context.Background(), len(data.Images), c.opts.Workers, func(i int) error {
		if err := conflicts[i]; err != nil {
			return err
		}
		return encodeKittiFile(labelPath(i), data.Images[i], classes)
	})

	return batchErr(collectItemErrors(errs, func(i int) string { return data.Images[i].Filename }))
}

// encodeKittiFile writes the annotations of r to path.
func encodeKittiFile(path string, r ImageRecord, classes *ClassRegistry) error {
	lines := make([]string, len(r.Annotations))
	for i, a := range r.Annotations {
		name, ok := classes.Resolve(a.ClassID)
		if !ok {
			return &FormatError{Path: path, Key: fmt.Sprintf("annotation %d", i),
				Value: strconv.Itoa(a.ClassID), Reason: "class id has no name"}
		}
		if strings.ContainsAny(name, " \t") {
			return &FormatError{Path: path, Key: fmt.Sprintf("annotation %d", i), Value: name,
				Reason: "KITTI class names cannot contain whitespace"}
		}
		b, err := absoluteCorner(r, i)
		if err != nil {
			return err
		}
		c := b.Corners()
		lines[i] = fmt.Sprintf("%s 0.0 0 0.0 %.2f %.2f %.2f %.2f 0.0 0.0 0.0 0.0 0.0 0.0 0.0\n",
			name, c[0], c[1], c[2], c[3])
	}

	return writeFileAtomic(path, func(w io.Writer) error {
		for _, line := range lines {
			if _, err := io.WriteString(w, line); err != nil {
				return err
			}
		}
		return nil
	})
}
