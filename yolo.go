package annotool

// YOLO specific functionality.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// YOLOClassFile is the name of the class list kept in a YOLO label directory. It is not an
// annotation file.
const YOLOClassFile = "classes.txt"

// yoloFields is the number of fields on a YOLO annotation line.
const yoloFields = 5

// YOLOCodec reads and writes one "<class> <cx> <cy> <w> <h>" text file per image, with normalized
// center coordinates. The path is the label directory; images are looked up in
// CodecOptions.ImageDir, or next to the labels if that is empty.
type YOLOCodec struct {
	opts CodecOptions
}

// Format implements Codec.
func (c *YOLOCodec) Format() Format { return YOLO }

// Decode reads all label files in labelDir and matches them by base name to the images.
//
// Every image becomes a record, with zero annotations if it has no label file. A label file
// without an image becomes a record named after the label file, with unknown size and its boxes
// left in NormalizedCenter space.
func (c *YOLOCodec) Decode(labelDir string) (*Dataset, error) {
	imageDir := c.opts.ImageDir
	if imageDir == "" {
		imageDir = labelDir
	}

	classes := c.opts.Classes
	if classes == nil {
		classes = readYOLOClassFile(filepath.Join(labelDir, YOLOClassFile))
	}

	labelFiles, err := filesByExtInDir(labelDir, ".txt")
	if err != nil {
		return nil, err
	}
	imageFiles, err := imageFilesInDir(imageDir)
	if err != nil {
		return nil, err
	}

	// One task per image, then one per orphaned label file.
	type task struct{ image, label string }
	tasks := make([]task, 0, len(imageFiles))
	labelled := make(map[string]bool, len(imageFiles))
	for _, name := range imageFiles {
		tasks = append(tasks, task{image: name})
		labelled[annotationFile(name, ".txt")] = true
	}
	for _, name := range labelFiles {
		if name != YOLOClassFile && !labelled[name] {
			tasks = append(tasks, task{label: name})
		}
	}
	log.Printf("Parsing YOLO labels for %d images and %d label files", len(imageFiles),
		len(labelFiles))

	records := make([]ImageRecord, len(tasks))
	errs := runTasks(context.Background(), len(tasks), c.opts.Workers, func(i int) error {
		t := tasks[i]
		if t.image == "" {
			r, err := decodeYOLOFile(filepath.Join(labelDir, t.label), t.label, 0, 0)
			records[i] = r
			return err
		}

		config, _, err := decodeImageConfig(filepath.Join(imageDir, t.image))
		if err != nil {
			return err
		}
		labelPath := filepath.Join(labelDir, annotationFile(t.image, ".txt"))
		r, err := decodeYOLOFile(labelPath, t.image, config.Width, config.Height)
		if errors.Is(err, fs.ErrNotExist) {
			// No label file means no annotations.
			r, err = ImageRecord{Filename: t.image, Width: config.Width, Height: config.Height}, nil
		}
		records[i] = r
		return err
	})

	data := NewDataset(classes)
	for i, r := range records {
		if errs[i] == nil {
			data.Images = append(data.Images, r)
		}
	}
	return data, batchErr(collectItemErrors(errs, func(i int) string {
		if tasks[i].image != "" {
			return tasks[i].image
		}
		return tasks[i].label
	}))
}

// readYOLOClassFile reads the class list of a YOLO label directory, either in class-list format
// or with one name per line, numbered from 0. A missing or unusable list yields an empty registry.
func readYOLOClassFile(path string) *ClassRegistry {
	lines, err := readLines(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Print("Ignoring the class list: ", err)
		}
		return NewClassRegistry()
	}

	classes, err := parseClassLines(path, lines)
	if err == nil {
		return classes
	}
	var names []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			names = append(names, line)
		}
	}
	if classes, namesErr := ClassesFromNames(names); namesErr == nil {
		return classes
	}
	log.Print("Ignoring the class list: ", err)
	return NewClassRegistry()
}

// writeYOLOClassFile writes one name per line if the class ids are 0..n-1, and the class-list
// format otherwise.
func writeYOLOClassFile(path string, classes *ClassRegistry) error {
	entries := classes.SortedEntries()
	for i, e := range entries {
		if e.ID != i {
			return WriteClassFile(path, classes)
		}
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, e.Name); err != nil {
				return err
			}
		}
		return nil
	})
}

// decodeYOLOFile parses the label file at path for the image of the given size. The boxes are
// converted to AbsoluteCorner unless the size is unknown (zero).
func decodeYOLOFile(path, filename string, width, height int) (ImageRecord, error) {
	lines, err := readLines(path)
	if err != nil {
		return ImageRecord{}, err
	}

	r := ImageRecord{
		Filename:    filename,
		Width:       width,
		Height:      height,
		Annotations: make([]Annotation, 0, len(lines)),
	}
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		a, formatErr := parseYOLOLine(line)
		if formatErr != nil {
			formatErr.Path, formatErr.Line = path, i+1
			return ImageRecord{}, formatErr
		}
		if width > 0 && height > 0 {
			if a.Box, err = convertSpace(a.Box, AbsoluteCorner, width, height); err != nil {
				return ImageRecord{}, fmt.Errorf("%s:%d: %w", path, i+1, err)
			}
		}
		r.Annotations = append(r.Annotations, a)
	}

	return r, nil
}

// parseYOLOLine parses the values of a single annotation line.
func parseYOLOLine(line string) (Annotation, *FormatError) {
	tokens := strings.Fields(line)
	if len(tokens) != yoloFields {
		return Annotation{}, &FormatError{Value: line,
			Reason: fmt.Sprintf("expected %d fields, found %d", yoloFields, len(tokens))}
	}

	classID, err := strconv.Atoi(tokens[0])
	if err != nil {
		return Annotation{}, &FormatError{Key: "class_id", Value: tokens[0],
			Reason: "class id is not an integer"}
	}

	var v [4]float64
	keys := [4]string{"cx", "cy", "w", "h"}
	for i := range v {
		v[i], err = strconv.ParseFloat(tokens[i+1], 64)
		if err != nil {
			return Annotation{}, &FormatError{Key: keys[i], Value: tokens[i+1],
				Reason: "not a number"}
		}
		if !(v[i] >= 0 && v[i] <= 1) {
			return Annotation{}, &FormatError{Key: keys[i], Value: tokens[i+1],
				Reason: "normalized coordinate outside [0,1]"}
		}
	}

	return Annotation{
		ClassID: classID,
		Box:     BoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3], Space: NormalizedCenter},
	}, nil
}

// Encode writes one label file per image to labelDir, plus the class list if there is one.
// Images whose label files would collide (same base name) fail individually.
func (c *YOLOCodec) Encode(data *Dataset, labelDir string) error {
	if err := os.MkdirAll(labelDir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", labelDir, err)
	}
	classes := data.Classes
	if classes.Len() == 0 {
		classes = c.opts.Classes
	}
	if classes.Len() > 0 {
		if err := writeYOLOClassFile(filepath.Join(labelDir, YOLOClassFile), classes); err != nil {
			return err
		}
	}

	labelPath := func(i int) string {
		return filepath.Join(labelDir, annotationFile(data.Images[i].Filename, ".txt"))
	}
	conflicts := conflictingOutputs(len(data.Images), labelPath)

	errs := runTasks(context.Background(), len(data.Images), c.opts.Workers, func(i int) error {
		if err := conflicts[i]; err != nil {
			return err
		}
		return encodeYOLOFile(labelPath(i), data.Images[i])
	})
	log.Printf("Wrote YOLO labels for %d images to %s", len(data.Images), labelDir)

	return batchErr(collectItemErrors(errs, func(i int) string { return data.Images[i].Filename }))
}

// encodeYOLOFile writes the annotations of r to path.
func encodeYOLOFile(path string, r ImageRecord) error {
	lines := make([]string, len(r.Annotations))
	for i, a := range r.Annotations {
		b, err := r.box(i, NormalizedCenter)
		if err != nil {
			return err
		}

		v := [4]float64{b.X, b.Y, b.Width, b.Height}
		for j := range v {
			v[j] = clampUnit(v[j])
			if v[j] < 0 || v[j] > 1 {
				return &GeometryError{Op: "encode", Box: a.Box,
					Reason: "normalized coordinate outside [0,1]"}
			}
		}
		lines[i] = fmt.Sprintf("%d %.8f %.8f %.8f %.8f\n", a.ClassID, v[0], v[1], v[2], v[3])
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

// unitSlack is the float noise by which a normalized value may leave [0,1] and still be clamped.
const unitSlack = 1e-9

// clampUnit snaps v to [0,1] if it is within unitSlack of the interval.
func clampUnit(v float64) float64 {
	if v < 0 && v > -unitSlack {
		return 0
	}
	if v > 1 && v < 1+unitSlack {
		return 1
	}
	return v
}
