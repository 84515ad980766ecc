package annotool

// Pascal VOC specific functionality.

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// VOCBndBox is an object bounding box with absolute integer pixel corners.
type VOCBndBox struct {
	XMin int `xml:"xmin"`
	YMin int `xml:"ymin"`
	XMax int `xml:"xmax"`
	YMax int `xml:"ymax"`
}

// VOCObject is a single annotated object.
type VOCObject struct {
	Name      string    `xml:"name"`
	Pose      string    `xml:"pose,omitempty"`
	Truncated int       `xml:"truncated"`
	Difficult int       `xml:"difficult"`
	BndBox    VOCBndBox `xml:"bndbox"`
}

// VOCSize is the image size.
type VOCSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
	Depth  int `xml:"depth,omitempty"`
}

// VOCAnnotation defines the Pascal VOC annotation structure for a single image.
type VOCAnnotation struct {
	XMLName  xml.Name    `xml:"annotation"`
	Folder   string      `xml:"folder,omitempty"`
	Filename string      `xml:"filename"`
	Size     VOCSize     `xml:"size"`
	Objects  []VOCObject `xml:"object"`
}

// VOCCodec reads and writes one XML file per image. VOC has no numeric class ids, so object names
// are resolved through CodecOptions.Classes, which is required.
type VOCCodec struct {
	opts CodecOptions
}

// Format implements Codec.
func (c *VOCCodec) Format() Format { return PascalVOC }

// Decode reads all .xml files in dir.
func (c *VOCCodec) Decode(dir string) (*Dataset, error) {
	if c.opts.Classes == nil {
		return nil, fmt.Errorf("decoding Pascal VOC requires a class list")
	}

	files, err := filesByExtInDir(dir, ".xml")
	if err != nil {
		return nil, err
	}
	log.Printf("Parsing VOC labels for %d files", len(files))

	records := make([]ImageRecord, len(files))
	errs := runTasks(context.Background(), len(files), c.opts.Workers, func(i int) error {
		r, err := c.decodeFile(filepath.Join(dir, files[i]))
		records[i] = r
		return err
	})

	data := NewDataset(c.opts.Classes)
	for i, r := range records {
		if errs[i] == nil {
			data.Images = append(data.Images, r)
		}
	}
	return data, batchErr(collectItemErrors(errs, func(i int) string { return files[i] }))
}

// decodeFile parses the VOC file at path.
func (c *VOCCodec) decodeFile(path string) (r ImageRecord, err error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageRecord{}, err
	}
	defer closeWithErrCheck(f, &err)

	var doc VOCAnnotation
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return ImageRecord{}, &FormatError{Path: path, Reason: fmt.Sprintf("invalid VOC XML: %v", err)}
	}

	r = ImageRecord{
		Filename:    doc.Filename,
		Width:       doc.Size.Width,
		Height:      doc.Size.Height,
		Annotations: make([]Annotation, len(doc.Objects)),
	}
	if r.Filename == "" {
		r.Filename = filepath.Base(path)
	}

	// Fall back to the image header for the size.
	if (r.Width <= 0 || r.Height <= 0) && c.opts.ImageDir != "" {
		config, _, err := decodeImageConfig(filepath.Join(c.opts.ImageDir, r.Filename))
		if err != nil {
			return ImageRecord{}, err
		}
		r.Width, r.Height = config.Width, config.Height
	}

	for i, obj := range doc.Objects {
		id, ok := c.opts.Classes.ID(obj.Name)
		if !ok {
			return ImageRecord{}, &FormatError{Path: path, Key: fmt.Sprintf("object[%d].name", i),
				Value: obj.Name, Reason: "class name not in the class list"}
		}
		b := obj.BndBox
		r.Annotations[i] = Annotation{
			ClassID: id,
			Box:     BoxFromCorners(float64(b.XMin), float64(b.YMin), float64(b.XMax), float64(b.YMax)),
		}
	}

	return r, nil
}

// Encode writes one XML file per image to dir. Box corners are rounded to the nearest pixel.
func (c *VOCCodec) Encode(data *Dataset, dir string) error {
	classes := data.Classes
	if classes.Len() == 0 {
		classes = c.opts.Classes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create directory %q: %w", dir, err)
	}

	xmlPath := func(i int) string {
		return filepath.Join(dir, annotationFile(data.Images[i].Filename, ".xml"))
	}
	conflicts := conflictingOutputs(len(data.Images), xmlPath)

	errs := runTasks(context.Background(), len(data.Images), c.opts.Workers, func(i int) error {
		if err := conflicts[i]; err != nil {
			return err
		}
		doc, err := toVOC(data.Images[i], classes)
		if err != nil {
			return err
		}
		return writeXML(xmlPath(i), doc)
	})
	log.Printf("Wrote VOC labels for %d images to %s", len(data.Images), dir)

	return batchErr(collectItemErrors(errs, func(i int) string { return data.Images[i].Filename }))
}

// toVOC converts a single image record to the VOC structure.
func toVOC(r ImageRecord, classes *ClassRegistry) (VOCAnnotation, error) {
	doc := VOCAnnotation{
		Folder:   "images",
		Filename: r.Filename,
		Size:     VOCSize{Width: r.Width, Height: r.Height, Depth: 3},
		Objects:  make([]VOCObject, len(r.Annotations)),
	}
	for i, a := range r.Annotations {
		name, ok := classes.Resolve(a.ClassID)
		if !ok {
			return VOCAnnotation{}, &FormatError{Key: fmt.Sprintf("annotation %d", i),
				Value: fmt.Sprint(a.ClassID), Reason: "class id has no name"}
		}
		b, err := absoluteCorner(r, i)
		if err != nil {
			return VOCAnnotation{}, err
		}
		rect := b.Rect()
		doc.Objects[i] = VOCObject{
			Name:   name,
			Pose:   "Unspecified",
			BndBox: VOCBndBox{XMin: rect.Min.X, YMin: rect.Min.Y, XMax: rect.Max.X, YMax: rect.Max.Y},
		}
	}
	return doc, nil
}

// writeXML atomically writes v as indented XML to path.
func writeXML(path string, v interface{}) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(v); err != nil {
			return err
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
}
