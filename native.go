package annotool

// The native JSON format: the lossless interchange representation of a Dataset.

import (
	"encoding/json"
	"fmt"
	"os"
)

// NativeBox is an absolute corner box in pixels.
type NativeBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NativeAnnotation is a single annotation of a native image entry.
type NativeAnnotation struct {
	ClassID int       `json:"class_id"`
	BBox    NativeBox `json:"bbox"`
}

// NativeImage is the native annotation structure for a single image.
type NativeImage struct {
	Filename    string             `json:"filename"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	Annotations []NativeAnnotation `json:"annotations"`
}

// NativeClass is a class registry entry.
type NativeClass struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// NativeDocument is the native annotation file.
type NativeDocument struct {
	Classes []NativeClass `json:"classes"`
	Images  []NativeImage `json:"images"`
}

// NativeCodec reads and writes the native JSON document.
type NativeCodec struct {
	opts CodecOptions
}

// Format implements Codec.
func (c *NativeCodec) Format() Format { return Native }

// Decode reads the native document at path.
func (c *NativeCodec) Decode(path string) (*Dataset, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc NativeDocument
	if err := json.Unmarshal(enc, &doc); err != nil {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	data := NewDataset(nil)
	for i, class := range doc.Classes {
		if err := data.Classes.Add(class.ID, class.Name); err != nil {
			return nil, &FormatError{Path: path, Key: fmt.Sprintf("classes[%d]", i),
				Reason: err.Error()}
		}
	}
	if len(doc.Classes) == 0 && c.opts.Classes != nil {
		data.Classes = c.opts.Classes
	}

	data.Images = make([]ImageRecord, len(doc.Images))
	for i, img := range doc.Images {
		if img.Filename == "" {
			return nil, &FormatError{Path: path, Key: fmt.Sprintf("images[%d].filename", i),
				Reason: "missing file name"}
		}
		r := ImageRecord{Filename: img.Filename, Width: img.Width, Height: img.Height}
		for _, a := range img.Annotations {
			r.Annotations = append(r.Annotations, Annotation{
				ClassID: a.ClassID,
				Box: BoundingBox{X: a.BBox.X, Y: a.BBox.Y, Width: a.BBox.Width,
					Height: a.BBox.Height, Space: AbsoluteCorner},
			})
		}
		data.Images[i] = r
	}

	return data, nil
}

// ToNative converts the intermediate representation to the native document. Boxes are stored in
// AbsoluteCorner space, so boxes in other spaces need the image size.
func ToNative(data *Dataset) (NativeDocument, error) {
	doc := NativeDocument{
		Classes: make([]NativeClass, 0, data.Classes.Len()),
		Images:  make([]NativeImage, len(data.Images)),
	}
	for _, e := range data.Classes.Entries() {
		doc.Classes = append(doc.Classes, NativeClass{ID: e.ID, Name: e.Name})
	}

	for i, r := range data.Images {
		img := NativeImage{
			Filename:    r.Filename,
			Width:       r.Width,
			Height:      r.Height,
			Annotations: make([]NativeAnnotation, len(r.Annotations)),
		}
		for j, a := range r.Annotations {
			b, err := absoluteCorner(r, j)
			if err != nil {
				return NativeDocument{}, fmt.Errorf("%s annotation %d: %w", r.Filename, j, err)
			}
			img.Annotations[j] = NativeAnnotation{
				ClassID: a.ClassID,
				BBox:    NativeBox{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height},
			}
		}
		doc.Images[i] = img
	}

	return doc, nil
}

// Encode writes data as a native document to path.
func (c *NativeCodec) Encode(data *Dataset, path string) error {
	doc, err := ToNative(data)
	if err != nil {
		return err
	}
	return writeJSON(path, doc)
}
