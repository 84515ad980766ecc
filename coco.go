package annotool

// COCO specific functionality.

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// COCOInfo is the optional dataset description block.
type COCOInfo struct {
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Contributor string `json:"contributor,omitempty"`
}

// COCOLicense is an entry of the licenses array.
type COCOLicense struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// COCOImage is an entry of the images array.
type COCOImage struct {
	ID       int    `json:"id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileName string `json:"file_name"`
	License  int    `json:"license,omitempty"`
}

// COCOAnnotation is an entry of the annotations array. BBox is [x0, y0, w, h] in pixels.
type COCOAnnotation struct {
	ID         int       `json:"id"`
	ImageID    int       `json:"image_id"`
	CategoryID int       `json:"category_id"`
	BBox       []float64 `json:"bbox"`
	Area       float64   `json:"area"`
	IsCrowd    int       `json:"iscrowd"`
}

// COCOCategory is an entry of the categories array.
type COCOCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// COCODocument is a COCO object detection annotation file.
type COCODocument struct {
	Info        *COCOInfo        `json:"info,omitempty"`
	Licenses    []COCOLicense    `json:"licenses,omitempty"`
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []COCOCategory   `json:"categories"`
}

// COCOCodec reads and writes a single COCO JSON document. The class registry of a decoded dataset
// is built from the document's categories.
type COCOCodec struct {
	opts CodecOptions
}

// Format implements Codec.
func (c *COCOCodec) Format() Format { return COCO }

// Decode reads the COCO document at path. Dangling image or category references and duplicate ids
// are fatal, as COCO consumers rely on referential integrity.
func (c *COCOCodec) Decode(path string) (*Dataset, error) {
	enc, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc COCODocument
	if err := json.Unmarshal(enc, &doc); err != nil {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("invalid COCO JSON: %v", err)}
	}

	return FromCOCO(path, doc)
}

// FromCOCO converts a parsed COCO document to the intermediate representation. The path is only
// used for error messages.
func FromCOCO(path string, doc COCODocument) (*Dataset, error) {
	classes := NewClassRegistry()
	for i, cat := range doc.Categories {
		if err := classes.Add(cat.ID, cat.Name); err != nil {
			return nil, &FormatError{Path: path, Key: fmt.Sprintf("categories[%d]", i),
				Value: strconv.Itoa(cat.ID), Reason: err.Error()}
		}
	}

	data := NewDataset(classes)
	data.Images = make([]ImageRecord, len(doc.Images))
	imageIdx := make(map[int]int, len(doc.Images))
	for i, img := range doc.Images {
		if _, ok := imageIdx[img.ID]; ok {
			return nil, &FormatError{Path: path, Key: fmt.Sprintf("images[%d].id", i),
				Value: strconv.Itoa(img.ID), Reason: "duplicate image id"}
		}
		imageIdx[img.ID] = i
		data.Images[i] = ImageRecord{Filename: img.FileName, Width: img.Width, Height: img.Height}
	}

	annotationIDs := make(map[int]bool, len(doc.Annotations))
	for i, a := range doc.Annotations {
		key := fmt.Sprintf("annotations[%d]", i)
		if annotationIDs[a.ID] {
			return nil, &FormatError{Path: path, Key: key + ".id", Value: strconv.Itoa(a.ID),
				Reason: "duplicate annotation id"}
		}
		annotationIDs[a.ID] = true
		idx, ok := imageIdx[a.ImageID]
		if !ok {
			return nil, &FormatError{Path: path, Key: key + ".image_id",
				Value: strconv.Itoa(a.ImageID), Reason: "unknown image id"}
		}
		if _, ok := classes.Resolve(a.CategoryID); !ok {
			return nil, &FormatError{Path: path, Key: key + ".category_id",
				Value: strconv.Itoa(a.CategoryID), Reason: "unknown category id"}
		}
		if len(a.BBox) != 4 {
			return nil, &FormatError{Path: path, Key: key + ".bbox", Value: fmt.Sprint(a.BBox),
				Reason: "bbox must have 4 values"}
		}

		r := &data.Images[idx]
		r.Annotations = append(r.Annotations, Annotation{
			ClassID: a.CategoryID,
			Box: BoundingBox{X: a.BBox[0], Y: a.BBox[1], Width: a.BBox[2], Height: a.BBox[3],
				Space: AbsoluteCorner},
		})
	}
	log.Printf("Parsed COCO labels for %d images", len(data.Images))

	return data, nil
}

// ToCOCO converts the intermediate representation to a COCO document. Category ids are the class
// ids; image and annotation ids are assigned sequentially from 1.
func ToCOCO(data *Dataset) (COCODocument, error) {
	doc := COCODocument{
		Info:        &COCOInfo{Description: "Converted by annotool", Version: "1.0"},
		Images:      make([]COCOImage, 0, len(data.Images)),
		Annotations: make([]COCOAnnotation, 0, data.NumAnnotations()),
		Categories:  make([]COCOCategory, 0, data.Classes.Len()),
	}
	for _, e := range data.Classes.SortedEntries() {
		doc.Categories = append(doc.Categories,
			COCOCategory{ID: e.ID, Name: e.Name, Supercategory: "object"})
	}

	annotationID := 1
	for i, r := range data.Images {
		imageID := i + 1
		doc.Images = append(doc.Images,
			COCOImage{ID: imageID, Width: r.Width, Height: r.Height, FileName: r.Filename})

		for j, a := range r.Annotations {
			if _, ok := data.Classes.Resolve(a.ClassID); !ok {
				return COCODocument{}, &FormatError{Key: fmt.Sprintf("%s annotation %d", r.Filename, j),
					Value: strconv.Itoa(a.ClassID), Reason: "class id has no category"}
			}
			b, err := absoluteCorner(r, j)
			if err != nil {
				return COCODocument{}, fmt.Errorf("%s annotation %d: %w", r.Filename, j, err)
			}
			doc.Annotations = append(doc.Annotations, COCOAnnotation{
				ID:         annotationID,
				ImageID:    imageID,
				CategoryID: a.ClassID,
				BBox:       []float64{b.X, b.Y, b.Width, b.Height},
				Area:       b.Width * b.Height,
			})
			annotationID++
		}
	}

	return doc, nil
}

// Encode writes data as a COCO document to path.
func (c *COCOCodec) Encode(data *Dataset, path string) error {
	if data.Classes.Len() == 0 && c.opts.Classes != nil {
		data = &Dataset{Images: data.Images, Classes: c.opts.Classes}
	}
	doc, err := ToCOCO(data)
	if err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Path = path
		}
		return err
	}
	return writeJSON(path, doc)
}

// writeJSON atomically writes v as indented JSON to path, creating the directory if needed.
func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cannot create directory for %q: %w", path, err)
	}
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(enc)
		return err
	})
}
