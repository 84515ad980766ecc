package annotool

// The intermediate annotation representation that every codec decodes into and encodes from.

import (
	"fmt"
	"math/rand"
	"time"
)

// Annotation is a class assignment for one bounding box. The class id need not be registered
// until the dataset is validated or exported.
type Annotation struct {
	ClassID int
	Box     BoundingBox
}

// ImageRecord is the annotation metadata of one image. It owns its annotations exclusively.
type ImageRecord struct {
	Filename    string // Base name of the image (or of the label file if no image was found).
	Width       int    // Pixel width, zero if unknown.
	Height      int    // Pixel height, zero if unknown.
	Annotations []Annotation
}

// Clone returns a deep copy of r.
func (r ImageRecord) Clone() ImageRecord {
	c := r
	if r.Annotations != nil {
		c.Annotations = append(make([]Annotation, 0, len(r.Annotations)), r.Annotations...)
	}
	return c
}

// box returns the i-th annotation box converted to space.
func (r ImageRecord) box(i int, space CoordinateSpace) (BoundingBox, error) {
	return ToSpace(r.Annotations[i].Box, space, r.Width, r.Height)
}

// scale multiplies the image dimensions and all absolute box coordinates by the given factors.
// Normalized boxes are unaffected by a uniform image rescale.
func (r *ImageRecord) scale(sx, sy float64, width, height int) {
	r.Width, r.Height = width, height
	for i := range r.Annotations {
		b := &r.Annotations[i].Box
		if b.Space == NormalizedCenter {
			continue
		}
		b.X *= sx
		b.Y *= sy
		b.Width *= sx
		b.Height *= sy
	}
}

// Dataset is a set of annotated images with their class registry. It does not reject unknown
// class ids; Validate reports them.
type Dataset struct {
	Images  []ImageRecord
	Classes *ClassRegistry
}

// NewDataset returns an empty dataset using classes, or an empty registry if classes is nil.
func NewDataset(classes *ClassRegistry) *Dataset {
	if classes == nil {
		classes = NewClassRegistry()
	}
	return &Dataset{Classes: classes}
}

// Clone returns a deep copy of the images. The registry is shared, as it is read-only.
func (d *Dataset) Clone() *Dataset {
	c := &Dataset{Classes: d.Classes}
	if d.Images != nil {
		c.Images = make([]ImageRecord, len(d.Images))
		for i, r := range d.Images {
			c.Images[i] = r.Clone()
		}
	}
	return c
}

// NumAnnotations is the total number of annotations over all images.
func (d *Dataset) NumAnnotations() int {
	n := 0
	for _, r := range d.Images {
		n += len(r.Annotations)
	}
	return n
}

// Split randomly splits the images into multiple datasets sharing the registry.
//
// The cumulativeSplits specify the cumulative distribution according to which the data is split
// into the returned datasets. Its last value must be 100. A nil rng is seeded from the clock.
func (d *Dataset) Split(cumulativeSplits []int, rng *rand.Rand) ([]*Dataset, error) {
	datasets := make([]*Dataset, len(cumulativeSplits))

	// Allocate slightly more than the expected size for each dataset.
	var sum int
	for i, s := range cumulativeSplits {
		if s < sum {
			return nil, fmt.Errorf("the split percentages are not cumulative")
		}
		percent := s - sum
		datasets[i] = &Dataset{
			Images:  make([]ImageRecord, 0, int(1.05*float64(percent)/100*float64(len(d.Images)))),
			Classes: d.Classes,
		}
		sum = s
	}
	if sum != 100 {
		return nil, fmt.Errorf("the split percentages do not add up to 100")
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

outer:
	for _, r := range d.Images {
		n := rng.Intn(100)
		for i, s := range cumulativeSplits {
			if n < s {
				datasets[i].Images = append(datasets[i].Images, r)
				continue outer
			}
		}
	}

	return datasets, nil
}
