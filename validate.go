package annotool

// Dataset validation. Findings are collected, never returned as errors, so that one pass reports
// every problem.

import (
	"fmt"
	"math"
	"sort"
)

// FindingKind classifies a validation finding.
type FindingKind int

// The finding kinds.
const (
	OrphanAnnotationFile FindingKind = iota // Annotations without a matching image.
	OrphanImage                             // An image without annotations.
	UnknownClassID
	DegenerateBox   // Non-positive (or non-finite) width or height.
	OutOfBoundsBox  // Extends outside the image by more than the bounds tolerance.
	DuplicateBox    // Same class and near-identical geometry as an earlier annotation.
	numFindingKinds // Keep last.
)

var findingKindNames = [numFindingKinds]string{
	"orphan-annotation-file",
	"orphan-image",
	"unknown-class-id",
	"degenerate-box",
	"out-of-bounds-box",
	"duplicate-box",
}

func (k FindingKind) String() string {
	if k < 0 || k >= numFindingKinds {
		return fmt.Sprintf("FindingKind(%d)", int(k))
	}
	return findingKindNames[k]
}

// MarshalText encodes k by name, also as a JSON object key.
func (k FindingKind) MarshalText() ([]byte, error) {
	if k < 0 || k >= numFindingKinds {
		return nil, fmt.Errorf("invalid finding kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a finding kind name.
func (k *FindingKind) UnmarshalText(text []byte) error {
	for i, name := range findingKindNames {
		if name == string(text) {
			*k = FindingKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown finding kind %q", text)
}

// Severity ranks how serious a finding is.
type Severity int

// The severities.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Severity returns the severity of the finding kind.
func (k FindingKind) Severity() Severity {
	switch k {
	case OrphanImage:
		return SeverityInfo
	case DuplicateBox:
		return SeverityWarning
	}
	return SeverityError
}

// Finding is a single validation issue.
type Finding struct {
	Kind     FindingKind `json:"kind"`
	Filename string      `json:"filename"`
	Index    int         `json:"index"`    // The annotation index, -1 for image level findings.
	ClassID  int         `json:"class_id"` // Only meaningful when Index >= 0.
	Message  string      `json:"message"`
}

func (f Finding) String() string {
	if f.Index < 0 {
		return fmt.Sprintf("%s: %s: %s: %s", f.Kind.Severity(), f.Kind, f.Filename, f.Message)
	}
	return fmt.Sprintf("%s: %s: %s annotation %d: %s", f.Kind.Severity(), f.Kind, f.Filename,
		f.Index, f.Message)
}

// ValidateOptions are the tolerances used by Validate.
type ValidateOptions struct {
	// Two boxes of the same class are duplicates when every normalized center coordinate differs
	// by less than DuplicateTolerance.
	DuplicateTolerance float64
	// BoundsTolerance is the distance in pixels by which a box may exceed the image.
	BoundsTolerance float64
}

// DefaultValidateOptions returns the default tolerances.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{DuplicateTolerance: 1e-3, BoundsTolerance: 0.5}
}

// Validate checks data against the images in index and returns all findings, ordered by image and
// then annotation order, followed by the images that only exist in the index sorted by name.
//
// A record without an image in index is an orphan annotation file and is not checked further. The
// image dimensions in index take precedence over those of the records. A nil index skips the orphan
// checks and uses the record dimensions. Validate does not modify data.
func Validate(data *Dataset, index ImageIndex, opts ValidateOptions) []Finding {
	var findings []Finding
	seen := make(map[string]bool, len(data.Images))

	for _, r := range data.Images {
		seen[r.Filename] = true
		width, height := r.Width, r.Height
		if index != nil {
			size, ok := index[r.Filename]
			if !ok {
				findings = append(findings, Finding{Kind: OrphanAnnotationFile, Filename: r.Filename,
					Index: -1, Message: "no matching image"})
				continue
			}
			width, height = size.Width, size.Height
		}
		findings = append(findings, validateRecord(r, width, height, data.Classes, opts)...)
	}

	var unannotated []string
	for name := range index {
		if !seen[name] {
			unannotated = append(unannotated, name)
		}
	}
	sort.Strings(unannotated)
	for _, name := range unannotated {
		findings = append(findings, Finding{Kind: OrphanImage, Filename: name, Index: -1,
			Message: "no annotation file"})
	}

	return findings
}

// validateRecord checks the annotations of a single image of the given size.
func validateRecord(r ImageRecord, width, height int, classes *ClassRegistry,
	opts ValidateOptions) []Finding {

	var findings []Finding
	if len(r.Annotations) == 0 {
		return append(findings, Finding{Kind: OrphanImage, Filename: r.Filename, Index: -1,
			Message: "no annotations"})
	}

	add := func(kind FindingKind, i int, format string, args ...interface{}) {
		findings = append(findings, Finding{Kind: kind, Filename: r.Filename, Index: i,
			ClassID: r.Annotations[i].ClassID, Message: fmt.Sprintf(format, args...)})
	}

	// Comparison keys of the non-degenerate boxes, normalized when the image size is known.
	keys := make([]*BoundingBox, len(r.Annotations))

	for i, a := range r.Annotations {
		if _, ok := classes.Resolve(a.ClassID); !ok {
			add(UnknownClassID, i, "class id %d is not in the class list", a.ClassID)
		}

		b := a.Box
		if !positiveFinite(b.Width) || !positiveFinite(b.Height) || !finite(b.X) || !finite(b.Y) {
			add(DegenerateBox, i, "invalid box %v", b)
			continue
		}

		if width > 0 && height > 0 {
			abs, err := convertSpace(b, AbsoluteCorner, width, height)
			if err == nil && !insideImage(abs, float64(width), float64(height), opts.BoundsTolerance) {
				c := abs.Corners()
				add(OutOfBoundsBox, i, "box (%.1f, %.1f)-(%.1f, %.1f) exceeds the %dx%d image",
					c[0], c[1], c[2], c[3], width, height)
			}
		}

		// Without the image size, boxes can only be compared within their own space.
		key := b
		if n, err := convertSpace(b, NormalizedCenter, width, height); err == nil {
			key = n
		}
		keys[i] = &key
		for j := 0; j < i; j++ {
			if keys[j] != nil && keys[j].Space == key.Space &&
				r.Annotations[j].ClassID == a.ClassID &&
				nearlyEqual(*keys[j], key, opts.DuplicateTolerance) {
				add(DuplicateBox, i, "duplicates annotation %d", j)
				break
			}
		}
	}

	return findings
}

// nearlyEqual reports whether every coordinate of the boxes differs by less than tol.
func nearlyEqual(a, b BoundingBox, tol float64) bool {
	return math.Abs(a.X-b.X) < tol && math.Abs(a.Y-b.Y) < tol &&
		math.Abs(a.Width-b.Width) < tol && math.Abs(a.Height-b.Height) < tol
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
