package annotool

// Dataset statistics and the validation summary.

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Report aggregates the annotation counts of a dataset and its validation findings.
type Report struct {
	TotalImages       int                 `json:"total_images"`
	TotalAnnotations  int                 `json:"total_annotations"`
	PerClassCounts    map[int]int         `json:"per_class_counts"`
	PerImageBoxCounts map[string]int      `json:"per_image_box_counts"`
	FindingsByKind    map[FindingKind]int `json:"findings_by_kind"`
	// Findings lists the findings in the order they were given, which for Validate is image order
	// and then annotation order.
	Findings []Finding `json:"findings"`
}

// GenerateReport aggregates data and findings. It does not modify its inputs.
func GenerateReport(data *Dataset, findings []Finding) Report {
	rep := Report{
		TotalImages:       len(data.Images),
		PerClassCounts:    make(map[int]int),
		PerImageBoxCounts: make(map[string]int, len(data.Images)),
		FindingsByKind:    make(map[FindingKind]int),
		Findings:          append([]Finding(nil), findings...),
	}

	for _, r := range data.Images {
		rep.PerImageBoxCounts[r.Filename] += len(r.Annotations)
		rep.TotalAnnotations += len(r.Annotations)
		for _, a := range r.Annotations {
			rep.PerClassCounts[a.ClassID]++
		}
	}
	for _, f := range findings {
		rep.FindingsByKind[f.Kind]++
	}

	return rep
}

// HasErrors reports whether any finding has error severity.
func (rep Report) HasErrors() bool {
	for kind, n := range rep.FindingsByKind {
		if n > 0 && kind.Severity() == SeverityError {
			return true
		}
	}
	return false
}

// WriteText writes the human readable summary to w. Class names are looked up in classes, which
// may be nil.
func (rep Report) WriteText(w io.Writer, classes *ClassRegistry) error {
	var b strings.Builder

	b.WriteString("Dataset Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Images: %d\n", rep.TotalImages)
	fmt.Fprintf(&b, "Total annotations: %d\n", rep.TotalAnnotations)
	avg := 0.0
	if rep.TotalImages > 0 {
		avg = float64(rep.TotalAnnotations) / float64(rep.TotalImages)
	}
	fmt.Fprintf(&b, "Average annotations per image: %.2f\n", avg)

	b.WriteString("\nClass distribution:\n")
	ids := make([]int, 0, len(rep.PerClassCounts))
	for id := range rep.PerClassCounts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		n := rep.PerClassCounts[id]
		name, ok := classes.Resolve(id)
		if !ok {
			name = "<unknown>"
		}
		fmt.Fprintf(&b, "  Class %d (%s): %d (%.1f%%)\n", id, name, n,
			100*float64(n)/float64(rep.TotalAnnotations))
	}

	if len(rep.Findings) == 0 && len(rep.FindingsByKind) == 0 {
		b.WriteString("\nNo validation findings.\n")
	} else {
		b.WriteString("\nValidation findings:\n")
		for kind := FindingKind(0); kind < numFindingKinds; kind++ {
			if n := rep.FindingsByKind[kind]; n > 0 {
				fmt.Fprintf(&b, "  %s (%s): %d\n", kind, kind.Severity(), n)
			}
		}
		for _, f := range rep.Findings {
			fmt.Fprintf(&b, "  - %v\n", f)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
