package annotool

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testCOCODocument = `{
  "images": [
    {"id": 7, "width": 640, "height": 480, "file_name": "a.jpg"},
    {"id": 9, "width": 100, "height": 50, "file_name": "b.jpg"}
  ],
  "annotations": [
    {"id": 1, "image_id": 9, "category_id": 1, "bbox": [10, 5, 20, 10.5], "area": 210, "iscrowd": 0},
    {"id": 2, "image_id": 7, "category_id": 0, "bbox": [256, 168, 128, 144], "area": 18432, "iscrowd": 0},
    {"id": 3, "image_id": 9, "category_id": 0, "bbox": [0, 0, 1, 1], "area": 1, "iscrowd": 0}
  ],
  "categories": [
    {"id": 0, "name": "person"},
    {"id": 1, "name": "car"}
  ]
}`

func TestCOCODecode(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "coco.json", testCOCODocument)

	data, err := (&COCOCodec{}).Decode(path)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if want := []ClassEntry{{0, "person"}, {1, "car"}}; !reflect.DeepEqual(data.Classes.Entries(), want) {
		t.Errorf("Expected classes %v, got %v", want, data.Classes.Entries())
	}

	want := []ImageRecord{
		{Filename: "a.jpg", Width: 640, Height: 480, Annotations: []Annotation{
			{ClassID: 0, Box: BoundingBox{X: 256, Y: 168, Width: 128, Height: 144, Space: AbsoluteCorner}},
		}},
		{Filename: "b.jpg", Width: 100, Height: 50, Annotations: []Annotation{
			{ClassID: 1, Box: BoundingBox{X: 10, Y: 5, Width: 20, Height: 10.5, Space: AbsoluteCorner}},
			{ClassID: 0, Box: BoundingBox{X: 0, Y: 0, Width: 1, Height: 1, Space: AbsoluteCorner}},
		}},
	}
	if !reflect.DeepEqual(data.Images, want) {
		t.Errorf("Expected images %+v, got %+v", want, data.Images)
	}
}

func TestCOCODecodeDanglingCategory(t *testing.T) {
	doc := `{
  "images": [{"id": 1, "width": 10, "height": 10, "file_name": "a.jpg"}],
  "annotations": [{"id": 1, "image_id": 1, "category_id": 99, "bbox": [1, 1, 2, 2]}],
  "categories": [{"id": 0, "name": "person"}, {"id": 1, "name": "car"}]
}`
	path := writeTestFile(t, t.TempDir(), "coco.json", doc)

	data, err := (&COCOCodec{}).Decode(path)
	if data != nil {
		t.Error("Expected no dataset for a dangling reference")
	}
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("Expected a *FormatError, got %v", err)
	}
	if formatErr.Value != "99" || !strings.HasSuffix(formatErr.Key, "category_id") {
		t.Errorf("Expected the error to name category_id 99, got %v", formatErr)
	}
	if !strings.Contains(err.Error(), "99") {
		t.Errorf("Expected the message to contain the dangling id, got %q", err)
	}
}

func TestCOCODecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"dangling image", `{"images": [{"id": 1, "file_name": "a.jpg"}],
			"annotations": [{"id": 1, "image_id": 2, "category_id": 0, "bbox": [1, 1, 2, 2]}],
			"categories": [{"id": 0, "name": "person"}]}`, "annotations[0].image_id"},
		{"duplicate image", `{"images": [{"id": 1, "file_name": "a.jpg"}, {"id": 1, "file_name": "b.jpg"}],
			"annotations": [], "categories": []}`, "images[1].id"},
		{"duplicate category", `{"images": [], "annotations": [],
			"categories": [{"id": 0, "name": "person"}, {"id": 0, "name": "car"}]}`, "categories[1]"},
		{"duplicate annotation", `{"images": [{"id": 1, "file_name": "a.jpg"}],
			"annotations": [{"id": 4, "image_id": 1, "category_id": 0, "bbox": [1, 1, 2, 2]},
				{"id": 4, "image_id": 1, "category_id": 0, "bbox": [3, 3, 2, 2]}],
			"categories": [{"id": 0, "name": "person"}]}`, "annotations[1].id"},
		{"short bbox", `{"images": [{"id": 1, "file_name": "a.jpg"}],
			"annotations": [{"id": 1, "image_id": 1, "category_id": 0, "bbox": [1, 1, 2]}],
			"categories": [{"id": 0, "name": "person"}]}`, "annotations[0].bbox"},
		{"invalid JSON", `{"images": [`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, t.TempDir(), "coco.json", tt.doc)
			_, err := (&COCOCodec{}).Decode(path)
			var formatErr *FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("Expected a *FormatError, got %v", err)
			}
			if formatErr.Key != tt.key || formatErr.Path != path {
				t.Errorf("Expected key %q in %s, got %v", tt.key, path, formatErr)
			}
		})
	}
}

func TestCOCORoundTrip(t *testing.T) {
	path := writeTestFile(t, t.TempDir(), "coco.json", testCOCODocument)
	codec := &COCOCodec{}
	want, err := codec.Decode(path)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "out", "coco.json")
	if err := codec.Encode(want, outPath); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var doc COCODocument
	if err := json.Unmarshal([]byte(readTestFile(t, outPath)), &doc); err != nil {
		t.Fatalf("Invalid output JSON: %v", err)
	}
	if len(doc.Images) != 2 || doc.Images[0].ID != 1 || len(doc.Annotations) != 3 {
		t.Errorf("Expected 2 images numbered from 1 and 3 annotations, got %+v", doc)
	}
	if doc.Annotations[0].Area != 128*144 {
		t.Errorf("Expected area %d, got %g", 128*144, doc.Annotations[0].Area)
	}

	got, err := codec.Decode(outPath)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestCOCOEncodeUnknownClass(t *testing.T) {
	d := NewDataset(testClasses(t))
	d.Images = []ImageRecord{{Filename: "a.jpg", Width: 10, Height: 10, Annotations: []Annotation{
		{ClassID: 4, Box: BoxFromCorners(1, 1, 2, 2)},
	}}}

	path := filepath.Join(t.TempDir(), "coco.json")
	err := (&COCOCodec{}).Encode(d, path)
	var formatErr *FormatError
	if !errors.As(err, &formatErr) || formatErr.Value != "4" || formatErr.Path != path {
		t.Errorf("Expected a *FormatError naming class 4, got %v", err)
	}
}
