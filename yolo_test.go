package annotool

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestYOLODecode(t *testing.T) {
	dir := t.TempDir()
	classFile := writeTestFile(t, t.TempDir(), "classes.names", "0 person\n1 car\n")
	writeTestImage(t, dir, "img.png", 640, 480)
	writeTestFile(t, dir, "img.txt", "0 0.5 0.5 0.2 0.3\n")

	classes, err := ReadClassFile(classFile)
	if err != nil {
		t.Fatalf("ReadClassFile failed: %v", err)
	}
	codec := &YOLOCodec{opts: CodecOptions{Classes: classes}}

	data, err := codec.Decode(dir)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(data.Images) != 1 {
		t.Fatalf("Expected 1 image, got %d", len(data.Images))
	}
	r := data.Images[0]
	if r.Filename != "img.png" || r.Width != 640 || r.Height != 480 {
		t.Errorf("Unexpected image record %s %dx%d", r.Filename, r.Width, r.Height)
	}
	if len(r.Annotations) != 1 {
		t.Fatalf("Expected 1 annotation, got %d", len(r.Annotations))
	}

	a := r.Annotations[0]
	want := BoundingBox{X: 256, Y: 168, Width: 128, Height: 144, Space: AbsoluteCorner}
	if a.ClassID != 0 || !boxesNear(a.Box, want, 1e-6) {
		t.Errorf("Expected class 0 with box %v, got class %d with box %v", want, a.ClassID, a.Box)
	}
	if name, _ := data.Classes.Resolve(a.ClassID); name != "person" {
		t.Errorf("Expected class name person, got %q", name)
	}
}

func TestYOLODecodeUnmatchedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestImage(t, dir, "unlabelled.png", 40, 30)
	writeTestFile(t, dir, "orphan.txt", "1 0.5 0.5 0.5 0.5\n")
	writeTestFile(t, dir, YOLOClassFile, "0 person\n1 car\n")

	data, err := (&YOLOCodec{}).Decode(dir)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if data.Classes.Len() != 2 {
		t.Errorf("Expected the class list to be read from %s, got %d classes", YOLOClassFile,
			data.Classes.Len())
	}
	if len(data.Images) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(data.Images))
	}

	// Images come first, then the label files without image.
	unlabelled, orphan := data.Images[0], data.Images[1]
	if unlabelled.Filename != "unlabelled.png" || len(unlabelled.Annotations) != 0 {
		t.Errorf("Expected an unannotated record for unlabelled.png, got %+v", unlabelled)
	}
	if orphan.Filename != "orphan.txt" || orphan.Width != 0 || orphan.Height != 0 {
		t.Errorf("Expected a record of unknown size for orphan.txt, got %+v", orphan)
	}
	if len(orphan.Annotations) != 1 || orphan.Annotations[0].Box.Space != NormalizedCenter {
		t.Errorf("Expected one normalized box for orphan.txt, got %+v", orphan.Annotations)
	}
}

func TestYOLODecodeMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
		line    int
		key     string
	}{
		{"too few fields", "0 0.5 0.5 0.2\n", 1, ""},
		{"too many fields", "0 0.5 0.5 0.2 0.3 0.9\n", 1, ""},
		{"non-integer class", "# comment\nperson 0.5 0.5 0.2 0.3\n", 2, "class_id"},
		{"not a number", "0 0.5 x 0.2 0.3\n", 1, "cy"},
		{"out of range", "0 0.5 0.5 0.2 0.3\n\n0 1.5 0.5 0.2 0.3\n", 3, "cx"},
		{"negative", "0 0.5 0.5 -0.2 0.3\n", 1, "w"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTestImage(t, dir, "bad.png", 20, 20)
			writeTestImage(t, dir, "good.png", 20, 20)
			writeTestFile(t, dir, "bad.txt", tt.content)
			writeTestFile(t, dir, "good.txt", "0 0.5 0.5 0.5 0.5\n")

			data, err := (&YOLOCodec{opts: CodecOptions{Classes: testClasses(t)}}).Decode(dir)

			var batchErr *BatchError
			if !errors.As(err, &batchErr) || len(batchErr.Errors) != 1 {
				t.Fatalf("Expected a *BatchError with 1 entry, got %v", err)
			}
			if batchErr.Errors[0].Name != "bad.png" {
				t.Errorf("Expected the error for bad.png, got %s", batchErr.Errors[0].Name)
			}
			var formatErr *FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("Expected a *FormatError, got %v", err)
			}
			if formatErr.Line != tt.line || formatErr.Key != tt.key {
				t.Errorf("Expected line %d key %q, got line %d key %q", tt.line, tt.key,
					formatErr.Line, formatErr.Key)
			}
			if formatErr.Path != filepath.Join(dir, "bad.txt") {
				t.Errorf("Expected the path of bad.txt, got %s", formatErr.Path)
			}

			// The sibling image is still decoded.
			if data == nil || len(data.Images) != 1 || data.Images[0].Filename != "good.png" {
				t.Errorf("Expected good.png to be decoded, got %+v", data)
			}
		})
	}
}

func TestYOLORoundTripThroughNative(t *testing.T) {
	imageDir := t.TempDir()
	writeTestImage(t, imageDir, "a.png", 640, 480)
	writeTestImage(t, imageDir, "b.png", 333, 777)

	d := NewDataset(testClasses(t))
	d.Images = []ImageRecord{
		{Filename: "a.png", Width: 640, Height: 480, Annotations: []Annotation{
			{ClassID: 0, Box: BoxFromCorners(256, 168, 384, 312)},
			{ClassID: 1, Box: BoxFromCorners(0.5, 1.25, 639.75, 480)},
		}},
		{Filename: "b.png", Width: 333, Height: 777, Annotations: []Annotation{
			{ClassID: 1, Box: BoxFromCorners(1.0/3, 100.1, 123.456, 700)},
		}},
	}

	nativePath := filepath.Join(t.TempDir(), "labels.json")
	native := &NativeCodec{}
	if err := native.Encode(d, nativePath); err != nil {
		t.Fatalf("Native encode failed: %v", err)
	}
	fromNative, err := native.Decode(nativePath)
	if err != nil {
		t.Fatalf("Native decode failed: %v", err)
	}

	labelDir := t.TempDir()
	yolo := &YOLOCodec{opts: CodecOptions{ImageDir: imageDir}}
	if err := yolo.Encode(fromNative, labelDir); err != nil {
		t.Fatalf("YOLO encode failed: %v", err)
	}
	got, err := yolo.Decode(labelDir)
	if err != nil {
		t.Fatalf("YOLO decode failed: %v", err)
	}

	if got.Classes.Len() != 2 {
		t.Errorf("Expected the class list to be written and read back, got %d classes",
			got.Classes.Len())
	}
	if len(got.Images) != len(d.Images) {
		t.Fatalf("Expected %d images, got %d", len(d.Images), len(got.Images))
	}
	for i, want := range d.Images {
		r := got.Images[i]
		if r.Filename != want.Filename || len(r.Annotations) != len(want.Annotations) {
			t.Fatalf("Expected %s with %d annotations, got %s with %d", want.Filename,
				len(want.Annotations), r.Filename, len(r.Annotations))
		}
		for j := range want.Annotations {
			wantBox, _ := want.box(j, NormalizedCenter)
			gotBox, err := r.box(j, NormalizedCenter)
			if err != nil {
				t.Fatalf("Conversion failed: %v", err)
			}
			if r.Annotations[j].ClassID != want.Annotations[j].ClassID ||
				!boxesNear(gotBox, wantBox, 1e-6) {
				t.Errorf("%s annotation %d: expected %v, got %v", want.Filename, j, wantBox, gotBox)
			}
		}
	}
}

func TestYOLOEncodeRejectsUnknownSize(t *testing.T) {
	d := NewDataset(nil)
	d.Images = []ImageRecord{{Filename: "a.png", Annotations: []Annotation{
		{ClassID: 0, Box: BoxFromCorners(0, 0, 10, 10)},
	}}}

	err := (&YOLOCodec{}).Encode(d, t.TempDir())
	var geomErr *GeometryError
	if !errors.As(err, &geomErr) {
		t.Errorf("Expected a *GeometryError for an absolute box without image size, got %v", err)
	}
}

func TestYOLOClassFileFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []ClassEntry
	}{
		{"names only", "person\ncar\n", []ClassEntry{{0, "person"}, {1, "car"}}},
		{"names with spaces", "# classes\ntraffic light\n\nstop sign\n",
			[]ClassEntry{{0, "traffic light"}, {1, "stop sign"}}},
		{"class list", "0 person\n5 car\n", []ClassEntry{{0, "person"}, {5, "car"}}},
		{"unusable", "car\ncar\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTestImage(t, dir, "a.png", 40, 30)
			writeTestFile(t, dir, "a.txt", "0 0.5 0.5 0.5 0.5\n")
			writeTestFile(t, dir, YOLOClassFile, tt.content)

			data, err := (&YOLOCodec{}).Decode(dir)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(data.Images) != 1 || len(data.Images[0].Annotations) != 1 {
				t.Errorf("Expected a.png with 1 annotation, got %+v", data.Images)
			}
			if got := data.Classes.Entries(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected classes %v, got %v", tt.want, got)
			}
		})
	}
}

func TestYOLOEncodeClassFile(t *testing.T) {
	contiguous := testClasses(t)
	sparse := NewClassRegistry()
	if err := sparse.Add(0, "person"); err != nil {
		t.Fatal(err)
	}
	if err := sparse.Add(3, "dog"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		classes *ClassRegistry
		want    string
	}{
		{"contiguous ids", contiguous, "person\ncar\n"},
		{"sparse ids", sparse, "0 person\n3 dog\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labelDir := t.TempDir()
			if err := (&YOLOCodec{}).Encode(NewDataset(tt.classes), labelDir); err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if got := readTestFile(t, filepath.Join(labelDir, YOLOClassFile)); got != tt.want {
				t.Errorf("Expected class file %q, got %q", tt.want, got)
			}
		})
	}
}
