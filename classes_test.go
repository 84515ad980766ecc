package annotool

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseClasses(t *testing.T) {
	lines := []string{
		"# The class list",
		"0 person",
		"",
		"  1 car  ",
		"5 traffic light",
	}

	classes, err := ParseClasses(lines)
	if err != nil {
		t.Fatalf("ParseClasses failed: %v", err)
	}

	want := []ClassEntry{{0, "person"}, {1, "car"}, {5, "traffic light"}}
	if got := classes.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected entries %v, got %v", want, got)
	}
	if name, ok := classes.Resolve(5); !ok || name != "traffic light" {
		t.Errorf("Expected class 5 to resolve to \"traffic light\", got %q, %v", name, ok)
	}
	if _, ok := classes.Resolve(2); ok {
		t.Error("Expected class 2 to be unknown")
	}
	if id, ok := classes.ID("car"); !ok || id != 1 {
		t.Errorf("Expected car to have id 1, got %d, %v", id, ok)
	}
	if got := classes.MaxID(); got != 5 {
		t.Errorf("Expected max id 5, got %d", got)
	}
}

func TestParseClassesErrors(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
		line  int
	}{
		{"duplicate id", []string{"0 person", "0 car"}, 2},
		{"duplicate name", []string{"0 person", "1 person"}, 2},
		{"non-integer id", []string{"zero person"}, 1},
		{"missing name", []string{"0 person", "", "1"}, 3},
		{"negative id", []string{"-1 person"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClasses(tt.lines)
			var formatErr *FormatError
			if !errors.As(err, &formatErr) {
				t.Fatalf("Expected a *FormatError, got %v", err)
			}
			if formatErr.Line != tt.line {
				t.Errorf("Expected line %d, got %d", tt.line, formatErr.Line)
			}
		})
	}
}

func TestEmptyRegistry(t *testing.T) {
	var nilRegistry *ClassRegistry
	for _, r := range []*ClassRegistry{NewClassRegistry(), nilRegistry} {
		if got := r.MaxID(); got != -1 {
			t.Errorf("Expected max id -1, got %d", got)
		}
		if got := r.Len(); got != 0 {
			t.Errorf("Expected length 0, got %d", got)
		}
		if _, ok := r.Resolve(0); ok {
			t.Error("Expected class 0 to be unknown")
		}
	}
}

func TestZeroValueRegistryAdd(t *testing.T) {
	var r ClassRegistry
	if err := r.Add(0, "person"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(1, "person"); err == nil {
		t.Error("Expected an error for a duplicate name")
	}
	if id, ok := r.ID("person"); !ok || id != 0 {
		t.Errorf("Expected id 0 for person, got %d, %v", id, ok)
	}
}

func TestClassFileRoundTrip(t *testing.T) {
	classes := NewClassRegistry()
	for _, e := range []ClassEntry{{3, "dog"}, {0, "person"}, {1, "fire hydrant"}} {
		if err := classes.Add(e.ID, e.Name); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "classes.txt")
	if err := WriteClassFile(path, classes); err != nil {
		t.Fatalf("WriteClassFile failed: %v", err)
	}
	got, err := ReadClassFile(path)
	if err != nil {
		t.Fatalf("ReadClassFile failed: %v", err)
	}
	if !reflect.DeepEqual(got, classes) {
		t.Errorf("Expected %v, got %v", classes.Entries(), got.Entries())
	}

	want := []ClassEntry{{0, "person"}, {1, "fire hydrant"}, {3, "dog"}}
	if sorted := got.SortedEntries(); !reflect.DeepEqual(sorted, want) {
		t.Errorf("Expected sorted entries %v, got %v", want, sorted)
	}
}

func TestWriteClasses(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteClasses(&buf, testClasses(t)); err != nil {
		t.Fatalf("WriteClasses failed: %v", err)
	}
	if want := "0 person\n1 car\n"; buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}
