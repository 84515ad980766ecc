package annotool

import (
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// createTestImage creates a simple test image with a bright center region.
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				img.Set(x, y, color.RGBA{64, 64, 64, 255})
			}
		}
	}
	return img
}

// writeTestImage saves a test image of the given size as dir/name, encoded by file extension.
func writeTestImage(t *testing.T, dir, name string, width, height int) {
	t.Helper()
	if err := imaging.Save(createTestImage(width, height), filepath.Join(dir, name)); err != nil {
		t.Fatalf("Failed to save test image %s: %v", name, err)
	}
}

// writeTestFile writes content to dir/name.
func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

// readTestFile returns the content of path.
func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}

// testClasses returns the registry {0: person, 1: car}.
func testClasses(t *testing.T) *ClassRegistry {
	t.Helper()
	classes, err := ClassesFromNames([]string{"person", "car"})
	if err != nil {
		t.Fatalf("ClassesFromNames failed: %v", err)
	}
	return classes
}

// boxesNear reports whether all box values differ by at most tol and the spaces match.
func boxesNear(a, b BoundingBox, tol float64) bool {
	return a.Space == b.Space && math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol &&
		math.Abs(a.Width-b.Width) <= tol && math.Abs(a.Height-b.Height) <= tol
}
