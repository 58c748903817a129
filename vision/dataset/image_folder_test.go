package dataset

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// createTestImageFolder writes count solid PNGs per class under root/<class>/.
func createTestImageFolder(t *testing.T, root string, classes []string, count int) {
	t.Helper()
	for ci, class := range classes {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < count; i++ {
			img := image.NewRGBA(image.Rect(0, 0, 6, 6))
			for y := 0; y < 6; y++ {
				for x := 0; x < 6; x++ {
					img.Set(x, y, color.RGBA{uint8(ci * 100), 0, 0, 255})
				}
			}
			f, err := os.Create(filepath.Join(dir, imageName(i)))
			if err != nil {
				t.Fatal(err)
			}
			if err := png.Encode(f, img); err != nil {
				t.Fatal(err)
			}
			f.Close()
		}
	}
}

func imageName(i int) string {
	return string(rune('a'+i)) + ".png"
}

func TestNewImageFolderDataset(t *testing.T) {
	root := t.TempDir()
	createTestImageFolder(t, root, []string{"truck", "airplane"}, 3)
	// stray files at the root are not classes
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	ds, err := NewImageFolderDataset(root, 4, nil)
	if err != nil {
		t.Fatalf("NewImageFolderDataset failed: %v", err)
	}
	if ds.Len() != 6 || ds.NumClasses() != 2 {
		t.Fatalf("got %d items in %d classes", ds.Len(), ds.NumClasses())
	}
	if names := ds.ClassNames(); names[0] != "airplane" || names[1] != "truck" {
		t.Errorf("classes not sorted: %v", names)
	}

	pixels, label, err := ds.Get(3)
	if err != nil {
		t.Fatal(err)
	}
	if label != 1 {
		t.Errorf("expected label 1, got %d", label)
	}
	if len(pixels) != 3*4*4 {
		t.Errorf("expected %d values, got %d", 3*4*4, len(pixels))
	}
	if c, h, w := ds.Shape(); c != 3 || h != 4 || w != 4 {
		t.Errorf("unexpected shape %d×%d×%d", c, h, w)
	}
	if filepath.Base(ds.Key(0)) != "a.png" {
		t.Errorf("unexpected key %s", ds.Key(0))
	}
	if dist := ds.ClassDistribution(); dist["airplane"] != 3 || dist["truck"] != 3 {
		t.Errorf("unexpected distribution %v", dist)
	}
}

func TestImageFolderDatasetEmpty(t *testing.T) {
	if _, err := NewImageFolderDataset(t.TempDir(), 4, nil); err == nil {
		t.Error("expected error for empty directory")
	}
}

func TestImageFolderSplit(t *testing.T) {
	root := t.TempDir()
	createTestImageFolder(t, root, []string{"a", "b"}, 5)
	ds, err := NewImageFolderDataset(root, 4, nil)
	if err != nil {
		t.Fatal(err)
	}

	train, test := ds.Split(0.8, 42)
	if train.Len() != 8 || test.Len() != 2 {
		t.Fatalf("split sizes %d/%d", train.Len(), test.Len())
	}
	seen := map[string]bool{}
	for i := 0; i < train.Len(); i++ {
		seen[train.Key(i)] = true
	}
	for i := 0; i < test.Len(); i++ {
		if seen[test.Key(i)] {
			t.Errorf("%s in both splits", test.Key(i))
		}
	}

	again, _ := ds.Split(0.8, 42)
	for i := 0; i < train.Len(); i++ {
		if again.Key(i) != train.Key(i) {
			t.Fatal("split is not deterministic for a fixed seed")
		}
	}
}
