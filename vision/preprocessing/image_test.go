package preprocessing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"
	"testing"
)

// createMockPNGImage creates a two-colour PNG: left half red, right half blue.
func createMockPNGImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < width/2 {
				img.Set(x, y, color.RGBA{255, 0, 0, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// TestNewImageProcessor tests ImageProcessor creation
func TestNewImageProcessor(t *testing.T) {
	processor := NewImageProcessor(32)
	if processor == nil {
		t.Fatal("Expected non-nil processor")
	}
	if processor.targetSize != 32 {
		t.Errorf("Expected target size 32, got %d", processor.targetSize)
	}
}

func TestDecodeAndPreprocessPNG(t *testing.T) {
	processor := NewImageProcessor(4)
	img, err := processor.DecodeAndPreprocess(bytes.NewReader(createMockPNGImage(t, 8, 8)))
	if err != nil {
		t.Fatalf("DecodeAndPreprocess failed: %v", err)
	}
	if img.Width != 4 || img.Height != 4 || img.Channels != 3 {
		t.Fatalf("Expected 3x4x4, got %dx%dx%d", img.Channels, img.Height, img.Width)
	}
	if len(img.Data) != 3*16 {
		t.Fatalf("Expected %d values, got %d", 3*16, len(img.Data))
	}

	// CHW layout: red plane first, blue plane last.
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			idx := y*4 + x
			wantRed, wantBlue := float32(1), float32(0)
			if x >= 2 {
				wantRed, wantBlue = 0, 1
			}
			if img.Data[idx] != wantRed {
				t.Errorf("red(%d,%d) = %v, want %v", x, y, img.Data[idx], wantRed)
			}
			if img.Data[16+idx] != 0 {
				t.Errorf("green(%d,%d) = %v, want 0", x, y, img.Data[16+idx])
			}
			if img.Data[32+idx] != wantBlue {
				t.Errorf("blue(%d,%d) = %v, want %v", x, y, img.Data[32+idx], wantBlue)
			}
		}
	}
}

func TestDecodeAndPreprocessJPEG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			src.Set(x, y, color.RGBA{128, 128, 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}

	img, err := NewImageProcessor(8).DecodeAndPreprocess(&buf)
	if err != nil {
		t.Fatalf("DecodeAndPreprocess failed: %v", err)
	}
	for i, v := range img.Data {
		if math.Abs(float64(v)-128.0/255.0) > 0.03 {
			t.Fatalf("pixel %d = %v, expected about %v", i, v, 128.0/255.0)
		}
	}
}

func TestDecodeAndPreprocessReturnsFreshSlices(t *testing.T) {
	processor := NewImageProcessor(4)
	data := createMockPNGImage(t, 8, 8)

	first, err := processor.DecodeAndPreprocess(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	first.Data[0] = -1
	second, err := processor.DecodeAndPreprocess(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if second.Data[0] != 1 {
		t.Errorf("second decode sees mutation of the first: %v", second.Data[0])
	}
}

func TestDecodeAndPreprocessErrors(t *testing.T) {
	if _, err := NewImageProcessor(4).DecodeAndPreprocess(strings.NewReader("not an image")); err == nil {
		t.Error("Expected error for invalid image data")
	}
	if _, err := NewImageProcessor(0).DecodeAndPreprocess(bytes.NewReader(createMockPNGImage(t, 2, 2))); err == nil {
		t.Error("Expected error for zero target size")
	}
}

func TestFromBytes(t *testing.T) {
	got := FromBytes([]byte{0, 51, 255})
	want := []float32{0, 0.2, 1}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("FromBytes[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
