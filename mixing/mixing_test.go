package mixing

import (
	"math"
	"reflect"
	"testing"

	"github.com/tsawler/go-mixtrain/tensor"
	"github.com/tsawler/go-mixtrain/trainerr"
)

// testBatch returns n distinct [c, h, w] images: every pixel of image i is i+1,
// plus a small positional offset so rows never coincide.
func testBatch(t *testing.T, n, c, h, w int) (*tensor.Tensor, []int) {
	t.Helper()
	images, err := tensor.Zeros([]int{n, c, h, w})
	if err != nil {
		t.Fatalf("failed to create batch: %v", err)
	}
	for i := 0; i < n; i++ {
		row := images.Row(i)
		for k := range row {
			row[k] = float32(i+1) + float32(k)*1e-3
		}
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i % 10
	}
	return images, labels
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		name     string
		expected Method
		wantErr  bool
	}{
		{"none", MethodNone, false},
		{"baseline", MethodNone, false},
		{"mixup", MethodMixup, false},
		{"ori", MethodMixup, false},
		{"CutMix", MethodCutMix, false},
		{"matrix", MethodMatrix, false},
		{"AugMix", MethodAugMix, false},
		{"manifold", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		m, err := ParseMethod(tt.name)
		if tt.wantErr {
			if !trainerr.IsConfiguration(err) {
				t.Errorf("ParseMethod(%q): expected configuration error, got %v", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseMethod(%q) failed: %v", tt.name, err)
			continue
		}
		if m != tt.expected {
			t.Errorf("ParseMethod(%q) = %s, expected %s", tt.name, m, tt.expected)
		}
	}
}

func TestNewStrategyKinds(t *testing.T) {
	images, labels := testBatch(t, 6, 3, 8, 8)
	for _, method := range Methods {
		s, err := NewStrategy(method, DefaultOptions(), NewSource(1))
		if err != nil {
			t.Fatalf("NewStrategy(%s) failed: %v", method, err)
		}
		if s.Method() != method {
			t.Errorf("strategy for %s reports method %s", method, s.Method())
		}
		plan, err := s.Apply(images, labels)
		if err != nil {
			t.Fatalf("%s Apply failed: %v", method, err)
		}
		if plan.Kind != method.Kind() {
			t.Errorf("%s produced %s plan, expected %s", method, plan.Kind, method.Kind())
		}
		if err := plan.Validate(len(labels)); err != nil {
			t.Errorf("%s produced invalid plan: %v", method, err)
		}
		if !reflect.DeepEqual(plan.AccuracyLabels(), labels) {
			t.Errorf("%s accuracy labels %v, expected %v", method, plan.AccuracyLabels(), labels)
		}
		if !plan.Images.SameShape(images) {
			t.Errorf("%s changed image shape to %v", method, plan.Images.Shape)
		}
	}

	if _, err := NewStrategy(Method(42), DefaultOptions(), NewSource(1)); !trainerr.IsConfiguration(err) {
		t.Errorf("expected configuration error for unknown method, got %v", err)
	}
	opts := DefaultOptions()
	opts.CutMixProb = 1.5
	if _, err := NewStrategy(MethodCutMix, opts, NewSource(1)); !trainerr.IsConfiguration(err) {
		t.Errorf("expected configuration error for cutmix_prob 1.5, got %v", err)
	}
}

func TestStrategiesDoNotMutateInput(t *testing.T) {
	images, labels := testBatch(t, 9, 3, 8, 8)
	orig := images.Clone()
	origLabels := append([]int(nil), labels...)

	opts := DefaultOptions()
	opts.CutMixProb = 1
	for _, method := range Methods {
		s, err := NewStrategy(method, opts, NewSource(7))
		if err != nil {
			t.Fatalf("NewStrategy(%s) failed: %v", method, err)
		}
		if _, err := s.Apply(images, labels); err != nil {
			t.Fatalf("%s Apply failed: %v", method, err)
		}
		if !images.Equal(orig) || !reflect.DeepEqual(labels, origLabels) {
			t.Fatalf("%s modified its input", method)
		}
	}
}

func TestMixupReproducible(t *testing.T) {
	images, labels := testBatch(t, 8, 1, 4, 4)

	run := func(seed int64) ([]float64, [][]int) {
		m := NewMixup(1.0, NewSource(seed))
		var lams []float64
		var perms [][]int
		for i := 0; i < 5; i++ {
			plan, err := m.Apply(images, labels)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			lams = append(lams, plan.Targets[0].Lambda)
			perms = append(perms, plan.Targets[0].Permutation)
		}
		return lams, perms
	}

	l1, p1 := run(42)
	l2, p2 := run(42)
	if !reflect.DeepEqual(l1, l2) || !reflect.DeepEqual(p1, p2) {
		t.Error("same seed should reproduce lambdas and permutations")
	}
	l3, _ := run(43)
	if reflect.DeepEqual(l1, l3) {
		t.Error("different seeds should produce different lambdas")
	}
	for _, lam := range l1 {
		if lam < 0 || lam > 1 {
			t.Errorf("lambda %v outside [0, 1]", lam)
		}
	}
}

func TestMixupInterpolation(t *testing.T) {
	images, labels := testBatch(t, 4, 1, 2, 2)
	plan, err := NewMixup(0.4, NewSource(3)).Apply(images, labels)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	target := plan.Targets[0]
	lam := float32(target.Lambda)
	for i, j := range target.Permutation {
		if target.LabelsB[i] != labels[j] {
			t.Errorf("row %d: LabelsB = %d, expected partner label %d", i, target.LabelsB[i], labels[j])
		}
		x, y, got := images.Row(i), images.Row(j), plan.Images.Row(i)
		for k := range got {
			want := lam*x[k] + (1-lam)*y[k]
			if math.Abs(float64(got[k]-want)) > 1e-5 {
				t.Fatalf("row %d pixel %d = %v, expected %v", i, k, got[k], want)
			}
		}
	}
}

func TestMixupNonPositiveAlpha(t *testing.T) {
	images, labels := testBatch(t, 5, 1, 2, 2)
	src := NewSource(9)
	before, _ := src.State()

	plan, err := NewMixup(0, src).Apply(images, labels)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if plan.Targets[0].Lambda != 1 {
		t.Errorf("expected lambda 1, got %v", plan.Targets[0].Lambda)
	}
	if !plan.Images.Equal(images) {
		t.Error("alpha <= 0 should leave the images unmixed")
	}
	after, _ := src.State()
	if !reflect.DeepEqual(before, after) {
		t.Error("alpha <= 0 should not consume random draws")
	}
}

func TestDominantMixup(t *testing.T) {
	images, labels := testBatch(t, 4, 1, 2, 2)
	m := NewDominantMixup(1.0, NewSource(11))
	for i := 0; i < 50; i++ {
		plan, err := m.Apply(images, labels)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if lam := plan.Targets[0].Lambda; lam < 0.5 || lam > 1 {
			t.Fatalf("dominant lambda %v outside [0.5, 1]", lam)
		}
	}
}

func TestCutMixDisabled(t *testing.T) {
	images, labels := testBatch(t, 6, 3, 8, 8)
	for _, tc := range []struct {
		name       string
		beta, prob float64
	}{
		{"zero beta", 0, 1},
		{"negative beta", -1, 1},
		{"zero probability", 1, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := NewCutMix(tc.beta, tc.prob, NewSource(5)).Apply(images, labels)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if plan.Kind != KindRegionSwap {
				t.Errorf("expected RegionSwap plan, got %s", plan.Kind)
			}
			if !plan.Images.Equal(images) {
				t.Error("inactive cutmix should return the unmixed batch")
			}
			target := plan.Targets[0]
			if target.Lambda != 1 {
				t.Errorf("expected lambda 1, got %v", target.Lambda)
			}
			if !reflect.DeepEqual(target.LabelsA, target.LabelsB) {
				t.Error("inactive cutmix should set LabelsB = LabelsA")
			}
			if !plan.Box.Empty() {
				t.Errorf("expected empty box, got %+v", plan.Box)
			}
		})
	}
}

func TestCutMixRegion(t *testing.T) {
	const w, h = 8, 6
	images, labels := testBatch(t, 5, 2, h, w)
	c := NewCutMix(1.0, 1.0, NewSource(21))

	for iter := 0; iter < 20; iter++ {
		plan, err := c.Apply(images, labels)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		box := plan.Box
		if box.X1 < 0 || box.X1 > box.X2 || box.X2 > w || box.Y1 < 0 || box.Y1 > box.Y2 || box.Y2 > h {
			t.Fatalf("box %+v out of bounds", box)
		}
		target := plan.Targets[0]
		wantLam := 1 - float64(box.Area())/float64(w*h)
		if math.Abs(target.Lambda-wantLam) > 1e-12 {
			t.Errorf("lambda %v, expected area-derived %v", target.Lambda, wantLam)
		}

		for i, j := range target.Permutation {
			for ch := 0; ch < 2; ch++ {
				for y := 0; y < h; y++ {
					for x := 0; x < w; x++ {
						got, _ := plan.Images.At(i, ch, y, x)
						inside := x >= box.X1 && x < box.X2 && y >= box.Y1 && y < box.Y2
						src := i
						if inside {
							src = j
						}
						want, _ := images.At(src, ch, y, x)
						if got != want {
							t.Fatalf("row %d (%d,%d,%d) = %v, expected %v from row %d", i, ch, y, x, got, want, src)
						}
					}
				}
			}
		}
	}
}

func TestClipBoxBounds(t *testing.T) {
	for _, size := range [][2]int{{32, 32}, {7, 5}, {1, 1}} {
		w, h := size[0], size[1]
		for cx := 0; cx < w; cx++ {
			for cy := 0; cy < h; cy++ {
				for _, cut := range []int{0, 1, w / 2, w, 2 * w} {
					box, err := ClipBox(cx, cy, cut, cut, w, h)
					if err != nil {
						t.Fatalf("ClipBox(%d, %d, %d) failed: %v", cx, cy, cut, err)
					}
					if box.X1 < 0 || box.X1 > box.X2 || box.X2 > w || box.Y1 < 0 || box.Y1 > box.Y2 || box.Y2 > h {
						t.Fatalf("box %+v outside %dx%d", box, w, h)
					}
				}
			}
		}
	}

	if _, err := RandBBox(0, 4, 0.5, NewSource(1)); !trainerr.IsDataShape(err) {
		t.Errorf("expected data shape error for zero width, got %v", err)
	}
}

func TestMatrixSplit(t *testing.T) {
	images, labels := testBatch(t, 10, 1, 4, 4)
	plan, err := NewMatrix(1.0, NewSource(8)).Apply(images, labels)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	ranges := [][2]int{{0, 3}, {3, 6}, {6, 10}}
	for i, r := range ranges {
		tg := plan.Targets[i]
		if tg.Start != r[0] || tg.End != r[1] {
			t.Errorf("target %d covers [%d, %d), expected %v", i, tg.Start, tg.End, r)
		}
	}
	if plan.Targets[0].Mixed() {
		t.Error("first third should carry no secondary labels")
	}
	if !plan.Targets[1].Mixed() || !plan.Targets[2].Mixed() {
		t.Error("second and third thirds should be mixed")
	}
	if plan.Targets[2].Lambda < 0.5 {
		t.Errorf("last third uses dominant mixup, got lambda %v", plan.Targets[2].Lambda)
	}
	for i := 0; i < 3; i++ {
		for k, v := range plan.Images.Row(i) {
			if v != images.Row(i)[k] {
				t.Fatalf("row %d of the first third was modified", i)
			}
		}
	}

	small, smallLabels := testBatch(t, 2, 1, 4, 4)
	if _, err := NewMatrix(1.0, NewSource(8)).Apply(small, smallLabels); !trainerr.IsDataShape(err) {
		t.Errorf("expected data shape error for batch of 2, got %v", err)
	}
}

func TestAugMixDeterministic(t *testing.T) {
	images, labels := testBatch(t, 6, 3, 8, 8)
	for i := range images.Data {
		images.Data[i] = float32(math.Mod(float64(images.Data[i]), 1))
	}

	apply := func(workers int) *Plan {
		opts := DefaultOptions()
		opts.Workers = workers
		s, err := NewStrategy(MethodAugMix, opts, NewSource(99))
		if err != nil {
			t.Fatalf("NewStrategy failed: %v", err)
		}
		plan, err := s.Apply(images, labels)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		return plan
	}

	serial := apply(1)
	parallel := apply(8)
	if !serial.Images.Equal(parallel.Images) {
		t.Error("augmix output should not depend on worker count")
	}
	if serial.Targets[0].Mixed() {
		t.Error("augmix should not produce secondary labels")
	}
	for _, v := range serial.Images.Data {
		if v < -1e-5 || v > 1+1e-5 {
			t.Fatalf("augmented pixel %v outside [0, 1]", v)
		}
	}
}

func TestSourceStateRoundTrip(t *testing.T) {
	src := NewSource(123)
	src.Beta(1, 1)
	state, err := src.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	a := []float64{src.Float64(), src.Beta(0.4, 0.4)}

	restored := NewSource(0)
	if err := restored.Restore(state); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	b := []float64{restored.Float64(), restored.Beta(0.4, 0.4)}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("restored stream diverged: %v vs %v", a, b)
	}
}

func TestPlanValidate(t *testing.T) {
	labels := []int{1, 2, 3, 4}
	good := &Plan{Kind: KindIdentity, Targets: []Target{singleTarget(labels)}}
	if err := good.Validate(4); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
	if err := good.Validate(5); !trainerr.IsDataShape(err) {
		t.Errorf("expected data shape error for short coverage, got %v", err)
	}

	gap := &Plan{Kind: KindThreeWaySplit, Targets: []Target{
		{Start: 0, End: 1, LabelsA: []int{1}, Lambda: 1},
		{Start: 2, End: 3, LabelsA: []int{3}, LabelsB: []int{1}, Lambda: 0.5},
		{Start: 3, End: 4, LabelsA: []int{4}, LabelsB: []int{2}, Lambda: 0.5},
	}}
	if err := gap.Validate(4); !trainerr.IsDataShape(err) {
		t.Errorf("expected data shape error for gap, got %v", err)
	}
}
