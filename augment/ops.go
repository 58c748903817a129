package augment

import (
	"math"
	"math/rand/v2"
)

// maxLevel is the top of the severity scale.
const maxLevel = 10

// Op is a single image operation applied at a severity level.
type Op struct {
	Name  string
	Apply func(im Image, level int, rng *rand.Rand) Image
}

// DefaultOps are the operations sampled by AugMix chains. Color, contrast,
// brightness and sharpness overlap with the test-time corruptions and are not
// included.
var DefaultOps = []Op{
	{"autocontrast", autocontrast},
	{"equalize", equalize},
	{"posterize", posterize},
	{"rotate", rotate},
	{"solarize", solarize},
	{"shear_x", shearX},
	{"shear_y", shearY},
	{"translate_x", translateX},
	{"translate_y", translateY},
}

// intParameter scales level in [0, maxLevel] to an integer in [0, maxval].
func intParameter(level float64, maxval int) int {
	return int(level * float64(maxval) / maxLevel)
}

// floatParameter scales level in [0, maxLevel] to [0, maxval].
func floatParameter(level float64, maxval float64) float64 {
	return level * maxval / maxLevel
}

// sampleLevel draws a magnitude uniformly from [0.1, severity).
func sampleLevel(severity int, rng *rand.Rand) float64 {
	return 0.1 + rng.Float64()*(float64(severity)-0.1)
}

func randomSign(v float64, rng *rand.Rand) float64 {
	if rng.Float64() > 0.5 {
		return -v
	}
	return v
}

func autocontrast(im Image, _ int, _ *rand.Rand) Image {
	out := im.blank()
	for c := 0; c < im.Channels; c++ {
		src, dst := im.plane(c), out.plane(c)
		lo, hi := src[0], src[0]
		for _, v := range src {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi <= lo {
			copy(dst, src)
			continue
		}
		scale := 1 / (hi - lo)
		for i, v := range src {
			dst[i] = (v - lo) * scale
		}
	}
	return out
}

func equalize(im Image, _ int, _ *rand.Rand) Image {
	out := im.blank()
	for c := 0; c < im.Channels; c++ {
		src, dst := im.plane(c), out.plane(c)

		var hist [256]int
		for _, v := range src {
			hist[toByte(v)]++
		}
		var cdf [256]int
		total := 0
		cdfMin := -1
		for i, n := range hist {
			total += n
			cdf[i] = total
			if cdfMin < 0 && n > 0 {
				cdfMin = total
			}
		}
		if total == cdfMin {
			copy(dst, src)
			continue
		}
		denom := float32(total - cdfMin)
		for i, v := range src {
			dst[i] = float32(cdf[toByte(v)]-cdfMin) / denom
		}
	}
	return out
}

func posterize(im Image, level int, rng *rand.Rand) Image {
	bits := 4 - intParameter(sampleLevel(level, rng), 4)
	mask := ^((1 << (8 - bits)) - 1) & 0xff
	out := im.blank()
	for i, v := range im.Pix {
		out.Pix[i] = float32(toByte(v)&mask) / 255
	}
	return out
}

func solarize(im Image, level int, rng *rand.Rand) Image {
	threshold := 256 - intParameter(sampleLevel(level, rng), 256)
	out := im.blank()
	for i, v := range im.Pix {
		if toByte(v) >= threshold {
			out.Pix[i] = 1 - v
		} else {
			out.Pix[i] = v
		}
	}
	return out
}

func rotate(im Image, level int, rng *rand.Rand) Image {
	degrees := randomSign(float64(intParameter(sampleLevel(level, rng), 30)), rng)
	theta := degrees * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)
	cx := float64(im.Width-1) / 2
	cy := float64(im.Height-1) / 2
	return im.transform(func(x, y float64) (float64, float64) {
		dx, dy := x-cx, y-cy
		return cos*dx + sin*dy + cx, -sin*dx + cos*dy + cy
	})
}

func shearX(im Image, level int, rng *rand.Rand) Image {
	k := randomSign(floatParameter(sampleLevel(level, rng), 0.3), rng)
	return im.transform(func(x, y float64) (float64, float64) {
		return x + k*y, y
	})
}

func shearY(im Image, level int, rng *rand.Rand) Image {
	k := randomSign(floatParameter(sampleLevel(level, rng), 0.3), rng)
	return im.transform(func(x, y float64) (float64, float64) {
		return x, y + k*x
	})
}

func translateX(im Image, level int, rng *rand.Rand) Image {
	d := randomSign(float64(intParameter(sampleLevel(level, rng), im.Width/3)), rng)
	return im.transform(func(x, y float64) (float64, float64) {
		return x + d, y
	})
}

func translateY(im Image, level int, rng *rand.Rand) Image {
	d := randomSign(float64(intParameter(sampleLevel(level, rng), im.Height/3)), rng)
	return im.transform(func(x, y float64) (float64, float64) {
		return x, y + d
	})
}
