package mixing

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-mixtrain/trainerr"
)

// Method selects the sample-mixing strategy for a whole run.
type Method int

const (
	MethodNone Method = iota
	MethodMixup
	MethodCutMix
	MethodMatrix
	MethodAugMix
)

// Methods lists every supported method in declaration order.
var Methods = []Method{MethodNone, MethodMixup, MethodCutMix, MethodMatrix, MethodAugMix}

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodMixup:
		return "mixup"
	case MethodCutMix:
		return "cutmix"
	case MethodMatrix:
		return "matrix"
	case MethodAugMix:
		return "augmix"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// Kind returns the plan variant the method produces.
func (m Method) Kind() Kind {
	switch m {
	case MethodNone:
		return KindIdentity
	case MethodMixup:
		return KindPairwiseInterpolate
	case MethodCutMix:
		return KindRegionSwap
	case MethodMatrix:
		return KindThreeWaySplit
	case MethodAugMix:
		return KindPreprocessOnly
	default:
		return KindUnknown
	}
}

var methodAliases = map[string]Method{
	"none":     MethodNone,
	"baseline": MethodNone,
	"identity": MethodNone,
	"mixup":    MethodMixup,
	"ori":      MethodMixup,
	"cutmix":   MethodCutMix,
	"matrix":   MethodMatrix,
	"augmix":   MethodAugMix,
}

// ParseMethod resolves a configured method name. Matching is case-insensitive;
// unknown names are a configuration error.
func ParseMethod(name string) (Method, error) {
	m, ok := methodAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, trainerr.Configuration("mixup", "unknown mixing method %q (expected one of none, mixup, cutmix, matrix, augmix)", name)
	}
	return m, nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	if m.Kind() == KindUnknown {
		return nil, trainerr.Configuration("mixup", "cannot encode unknown method %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
