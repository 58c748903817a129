package mixing

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Source is the single sequential random stream consumed by the strategies.
// Every draw goes through the same PCG state, so a fixed seed reproduces the
// exact sequence of lambdas, permutations and boxes.
type Source struct {
	pcg *rand.PCG
	rng *rand.Rand
}

// NewSource seeds a new stream.
func NewSource(seed int64) *Source {
	pcg := rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15)
	return &Source{pcg: pcg, rng: rand.New(pcg)}
}

// Float64 returns a uniform draw in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// IntN returns a uniform draw in [0, n).
func (s *Source) IntN(n int) int {
	return s.rng.IntN(n)
}

// Uint64 returns a uniform 64-bit draw, used to derive child streams.
func (s *Source) Uint64() uint64 {
	return s.rng.Uint64()
}

// Perm returns a uniformly random permutation of [0, n).
func (s *Source) Perm(n int) []int {
	return s.rng.Perm(n)
}

// Beta draws from Beta(a, b) on the shared stream.
func (s *Source) Beta(a, b float64) float64 {
	return distuv.Beta{Alpha: a, Beta: b, Src: s.pcg}.Rand()
}

// RandSource exposes the underlying generator for distributions that take a rand.Source.
func (s *Source) RandSource() rand.Source {
	return s.pcg
}

// State serializes the generator position so a resumed run continues the stream.
func (s *Source) State() ([]byte, error) {
	state, err := s.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode random state: %w", err)
	}
	return state, nil
}

// Restore rewinds the generator to a position captured by State.
func (s *Source) Restore(state []byte) error {
	if err := s.pcg.UnmarshalBinary(state); err != nil {
		return fmt.Errorf("failed to decode random state: %w", err)
	}
	return nil
}
