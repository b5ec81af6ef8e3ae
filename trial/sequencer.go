package trial

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
)

var (
	// ErrSequenceExhausted is returned once every planned trial is recorded.
	ErrSequenceExhausted = errors.New("sequence exhausted")

	// ErrOutOfOrder is returned when a measurement names a trial other
	// than the one most recently returned by Next.
	ErrOutOfOrder = errors.New("measurement out of order")
)

// Record is the measurement stored for one canonical trial.
type Record struct {
	Spec   Spec
	Values []float64
}

// Sequencer tracks progress through a randomized permutation of a fixed
// trial set. It is not safe for concurrent use.
type Sequencer struct {
	specs   []Spec
	order   []int
	cursor  int
	pending int // canonical index returned by Next, or -1
	records map[int][]float64
	rng     *rand.Rand
}

// NewSequencer creates a sequencer over specs. A nil rng uses the
// process-wide source. The initial order is the canonical order; call
// Shuffle to randomize it.
func NewSequencer(specs []Spec, rng *rand.Rand) *Sequencer {
	s := &Sequencer{
		specs:   specs,
		rng:     rng,
		pending: -1,
		records: make(map[int][]float64),
	}
	s.order = make([]int, len(specs))
	for i := range s.order {
		s.order[i] = i
	}
	return s
}

// Permutation returns a uniform random permutation of [0, n) built with
// the Fisher–Yates shuffle.
func Permutation(n int, rng *rand.Rand) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := n - 1; i > 0; i-- {
		var j int
		if rng != nil {
			j = rng.IntN(i + 1)
		} else {
			j = rand.IntN(i + 1)
		}
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Shuffle draws a new administration order, rewinds the cursor and
// discards all records.
func (s *Sequencer) Shuffle() []int {
	s.order = Permutation(len(s.specs), s.rng)
	s.cursor = 0
	s.pending = -1
	s.records = make(map[int][]float64)
	return s.Order()
}

// Next returns the trial at the cursor without advancing it and marks it
// pending.
func (s *Sequencer) Next() (Spec, error) {
	spec, err := s.Peek()
	if err != nil {
		return Spec{}, err
	}
	s.pending = spec.Index
	return spec, nil
}

// Peek returns the trial at the cursor without marking it pending.
func (s *Sequencer) Peek() (Spec, error) {
	if s.cursor >= len(s.order) {
		return Spec{}, ErrSequenceExhausted
	}
	return s.specs[s.order[s.cursor]], nil
}

// Mark makes index the pending trial. It must be the trial at the cursor.
func (s *Sequencer) Mark(index int) error {
	spec, err := s.Peek()
	if err != nil {
		return err
	}
	if spec.Index != index {
		return fmt.Errorf("%w: got trial %d, next trial is %d", ErrOutOfOrder, index, spec.Index)
	}
	s.pending = index
	return nil
}

// Record stores values for the canonical trial index and advances the
// cursor. index must be the trial most recently returned by Next.
func (s *Sequencer) Record(index int, values ...float64) error {
	if s.cursor >= len(s.order) {
		return ErrSequenceExhausted
	}
	if s.pending < 0 {
		return fmt.Errorf("%w: trial %d was not administered", ErrOutOfOrder, index)
	}
	if index != s.pending {
		return fmt.Errorf("%w: got trial %d, pending trial is %d", ErrOutOfOrder, index, s.pending)
	}
	v := make([]float64, len(values))
	copy(v, values)
	s.records[index] = v
	s.cursor++
	s.pending = -1
	return nil
}

// Pending returns the trial awaiting a measurement, if any.
func (s *Sequencer) Pending() (Spec, bool) {
	if s.pending < 0 {
		return Spec{}, false
	}
	return s.specs[s.pending], true
}

// Cursor returns the number of recorded trials.
func (s *Sequencer) Cursor() int { return s.cursor }

// Len returns the planned trial count.
func (s *Sequencer) Len() int { return len(s.specs) }

// Done reports whether every trial is recorded.
func (s *Sequencer) Done() bool { return s.cursor >= len(s.order) }

// Specs returns the trial set in canonical order.
func (s *Sequencer) Specs() []Spec {
	out := make([]Spec, len(s.specs))
	copy(out, s.specs)
	return out
}

// Order returns a copy of the administration order.
func (s *Sequencer) Order() []int {
	out := make([]int, len(s.order))
	copy(out, s.order)
	return out
}

// Records returns the stored measurements in ascending canonical order.
func (s *Sequencer) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for idx, values := range s.records {
		out = append(out, Record{Spec: s.specs[idx], Values: values})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.Index < out[j].Spec.Index })
	return out
}
