package chunker

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/tessera/digest"
)

// ErrInvalidPlan is returned when a plan is not ordered, contiguous and
// gapless, or contains an empty range.
var ErrInvalidPlan = errors.New("invalid chunk plan")

// ErrRangeOutOfBounds is returned when a range reaches past the source.
var ErrRangeOutOfBounds = errors.New("chunk range out of source bounds")

// Range is the half-open byte range [Start, End) of a source.
type Range struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Len returns End - Start.
func (r Range) Len() int { return r.End - r.Start }

// Contains reports whether offset lies within the range.
func (r Range) Contains(offset int) bool {
	return offset >= r.Start && offset < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Chunk is a materialized range with its bytes and fingerprint.
// Chunks are immutable once created.
type Chunk struct {
	Index       int
	Range       Range
	Data        []byte
	Fingerprint digest.Fingerprint
}

// ValidateRanges checks that ranges partition [0, size): the first range
// starts at 0, each range starts where the previous ended, no range is
// empty and the last range ends at size.
func ValidateRanges(ranges []Range, size int) error {
	if size == 0 {
		if len(ranges) != 0 {
			return fmt.Errorf("%w: %d ranges for an empty source", ErrInvalidPlan, len(ranges))
		}
		return nil
	}
	if len(ranges) == 0 {
		return fmt.Errorf("%w: no ranges for a %d-byte source", ErrInvalidPlan, size)
	}

	next := 0
	for i, r := range ranges {
		if r.Start != next {
			return fmt.Errorf("%w: range %d %s starts at %d, want %d", ErrInvalidPlan, i, r, r.Start, next)
		}
		if r.End <= r.Start {
			return fmt.Errorf("%w: range %d %s is empty", ErrInvalidPlan, i, r)
		}
		if r.End > size {
			return fmt.Errorf("%w: range %d %s exceeds source length %d", ErrRangeOutOfBounds, i, r, size)
		}
		next = r.End
	}
	if next != size {
		return fmt.Errorf("%w: plan ends at %d, source length is %d", ErrInvalidPlan, next, size)
	}
	return nil
}

// Materialize copies each range out of src and fingerprints it.
// The plan is validated first; src is never retained.
func Materialize(src []byte, ranges []Range) ([]Chunk, error) {
	if err := ValidateRanges(ranges, len(src)); err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(ranges))
	for i, r := range ranges {
		data := make([]byte, r.Len())
		copy(data, src[r.Start:r.End])
		chunks[i] = Chunk{
			Index:       i,
			Range:       r,
			Data:        data,
			Fingerprint: digest.Chunk(data),
		}
	}
	return chunks, nil
}

// Split runs detection and materialization in one step.
func Split(d *Detector, src []byte) ([]Chunk, error) {
	return Materialize(src, d.Detect(src))
}
