package chunker

import (
	"errors"
	"fmt"
	"math"

	"github.com/pithecene-io/tessera/digest"
	"github.com/pithecene-io/tessera/markov"
)

// DefaultThreshold is the default cut threshold. A junction transition
// with probability below it becomes a chunk boundary.
const DefaultThreshold = 0.05

// DefaultWindowSize is the default width of each detection window.
const DefaultWindowSize = 1 << 20

// ErrInvalidWindow is returned for a window size that is not positive.
var ErrInvalidWindow = errors.New("window size must be positive")

// ErrInvalidThreshold is returned for a threshold outside [0, 1].
var ErrInvalidThreshold = errors.New("threshold must be within [0, 1]")

// ErrNilModel is returned when no transition model is supplied.
var ErrNilModel = errors.New("transition model is required")

// Window is one of the two detection windows, reported to a
// WindowObserver for bookkeeping. Windows are never persisted.
type Window struct {
	Range
	// Fingerprint is the window-domain digest of the window bytes.
	Fingerprint digest.Fingerprint
}

// Junction describes one cut decision.
type Junction struct {
	// Left and Right are the two windows either side of the junction.
	Left, Right Window
	// Probability is P(src[Left.End] | src[Left.End-1]).
	Probability float64
	// Cut is true when a boundary was placed at Right.End.
	Cut bool
}

// WindowObserver receives every junction the detector scores.
type WindowObserver func(Junction)

// Option configures a Detector.
type Option func(*Detector)

// WithObserver registers fn to receive every scored junction.
// Window fingerprints are only computed when an observer is set.
func WithObserver(fn WindowObserver) Option {
	return func(d *Detector) {
		d.observer = fn
	}
}

// Detector places content-defined cut points. It holds no per-call
// state, so one Detector may serve concurrent Detect calls.
type Detector struct {
	model     *markov.Model
	window    int
	threshold float64
	observer  WindowObserver
}

// NewDetector validates the configuration and returns a detector.
func NewDetector(model *markov.Model, windowSize int, threshold float64, opts ...Option) (*Detector, error) {
	if model == nil {
		return nil, ErrNilModel
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindow, windowSize)
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}

	d := &Detector{
		model:     model,
		window:    windowSize,
		threshold: threshold,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// WindowSize returns the configured window size.
func (d *Detector) WindowSize() int { return d.window }

// Threshold returns the configured cut threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect returns the chunk plan for src: ordered, contiguous, non-empty
// ranges covering [0, len(src)). An empty source yields no ranges; a
// source shorter than two windows yields a single range.
func (d *Detector) Detect(src []byte) []Range {
	n := len(src)
	w := d.window

	var ranges []Range
	start := 0
	for i, j, k := 0, w, 2*w; k <= n; i, j, k = i+w, j+w, k+w {
		p := d.model.Probability(src[j-1], src[j])
		cut := p < d.threshold

		if d.observer != nil {
			d.observer(Junction{
				Left:        window(src, i, j),
				Right:       window(src, j, k),
				Probability: p,
				Cut:         cut,
			})
		}

		if cut {
			ranges = append(ranges, Range{Start: start, End: k})
			start = k
		}
	}

	if start < n {
		ranges = append(ranges, Range{Start: start, End: n})
	}
	return ranges
}

// Cuts returns the sorted cut offsets for src: the end offset of every
// range in its plan.
func (d *Detector) Cuts(src []byte) []int {
	ranges := d.Detect(src)
	cuts := make([]int, len(ranges))
	for i, r := range ranges {
		cuts[i] = r.End
	}
	return cuts
}

func window(src []byte, start, end int) Window {
	return Window{
		Range:       Range{Start: start, End: end},
		Fingerprint: digest.Sum(digest.DomainWindow, src[start:end]),
	}
}
