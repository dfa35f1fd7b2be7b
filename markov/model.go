package markov

import (
	"fmt"
	"io"
	"slices"
	"sync"
)

// Model is a first-order byte transition-probability table.
// The zero value is an untrained model whose every query returns 0.
type Model struct {
	mu    sync.RWMutex
	table map[byte]map[byte]float64
}

// New returns an untrained model.
func New() *Model {
	return &Model{}
}

// Train replaces the table with one learned from corpus.
// Each adjacent pair (corpus[i], corpus[i+1]) is counted once; counts are
// then normalized by the total number of transitions out of each source
// byte. A corpus shorter than two bytes leaves the table empty.
func (m *Model) Train(corpus []byte) {
	counts := make(map[byte]map[byte]int)
	totals := make(map[byte]int)
	for i := 0; i+1 < len(corpus); i++ {
		a, b := corpus[i], corpus[i+1]
		row, ok := counts[a]
		if !ok {
			row = make(map[byte]int)
			counts[a] = row
		}
		row[b]++
		totals[a]++
	}

	table := make(map[byte]map[byte]float64, len(counts))
	for a, row := range counts {
		probs := make(map[byte]float64, len(row))
		total := float64(totals[a])
		for b, n := range row {
			probs[b] = float64(n) / total
		}
		table[a] = probs
	}

	m.mu.Lock()
	m.table = table
	m.mu.Unlock()
}

// TrainReader reads the whole of r and trains on it.
func (m *Model) TrainReader(r io.Reader) error {
	corpus, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read training corpus: %w", err)
	}
	m.Train(corpus)
	return nil
}

// Probability returns P(b | a). Unknown source bytes and transitions
// never observed return 0.
func (m *Model) Probability(a, b byte) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.table[a]
	if !ok {
		return 0
	}
	return row[b]
}

// Symbols returns the source bytes seen during training, ascending.
func (m *Model) Symbols() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbols := make([]byte, 0, len(m.table))
	for a := range m.table {
		symbols = append(symbols, a)
	}
	slices.Sort(symbols)
	return symbols
}

// Len returns the number of distinct source bytes in the table.
func (m *Model) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.table)
}
