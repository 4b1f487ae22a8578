// Package aggregate keeps the running rating statistics of every class session.
//
// Each topic owns a cell with an exact integer count and sum guarded by its own mutex, so
// concurrent submissions to different topics never contend and submissions to the same topic
// are linearized. Averages are derived from the integers on every read.
package aggregate

import (
	"fmt"
	"log"
	"sync"

	"anonfeedback/pkg/types"
)

// Aggregator holds one rating board per class
type Aggregator struct {
	boards map[string]*board // classID -> board
	mu     sync.RWMutex      // TECHNICAL: guards the map only, never held while a cell is locked for writing
}

// board is the set of topic cells of one class, indexed by topic ID - 1
type board struct {
	cells []*cell
}

type cell struct {
	mu    sync.Mutex
	name  string
	count int64
	sum   int64
}

// NewAggregator creates an empty aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{
		boards: make(map[string]*board),
	}
}

// Reset installs an empty board for the class, discarding any previous statistics
func (a *Aggregator) Reset(classID string, topics []types.Topic) error {
	b, err := newBoard(len(topics), func(i int) (int, string, int64, int64) {
		return topics[i].ID, topics[i].Name, 0, 0
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.boards[classID] = b
	a.mu.Unlock()
	return nil
}

// Restore installs a board rebuilt from stored aggregates
func (a *Aggregator) Restore(classID string, aggregates []types.TopicAggregate) error {
	b, err := newBoard(len(aggregates), func(i int) (int, string, int64, int64) {
		agg := aggregates[i]
		return agg.TopicID, agg.Name, agg.Count, agg.Sum
	})
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.boards[classID] = b
	a.mu.Unlock()
	return nil
}

func newBoard(n int, at func(i int) (id int, name string, count, sum int64)) (*board, error) {
	b := &board{cells: make([]*cell, n)}
	for i := 0; i < n; i++ {
		id, name, count, sum := at(i)
		if id != i+1 {
			return nil, fmt.Errorf("%w: position %d holds topic %d", ErrTopicIDSequence, i+1, id)
		}
		b.cells[i] = &cell{name: name, count: count, sum: sum}
	}
	return b, nil
}

// AddRating applies one score to a topic and returns the topic's new aggregate
func (a *Aggregator) AddRating(classID string, topicID int, score int) (types.RatingResult, error) {
	if err := types.ValidateScore(score); err != nil {
		return types.RatingResult{}, err
	}

	c, err := a.cell(classID, topicID)
	if err != nil {
		return types.RatingResult{}, err
	}

	c.mu.Lock()
	c.count++
	c.sum += int64(score)
	count, sum := c.count, c.sum
	c.mu.Unlock()

	return types.RatingResult{
		TopicID: topicID,
		Average: Average(sum, count),
		Count:   count,
	}, nil
}

// Snapshot returns the current statistics of every topic of the class in ID order
func (a *Aggregator) Snapshot(classID string) ([]types.TopicSummary, error) {
	b, err := a.board(classID)
	if err != nil {
		return nil, err
	}

	summaries := make([]types.TopicSummary, len(b.cells))
	for i, c := range b.cells {
		c.mu.Lock()
		count, sum := c.count, c.sum
		c.mu.Unlock()

		summaries[i] = types.TopicSummary{
			ID:      i + 1,
			Name:    c.name,
			Average: Average(sum, count),
			Count:   count,
		}
	}
	return summaries, nil
}

// Totals returns the rating count and the weighted average across all topics of the class
// Unknown classes report zeros
func (a *Aggregator) Totals(classID string) types.Totals {
	b, err := a.board(classID)
	if err != nil {
		return types.Totals{}
	}

	var count, sum int64
	for _, c := range b.cells {
		c.mu.Lock()
		count += c.count
		sum += c.sum
		c.mu.Unlock()
	}

	return types.Totals{
		TotalRatings:   count,
		OverallAverage: Average(sum, count),
	}
}

// Remove drops the board of a class
func (a *Aggregator) Remove(classID string) {
	a.mu.Lock()
	delete(a.boards, classID)
	a.mu.Unlock()
}

// GetStats returns aggregator statistics
func (a *Aggregator) GetStats() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	topics := 0
	for _, b := range a.boards {
		topics += len(b.cells)
	}
	return map[string]interface{}{
		"boards": len(a.boards),
		"topics": topics,
	}
}

func (a *Aggregator) board(classID string) (*board, error) {
	a.mu.RLock()
	b, exists := a.boards[classID]
	a.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBoardNotFound, classID)
	}
	return b, nil
}

func (a *Aggregator) cell(classID string, topicID int) (*cell, error) {
	b, err := a.board(classID)
	if err != nil {
		return nil, err
	}
	if topicID < 1 || topicID > len(b.cells) {
		return nil, fmt.Errorf("%w: class=%s topic=%d", ErrUnknownTopic, classID, topicID)
	}
	return b.cells[topicID-1], nil
}

// Average returns sum/count rounded half away from zero to two decimals, or 0 when count is 0
// TECHNICAL DISCOVERY: rounding is done on the exact integers so the result never depends on
// the order ratings arrived in or on float accumulation error
func Average(sum, count int64) float64 {
	if count <= 0 {
		if count < 0 {
			log.Printf("INVARIANT VIOLATION: negative rating count=%d sum=%d", count, sum)
		}
		return 0
	}

	negative := sum < 0
	if negative {
		sum = -sum
	}
	cents := (200*sum + count) / (2 * count)
	if negative {
		cents = -cents
	}
	return float64(cents) / 100
}
