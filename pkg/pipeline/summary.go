package pipeline

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxRecordedExceptions bounds the distinct exception messages kept per block.
	MaxRecordedExceptions = 20
	// MaxRecordedBatches bounds the batch indices kept per exception message.
	MaxRecordedBatches = 100
)

// BlockKind identifies the stage a block implements.
type BlockKind string

const (
	KindExtract   BlockKind = "extract"
	KindTransform BlockKind = "transform"
	KindLoad      BlockKind = "load"
)

// Exception is one failure message recorded by a block, with the batches it
// occurred on.
type Exception struct {
	Message string  `json:"message"`
	Count   int     `json:"count"`
	Batches []int64 `json:"batches"`
}

// BlockSummary is a snapshot of a block's counters.
type BlockSummary struct {
	Name            string      `json:"name"`
	Kind            BlockKind   `json:"kind"`
	Batches         int64       `json:"batches"`
	RowsExtracted   int64       `json:"rows_extracted"`
	RowsTransformed int64       `json:"rows_transformed"`
	RowsInserted    int64       `json:"rows_inserted"`
	RowsUpdated     int64       `json:"rows_updated"`
	Exceptions      []Exception `json:"exceptions,omitempty"`
}

// ExceptionCount returns the total number of failures recorded.
func (s BlockSummary) ExceptionCount() int {
	n := 0
	for _, e := range s.Exceptions {
		n += e.Count
	}
	return n
}

// PipelineSummary is the outcome of one pipeline invocation.
type PipelineSummary struct {
	RunID      string         `json:"run_id"`
	Name       string         `json:"name"`
	Container  string         `json:"container,omitempty"`
	Cluster    string         `json:"cluster"`
	Group      int            `json:"group"`
	Tags       []string       `json:"tags,omitempty"`
	Blocks     []BlockSummary `json:"blocks"`
	Errors     []string       `json:"errors,omitempty"`
	Skipped    bool           `json:"skipped,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   time.Duration  `json:"duration"`
}

// HasExceptions reports whether any block recorded a failure or the pipeline
// recorded an error.
func (s PipelineSummary) HasExceptions() bool {
	if len(s.Errors) > 0 {
		return true
	}
	for _, b := range s.Blocks {
		if len(b.Exceptions) > 0 {
			return true
		}
	}
	return false
}

// Inserted returns the rows inserted by all load blocks.
func (s PipelineSummary) Inserted() int64 {
	var n int64
	for _, b := range s.Blocks {
		n += b.RowsInserted
	}
	return n
}

// Updated returns the rows updated by all load blocks.
func (s PipelineSummary) Updated() int64 {
	var n int64
	for _, b := range s.Blocks {
		n += b.RowsUpdated
	}
	return n
}

// Block returns the summary of the named block.
func (s PipelineSummary) Block(name string) (BlockSummary, bool) {
	for _, b := range s.Blocks {
		if b.Name == name {
			return b, true
		}
	}
	return BlockSummary{}, false
}

// counters is the live, concurrency-safe accumulator behind a BlockSummary.
type counters struct {
	name string
	kind BlockKind

	batches     atomic.Int64
	extracted   atomic.Int64
	transformed atomic.Int64
	inserted    atomic.Int64
	updated     atomic.Int64

	mu         sync.Mutex
	exceptions map[string]*Exception
	order      []string
}

func newCounters(name string, kind BlockKind) *counters {
	return &counters{name: name, kind: kind, exceptions: make(map[string]*Exception)}
}

// nextBatch claims the index of the next batch.
func (c *counters) nextBatch() int64 {
	return c.batches.Add(1) - 1
}

func (c *counters) recordException(err error, batch int64) {
	msg := err.Error()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.exceptions[msg]
	if !ok {
		if len(c.order) >= MaxRecordedExceptions {
			return
		}
		e = &Exception{Message: msg}
		c.exceptions[msg] = e
		c.order = append(c.order, msg)
	}
	e.Count++
	if len(e.Batches) < MaxRecordedBatches {
		e.Batches = append(e.Batches, batch)
	}
}

func (c *counters) snapshot() BlockSummary {
	s := BlockSummary{
		Name:            c.name,
		Kind:            c.kind,
		Batches:         c.batches.Load(),
		RowsExtracted:   c.extracted.Load(),
		RowsTransformed: c.transformed.Load(),
		RowsInserted:    c.inserted.Load(),
		RowsUpdated:     c.updated.Load(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.order {
		e := *c.exceptions[msg]
		e.Batches = append([]int64(nil), e.Batches...)
		sort.Slice(e.Batches, func(i, j int) bool { return e.Batches[i] < e.Batches[j] })
		s.Exceptions = append(s.Exceptions, e)
	}
	return s
}
