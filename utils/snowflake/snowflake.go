// Package snowflake generates unique, time-ordered message ids: a
// 41-bit millisecond timestamp, a worker id, and a per-millisecond
// sequence.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Epoch is the custom epoch (January 1, 2024 00:00:00 UTC) in
	// milliseconds.
	Epoch int64 = 1704067200000

	DefaultWorkerIDBits uint8 = 10
	DefaultSequenceBits uint8 = 12
)

var (
	ErrInvalidWorkerID      = errors.New("worker ID exceeds maximum value")
	ErrClockMovedBackwards  = errors.New("clock moved backwards")
	ErrInvalidBitAllocation = errors.New("invalid bit allocation: total bits must not exceed 22")
)

// Generator produces snowflake ids. Safe for concurrent use.
type Generator struct {
	mu sync.Mutex

	epoch        int64
	workerID     int64
	workerIDBits uint8
	sequenceBits uint8

	timestampShift uint8
	sequenceMask   int64
	workerIDMask   int64

	sequence      int64
	lastTimestamp int64
}

// Config holds the generator settings; zero values take defaults.
type Config struct {
	Epoch        int64
	WorkerID     int64
	WorkerIDBits uint8
	SequenceBits uint8
}

func NewGenerator(config Config) (*Generator, error) {
	if config.WorkerIDBits == 0 {
		config.WorkerIDBits = DefaultWorkerIDBits
	}
	if config.SequenceBits == 0 {
		config.SequenceBits = DefaultSequenceBits
	}
	if config.Epoch == 0 {
		config.Epoch = Epoch
	}

	if config.WorkerIDBits+config.SequenceBits > 22 {
		return nil, ErrInvalidBitAllocation
	}

	g := &Generator{
		epoch:        config.Epoch,
		workerID:     config.WorkerID,
		workerIDBits: config.WorkerIDBits,
		sequenceBits: config.SequenceBits,
	}

	g.timestampShift = g.sequenceBits + g.workerIDBits
	g.sequenceMask = -1 ^ (-1 << g.sequenceBits)
	g.workerIDMask = -1 ^ (-1 << g.workerIDBits)

	if g.workerID > g.workerIDMask || g.workerID < 0 {
		return nil, ErrInvalidWorkerID
	}

	return g, nil
}

// NextID generates the next unique id.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	timestamp := currentTimestamp()
	if timestamp < g.lastTimestamp {
		return 0, ErrClockMovedBackwards
	}

	if timestamp == g.lastTimestamp {
		g.sequence = (g.sequence + 1) & g.sequenceMask
		if g.sequence == 0 {
			// Sequence overflow inside one millisecond.
			timestamp = waitNextMillis(g.lastTimestamp)
		}
	} else {
		g.sequence = 0
	}

	g.lastTimestamp = timestamp

	id := ((timestamp - g.epoch) << g.timestampShift) |
		(g.workerID << g.sequenceBits) |
		g.sequence

	return id, nil
}

// Timestamp extracts the millisecond timestamp from an id.
func (g *Generator) Timestamp(id int64) int64 {
	return (id >> g.timestampShift) + g.epoch
}

// WorkerID extracts the worker id from an id.
func (g *Generator) WorkerID(id int64) int64 {
	return (id >> g.sequenceBits) & g.workerIDMask
}

func currentTimestamp() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

func waitNextMillis(lastTimestamp int64) int64 {
	timestamp := currentTimestamp()
	for timestamp <= lastTimestamp {
		timestamp = currentTimestamp()
	}
	return timestamp
}
