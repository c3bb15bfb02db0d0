// Package snowflake generates sync job IDs: 64-bit, time-sortable,
// unique across worker nodes without coordination.
//
// Layout: 1 sign bit, 41 bits of milliseconds since the custom epoch,
// 10 bits of node ID, 12 bits of per-millisecond sequence.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	// Custom epoch: 2025-01-01 00:00:00 UTC
	epoch int64 = 1735689600000

	timestampBits = 41
	nodeIDBits    = 10
	sequenceBits  = 12

	maxNodeID   = (1 << nodeIDBits) - 1   // 1023
	maxSequence = (1 << sequenceBits) - 1 // 4095

	timestampShift = nodeIDBits + sequenceBits
	nodeIDShift    = sequenceBits
)

var (
	ErrInvalidNodeID  = errors.New("node ID must be between 0 and 1023")
	ErrClockMovedBack = errors.New("clock moved backwards")
)

// Generator generates unique snowflake IDs for one node.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	sequence int64
	lastTime int64
}

// NewGenerator creates a generator. nodeID must be between 0 and 1023.
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNodeID {
		return nil, ErrInvalidNodeID
	}
	return &Generator{nodeID: nodeID}, nil
}

// Generate returns a new unique ID.
func (g *Generator) Generate() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UnixMilli()

	if now < g.lastTime {
		return 0, ErrClockMovedBack
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			// Sequence exhausted for this millisecond
			for now <= g.lastTime {
				time.Sleep(100 * time.Microsecond)
				now = time.Now().UnixMilli()
			}
		}
	} else {
		g.sequence = 0
	}

	g.lastTime = now

	id := ((now - epoch) << timestampShift) |
		(g.nodeID << nodeIDShift) |
		g.sequence

	return id, nil
}

// MustGenerate generates a new ID and panics on error.
func (g *Generator) MustGenerate() int64 {
	id, err := g.Generate()
	if err != nil {
		panic(err)
	}
	return id
}

// Parse extracts components from an ID.
func Parse(id int64) (timestamp time.Time, nodeID int64, sequence int64) {
	ts := (id >> timestampShift) + epoch
	timestamp = time.UnixMilli(ts)
	nodeID = (id >> nodeIDShift) & maxNodeID
	sequence = id & maxSequence
	return
}

// Timestamp extracts the creation time from an ID.
func Timestamp(id int64) time.Time {
	return time.UnixMilli((id >> timestampShift) + epoch)
}

// =============================================================================
// Global Generator
// =============================================================================

var (
	globalGen  *Generator
	globalOnce sync.Once
	globalErr  error
)

// Init initializes the global generator. Call once at startup.
func Init(nodeID int64) error {
	globalOnce.Do(func() {
		globalGen, globalErr = NewGenerator(nodeID)
	})
	return globalErr
}

// ID generates a new ID using the global generator.
func ID() int64 {
	if globalGen == nil {
		panic("snowflake: global generator not initialized, call Init() first")
	}
	return globalGen.MustGenerate()
}
