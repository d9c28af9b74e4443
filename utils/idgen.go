// Package utils provides small helpers shared by the moderation packages.
package utils

import (
	"strconv"
	"sync"
	"time"
)

// ID prefixes per record kind.
const (
	PrefixLog    = "mlog"
	PrefixReport = "rpt"
)

// IDGenerator generates time-ordered unique IDs using a snowflake layout:
// 41 bits of milliseconds, 10 bits of node, 12 bits of sequence.
type IDGenerator struct {
	mu       sync.Mutex
	lastTime int64
	sequence int64
	nodeID   int64
	now      func() time.Time
}

// NewIDGenerator creates a generator for node 0.
func NewIDGenerator() *IDGenerator {
	return NewIDGeneratorWithNode(0)
}

// NewIDGeneratorWithNode creates a generator for a specific node. Instances
// sharing one database must use distinct node IDs.
func NewIDGeneratorWithNode(nodeID int64) *IDGenerator {
	return &IDGenerator{
		nodeID: nodeID & 0x3FF,
		now:    time.Now,
	}
}

// Generate returns a new decimal ID.
func (g *IDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastTime {
		// clock moved backwards; keep the sequence monotonic
		ms = g.lastTime
	}

	if ms == g.lastTime {
		g.sequence++
		if g.sequence >= 4096 {
			for ms <= g.lastTime {
				time.Sleep(100 * time.Microsecond)
				ms = g.now().UnixMilli()
			}
			g.sequence = 0
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = ms

	id := (ms << 22) | (g.nodeID << 12) | g.sequence
	return strconv.FormatInt(id, 10)
}

// GenerateWithPrefix returns prefix_<id>.
func (g *IDGenerator) GenerateWithPrefix(prefix string) string {
	return prefix + "_" + g.Generate()
}
