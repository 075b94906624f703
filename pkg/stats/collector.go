package stats

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// OperationType defines the type of operation being tracked
type OperationType string

const (
	OpWrite     OperationType = "write"
	OpRead      OperationType = "read"
	OpRange     OperationType = "range"
	OpRollover  OperationType = "rollover"
	OpIndexGrow OperationType = "index_grow"
	OpOpen      OperationType = "open"
	OpClose     OperationType = "close"
)

// opStats holds every counter kept for one operation type
type opStats struct {
	count  atomic.Uint64
	lastNs atomic.Int64

	// latency, only fed by TrackOperationWithLatency
	timed atomic.Uint64
	sum   atomic.Uint64
	max   atomic.Uint64
	min   atomic.Uint64 // 0 until the first sample
}

// AtomicCollector collects statistics with atomic counters. The only lock
// is taken when an operation or error type is seen for the first time.
type AtomicCollector struct {
	ops   map[OperationType]*opStats
	opsMu sync.RWMutex

	errors   map[string]*atomic.Uint64
	errorsMu sync.RWMutex

	totalBytesRead    atomic.Uint64
	totalBytesWritten atomic.Uint64
	readMisses        atomic.Uint64
}

// NewAtomicCollector creates a new atomic statistics collector
func NewAtomicCollector() *AtomicCollector {
	return &AtomicCollector{
		ops:    make(map[OperationType]*opStats),
		errors: make(map[string]*atomic.Uint64),
	}
}

// TrackOperation increments the counter for the specified operation type
func (c *AtomicCollector) TrackOperation(op OperationType) {
	s := c.getOrCreateOp(op)
	s.count.Add(1)
	s.lastNs.Store(time.Now().UnixNano())
}

// TrackOperationWithLatency tracks an operation and its latency
func (c *AtomicCollector) TrackOperationWithLatency(op OperationType, latencyNs uint64) {
	s := c.getOrCreateOp(op)
	s.count.Add(1)
	s.lastNs.Store(time.Now().UnixNano())

	s.timed.Add(1)
	s.sum.Add(latencyNs)

	for {
		current := s.max.Load()
		if latencyNs <= current || s.max.CompareAndSwap(current, latencyNs) {
			break
		}
	}

	for {
		current := s.min.Load()
		if current != 0 && latencyNs >= current {
			break
		}
		if s.min.CompareAndSwap(current, latencyNs) {
			break
		}
	}
}

// TrackError increments the counter for the specified error type
func (c *AtomicCollector) TrackError(errorType string) {
	c.errorsMu.RLock()
	counter, exists := c.errors[errorType]
	c.errorsMu.RUnlock()

	if !exists {
		c.errorsMu.Lock()
		if counter, exists = c.errors[errorType]; !exists {
			counter = &atomic.Uint64{}
			c.errors[errorType] = counter
		}
		c.errorsMu.Unlock()
	}

	counter.Add(1)
}

// TrackBytes adds the specified number of bytes to the read or write counter
func (c *AtomicCollector) TrackBytes(isWrite bool, bytes uint64) {
	if isWrite {
		c.totalBytesWritten.Add(bytes)
	} else {
		c.totalBytesRead.Add(bytes)
	}
}

// TrackMiss counts a read of an absent key
func (c *AtomicCollector) TrackMiss() {
	c.readMisses.Add(1)
}

// GetStats returns all statistics as a map
func (c *AtomicCollector) GetStats() map[string]interface{} {
	stats := make(map[string]interface{})

	c.opsMu.RLock()
	for op, s := range c.ops {
		name := string(op)
		stats[name+"_ops"] = s.count.Load()
		if last := s.lastNs.Load(); last > 0 {
			stats["last_"+name+"_time"] = last
		}

		timed := s.timed.Load()
		if timed == 0 {
			continue
		}
		latency := map[string]interface{}{
			"count":  timed,
			"avg_ns": s.sum.Load() / timed,
		}
		if min := s.min.Load(); min != 0 {
			latency["min_ns"] = min
		}
		if max := s.max.Load(); max != 0 {
			latency["max_ns"] = max
		}
		stats[name+"_latency"] = latency
	}
	c.opsMu.RUnlock()

	stats["total_bytes_read"] = c.totalBytesRead.Load()
	stats["total_bytes_written"] = c.totalBytesWritten.Load()
	stats["read_misses"] = c.readMisses.Load()

	c.errorsMu.RLock()
	errorStats := make(map[string]uint64, len(c.errors))
	for errType, counter := range c.errors {
		errorStats[errType] = counter.Load()
	}
	c.errorsMu.RUnlock()
	stats["errors"] = errorStats

	return stats
}

// GetStatsFiltered returns statistics filtered by prefix
func (c *AtomicCollector) GetStatsFiltered(prefix string) map[string]interface{} {
	filtered := make(map[string]interface{})
	for key, value := range c.GetStats() {
		if strings.HasPrefix(key, prefix) {
			filtered[key] = value
		}
	}
	return filtered
}

func (c *AtomicCollector) getOrCreateOp(op OperationType) *opStats {
	c.opsMu.RLock()
	s, exists := c.ops[op]
	c.opsMu.RUnlock()

	if !exists {
		c.opsMu.Lock()
		if s, exists = c.ops[op]; !exists {
			s = &opStats{}
			c.ops[op] = s
		}
		c.opsMu.Unlock()
	}

	return s
}
