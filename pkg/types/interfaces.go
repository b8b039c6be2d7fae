package types

import (
	"time"
)

// MetricsCollector receives operational measurements from the bridge, the cache,
// the lock coordinator and the drive lifecycle.
type MetricsCollector interface {
	// RecordOperation records one callback operation and the status it returned.
	RecordOperation(operation string, status string, duration time.Duration, size int64)
	RecordCacheHit(kind string)
	RecordCacheMiss(kind string)
	RecordError(operation string, err error)
	// RecordLockRequest records one lock service round trip; outcome is success, failure or exhausted.
	RecordLockRequest(op string, outcome string)
	SetDriveStatus(drive string, status int)
	GetMetrics() map[string]interface{}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

// NopCollector discards everything.
type NopCollector struct{}

func (NopCollector) RecordOperation(string, string, time.Duration, int64) {}
func (NopCollector) RecordCacheHit(string)                                {}
func (NopCollector) RecordCacheMiss(string)                               {}
func (NopCollector) RecordError(string, error)                            {}
func (NopCollector) RecordLockRequest(string, string)                     {}
func (NopCollector) SetDriveStatus(string, int)                           {}
func (NopCollector) GetMetrics() map[string]interface{}                   { return map[string]interface{}{} }
