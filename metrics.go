package personsearch

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTrainStep is called after each training step.
	// duration is the total time taken, err is nil if successful.
	RecordTrainStep(duration time.Duration, err error)

	// RecordGallery is called after each gallery inference.
	// regions is the number of regions returned.
	RecordGallery(regions int, duration time.Duration, err error)

	// RecordQuery is called after each query inference.
	RecordQuery(duration time.Duration, err error)

	// RecordCheckpoint is called after each checkpoint publication.
	RecordCheckpoint(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrainStep(time.Duration, error)    {}
func (NoopMetricsCollector) RecordGallery(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordQuery(time.Duration, error)        {}
func (NoopMetricsCollector) RecordCheckpoint(time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainStepCount      atomic.Int64
	TrainStepErrors     atomic.Int64
	TrainStepTotalNanos atomic.Int64
	GalleryCount        atomic.Int64
	GalleryErrors       atomic.Int64
	GalleryRegions      atomic.Int64
	GalleryTotalNanos   atomic.Int64
	QueryCount          atomic.Int64
	QueryErrors         atomic.Int64
	QueryTotalNanos     atomic.Int64
	CheckpointCount     atomic.Int64
	CheckpointErrors    atomic.Int64
}

// RecordTrainStep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrainStep(duration time.Duration, err error) {
	b.TrainStepCount.Add(1)
	b.TrainStepTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TrainStepErrors.Add(1)
	}
}

// RecordGallery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGallery(regions int, duration time.Duration, err error) {
	b.GalleryCount.Add(1)
	b.GalleryRegions.Add(int64(regions))
	b.GalleryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.GalleryErrors.Add(1)
	}
}

// RecordQuery implements MetricsCollector.
func (b *BasicMetricsCollector) RecordQuery(duration time.Duration, err error) {
	b.QueryCount.Add(1)
	b.QueryTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.QueryErrors.Add(1)
	}
}

// RecordCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCheckpoint(duration time.Duration, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainStepCount:    b.TrainStepCount.Load(),
		TrainStepErrors:   b.TrainStepErrors.Load(),
		TrainStepAvgNanos: avgNanos(&b.TrainStepTotalNanos, &b.TrainStepCount),
		GalleryCount:      b.GalleryCount.Load(),
		GalleryErrors:     b.GalleryErrors.Load(),
		GalleryRegions:    b.GalleryRegions.Load(),
		GalleryAvgNanos:   avgNanos(&b.GalleryTotalNanos, &b.GalleryCount),
		QueryCount:        b.QueryCount.Load(),
		QueryErrors:       b.QueryErrors.Load(),
		QueryAvgNanos:     avgNanos(&b.QueryTotalNanos, &b.QueryCount),
		CheckpointCount:   b.CheckpointCount.Load(),
		CheckpointErrors:  b.CheckpointErrors.Load(),
	}
}

func avgNanos(total, count *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainStepCount    int64
	TrainStepErrors   int64
	TrainStepAvgNanos int64
	GalleryCount      int64
	GalleryErrors     int64
	GalleryRegions    int64
	GalleryAvgNanos   int64
	QueryCount        int64
	QueryErrors       int64
	QueryAvgNanos     int64
	CheckpointCount   int64
	CheckpointErrors  int64
}
