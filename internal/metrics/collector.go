package metrics

import (
	"time"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// StatsProvider supplies the gallery content counts that the collector
// exports as gauges.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current index content counts.
type Stats struct {
	FilesByType       map[string]int
	TotalFavorites    int
	FilesWithWorkflow int
}

// Collector periodically collects and updates content metrics.
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop.
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection.
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	for mediaType, count := range stats.FilesByType {
		IndexedFilesTotal.WithLabelValues(mediaType).Set(float64(count))
	}
	IndexedFavoritesTotal.Set(float64(stats.TotalFavorites))
	FilesWithWorkflowTotal.Set(float64(stats.FilesWithWorkflow))

	logging.Debug("Metrics collected: types=%d, favorites=%d, with_workflow=%d",
		len(stats.FilesByType), stats.TotalFavorites, stats.FilesWithWorkflow)
}
