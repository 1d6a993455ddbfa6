package channel

import (
	"context"
	"sync"
	"time"

	"github.com/Prabhat-190/trade/logger"
	"github.com/Prabhat-190/trade/models"
)

type ChannelStats struct {
	UpdatesSent    int64
	UpdatesDropped int64
	RecordsSent    int64
	RecordsDropped int64
}

// Channels carries the two data paths of the pipeline: Updates feeds the
// book keeper, Records feeds the capture writer.
type Channels struct {
	Updates chan models.BookUpdate
	Records chan models.EstimateRecord

	stats               ChannelStats
	statsMutex          sync.RWMutex
	log                 *logger.Log
	metricsReportTicker *time.Ticker
}

func NewChannels(updateBufferSize, recordBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Updates: make(chan models.BookUpdate, updateBufferSize),
		Records: make(chan models.EstimateRecord, recordBufferSize),
		log:     log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"update_buffer_size": updateBufferSize,
		"record_buffer_size": recordBufferSize,
	}).Info("channels initialized")

	return c
}

func (c *Channels) Close() {
	if c.metricsReportTicker != nil {
		c.metricsReportTicker.Stop()
	}
	close(c.Updates)
	close(c.Records)
	c.log.WithComponent("channels").Info("all channels closed")
}

func (c *Channels) IncrementUpdatesSent() {
	c.statsMutex.Lock()
	c.stats.UpdatesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementUpdatesDropped() {
	c.statsMutex.Lock()
	c.stats.UpdatesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRecordsSent() {
	c.statsMutex.Lock()
	c.stats.RecordsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRecordsDropped() {
	c.statsMutex.Lock()
	c.stats.RecordsDropped++
	c.statsMutex.Unlock()
}

// SendUpdate delivers one book update to the keeper. The send blocks when
// the buffer is full so backpressure reaches the socket read instead of
// dropping deltas; it returns false only once ctx is cancelled.
func (c *Channels) SendUpdate(ctx context.Context, u models.BookUpdate) bool {
	select {
	case c.Updates <- u:
		c.IncrementUpdatesSent()
		return true
	case <-ctx.Done():
		c.IncrementUpdatesDropped()
		return false
	}
}

// TrySendRecord offers one capture record to the writer without ever
// blocking the estimate path. Records are droppable.
func (c *Channels) TrySendRecord(ctx context.Context, r models.EstimateRecord) bool {
	select {
	case c.Records <- r:
		c.IncrementRecordsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRecordsDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

func (c *Channels) StartMetricsReporting(ctx context.Context) {
	c.metricsReportTicker = time.NewTicker(30 * time.Second)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.metricsReportTicker.Stop()
				return
			case <-c.metricsReportTicker.C:
				c.logChannelStats()
			}
		}
	}()
}

func (c *Channels) logChannelStats() {
	stats := c.GetStats()

	c.log.WithComponent("channels").WithFields(logger.Fields{
		"updates_sent":       stats.UpdatesSent,
		"updates_dropped":    stats.UpdatesDropped,
		"records_sent":       stats.RecordsSent,
		"records_dropped":    stats.RecordsDropped,
		"update_channel_len": len(c.Updates),
		"update_channel_cap": cap(c.Updates),
		"record_channel_len": len(c.Records),
		"record_channel_cap": cap(c.Records),
	}).Info("channel statistics")
}
