package core

import (
	"github.com/rs/xid"

	"molder/internal/types"
)

// recordEject counts the part that was just blown off the mold and
// persists the total synchronously. A failed save keeps the counts and
// leaves the total pending for retry on the following ticks.
func (c *Controller) recordEject() {
	c.partCount++
	c.totalCount++
	c.persistTotalCount()

	s := c.thresholds.settings
	rec := types.CycleRecord{
		ID:          xid.New().String(),
		PartCount:   c.partCount,
		TotalCount:  c.totalCount,
		CycleTime:   s.CycleTime,
		InjectTime:  s.InjectTime,
		OpenDelay:   s.OpenDelay,
		DoubleEject: s.DoubleEject,
		EjectedAt:   c.now(),
	}
	if err := c.redis.PublishCycleCompleted(rec); err != nil {
		c.logger.Warnf("Failed to publish cycle %s: %v", rec.ID, err)
	}
	c.logger.Infof("Part ejected: session=%d total=%d", c.partCount, c.totalCount)
}

// persistTotalCount writes the absolute total, so retries are idempotent.
func (c *Controller) persistTotalCount() {
	if err := c.store.SaveTotalCount(c.totalCount); err != nil {
		if !c.countPending {
			c.logger.Errorf("Failed to persist total count %d, will retry: %v", c.totalCount, err)
		}
		c.countPending = true
		c.raiseFault(types.FaultCountPersist, "total count not persisted")
		return
	}

	if c.countPending {
		c.logger.Infof("Total count %d persisted after retry", c.totalCount)
		c.countPending = false
	}
	c.clearFault(types.FaultCountPersist)
}

func (c *Controller) retryPendingCount() {
	c.persistTotalCount()
}
