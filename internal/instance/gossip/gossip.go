// Package gossip is the Gossip & Partition Detector (spec.md §4.6 cadence
// table, §4.4 health entries): a shared hash of per-instance health
// entries with TTL, and the detect-partitions job's minority/supermajority
// inference over that hash.
package gossip

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/claudebench/claudebench/internal/observability"
	"github.com/claudebench/claudebench/internal/store"
)

// Entry is a single gossip:health hash field value.
type Entry struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"lastSeen"`
}

// Detector evaluates gossip:health and sets/clears the advisory
// partition:detected and partition:recovery flags (spec.md §4.7).
type Detector struct {
	adapter store.Adapter
}

func NewDetector(adapter store.Adapter) *Detector {
	return &Detector{adapter: adapter}
}

// Detect implements the detect-partitions job: with total>2 and
// healthy<total/2, flags a partition; with healthy>0.7*total, flags
// recovery. Grounded on spec.md §4.7/§8's boundary-behavior examples
// (5 instances/2 healthy -> detected; 4 of 5 healthy -> recovery).
func (d *Detector) Detect(ctx context.Context) (detected, recovering bool, err error) {
	raw, err := d.adapter.HGetAll(ctx, store.GossipHealthKey())
	if err != nil {
		return false, false, fmt.Errorf("gossip: detect: %w", err)
	}
	total := len(raw)
	if total == 0 {
		return false, false, nil
	}

	healthy := 0
	now := time.Now().UnixMilli()
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		if e.Status == "healthy" && now-e.LastSeen < 5*60*1000 {
			healthy++
		}
	}

	if total > 2 && 2*healthy < total {
		detected = true
		if err := d.adapter.Set(ctx, store.PartitionDetectedKey(), "true", 5*time.Minute); err != nil {
			return false, false, fmt.Errorf("gossip: set partition:detected: %w", err)
		}
		observability.PartitionDetected.Set(1)
	}
	if float64(healthy) > 0.7*float64(total) {
		recovering = true
		if err := d.adapter.Set(ctx, store.PartitionRecoveryKey(), "true", 5*time.Minute); err != nil {
			return false, false, fmt.Errorf("gossip: set partition:recovery: %w", err)
		}
		if !detected {
			observability.PartitionDetected.Set(0)
		}
	}
	return detected, recovering, nil
}
