package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// entriesCreated counts entries written through the allocator by source
	entriesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrack_entries_created_total",
		Help: "Entries created by kind and source (manual, carry_forward)",
	}, []string{"kind", "source"})

	// carryForwardGroups counts per-group carry-forward outcomes
	carryForwardGroups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrack_carry_forward_groups_total",
		Help: "Carry-forward source groups by kind and result (copied, skipped, error)",
	}, []string{"kind", "result"})

	// batchStatusUpdates counts per-id batch status outcomes
	batchStatusUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qtrack_batch_status_updates_total",
		Help: "Batch status updates by result (updated, not_found, error)",
	}, []string{"result"})
)
