package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WritesApplied counts snapshots written to (or deleted from) the store.
	WritesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_persistence_writes_applied_total",
			Help: "Total number of cart snapshots applied to the durable store",
		},
		[]string{"key"},
	)

	// WriteFailures counts failed write attempts, including retried ones.
	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_persistence_write_failures_total",
			Help: "Total number of failed durable store write attempts",
		},
		[]string{"key"},
	)

	// SnapshotsCoalesced counts snapshots replaced by a newer one before being written.
	SnapshotsCoalesced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_persistence_snapshots_coalesced_total",
			Help: "Total number of cart snapshots superseded before reaching the store",
		},
		[]string{"key"},
	)

	// AppliedVersion is the version of the newest snapshot in the store.
	AppliedVersion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cart_persistence_applied_version",
			Help: "Version stamp of the newest cart snapshot applied to the durable store",
		},
		[]string{"key"},
	)

	// MalformedLoads counts loads that found unreadable data and started empty.
	MalformedLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_persistence_malformed_loads_total",
			Help: "Total number of loads that discarded malformed persisted data",
		},
		[]string{"key"},
	)
)
