package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_heartbeats_total",
		Help: "Heartbeats recorded.",
	})
	presenceUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_updates_total",
		Help: "Presence updates applied.",
	})
	hiveJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_hive_joins_total",
		Help: "Successful hive joins.",
	})
	hiveLeavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_hive_leaves_total",
		Help: "Hive leaves that reached connection count zero.",
	})
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_events_published_total",
		Help: "Events handed to the broadcast pipeline, by type.",
	}, []string{"type"})
	sessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focus_sessions_started_total",
		Help: "Focus sessions started.",
	})
	sessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "focus_sessions_ended_total",
		Help: "Focus sessions reaching a terminal state, by outcome.",
	}, []string{"outcome"})
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sweeps_total",
		Help: "Completed sweep passes.",
	})
	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_evictions_total",
		Help: "Presence records evicted for stale heartbeats.",
	})
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sweep_errors_total",
		Help: "Per-record sweep failures that were skipped.",
	})
)
