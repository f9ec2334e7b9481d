// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_live_cache_lookups_total",
		Help: "Resource cache lookups by result (hit, miss, offline, unavailable, bypass)",
	}, []string{"result"})

	CacheInstallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_live_cache_installs_total",
		Help: "Cache generation installs by outcome",
	}, []string{"generation", "outcome"})

	CacheGenerationsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_live_cache_generations_deleted_total",
		Help: "Stale cache generations purged on activation",
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_live_notifications_total",
		Help: "Notifications displayed by channel (card, system, foreground, push)",
	}, []string{"channel"})

	SubscriptionStatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_live_subscription_states_total",
		Help: "Change subscription state transitions",
	}, []string{"state"})

	SyncReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_live_sync_replays_total",
		Help: "Outbox request replays by outcome",
	}, []string{"outcome"})
)

// IncCacheLookup records a resource cache lookup result.
func IncCacheLookup(result string) {
	if result == "" {
		result = "unknown"
	}
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// IncNotification records a displayed notification for the given channel.
func IncNotification(channel string) {
	if channel == "" {
		channel = "unknown"
	}
	NotificationsTotal.WithLabelValues(channel).Inc()
}

// IncSubscriptionState records a subscription state transition.
func IncSubscriptionState(state string) {
	SubscriptionStatesTotal.WithLabelValues(state).Inc()
}

// IncSyncReplay records an outbox replay outcome.
func IncSyncReplay(outcome string) {
	SyncReplaysTotal.WithLabelValues(outcome).Inc()
}
