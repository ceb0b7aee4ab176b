package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ConnectionsEstablishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_connections_established_total",
		Help: "Total number of platform connections established via callback exchange.",
	})
	RefreshSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_token_refresh_success_total",
		Help: "Total number of successful token refreshes.",
	})
	RefreshFailureTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_token_refresh_failure_total",
		Help: "Total number of failed token refresh attempts.",
	})
	RateLimitRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_initiation_rate_limited_total",
		Help: "Total number of authorization initiations rejected by the rate limiter.",
	})
	StateRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "connect_state_rejected_total",
		Help: "Total number of callbacks rejected for invalid, expired, or replayed state.",
	})
)

// Register attaches the custom collectors to the given registerer. It should
// be called once at application startup.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		ConnectionsEstablishedTotal,
		RefreshSuccessTotal,
		RefreshFailureTotal,
		RateLimitRejectedTotal,
		StateRejectedTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric collector")
		}
	}
}
