package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	loginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portalauth_logins_total",
		Help: "Completed login callbacks by provider and result",
	}, []string{"provider", "result"})

	tokenExchanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portalauth_token_exchanges_total",
		Help: "Authorization-code exchanges by provider and result",
	}, []string{"provider", "result"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portalauth_token_refreshes_total",
		Help: "Refresh-token exchanges by provider and result",
	}, []string{"provider", "result"})

	discoveryFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portalauth_discovery_fetches_total",
		Help: "Discovery document fetches by provider and result",
	}, []string{"provider", "result"})
)

// RegisterMetrics registers the flow counters on the given registry, or the
// default one when nil. Re-registration is tolerated so tests can call it
// repeatedly.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{loginAttempts, tokenExchanges, tokenRefreshes, discoveryFetches} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
