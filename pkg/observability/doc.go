/*
Package observability turns engine lifecycle hooks into Prometheus metrics and structured logs.

Both are plain domain.LifecycleHooks values and can be merged:

	metrics, _ := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := metrics.Hooks().Merge(observability.LogHooks(logger))
*/
package observability
