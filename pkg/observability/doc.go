/*
Package observability turns engine lifecycle hooks into logs and Prometheus metrics.

Hooks from several sources can be combined with Chain:

	hooks := observability.Chain(
		observability.LoggingHooks(logger),
		observability.NewMetrics(prometheus.DefaultRegisterer).Hooks(),
	)
*/
package observability
