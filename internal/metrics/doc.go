/*
Package metrics exports sshfs measurements to Prometheus.

Collector implements types.MetricsCollector. The bridge boundary adapter
reports every callback with the NT status it returned, the cache reports
hits and misses per kind, the write-lock coordinator reports each round
trip and the drive reports its lifecycle state.

Series, all under the configured namespace:

	operations_total{operation,status}
	operation_duration_seconds{operation}
	operation_size_bytes{operation}
	cache_requests_total{kind,result}
	errors_total{operation,type}
	lock_requests_total{op,outcome}
	drive_status{drive}

Start serves the registry on Config.Path together with /health and
/debug/operations.
*/
package metrics
