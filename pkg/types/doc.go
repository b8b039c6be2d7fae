/*
Package types holds the small contracts shared between sshfs packages that would
otherwise import each other.

MetricsCollector is implemented by internal/metrics and consumed by the bridge,
the cache, the lock coordinator and the drive manager. NopCollector is the
default when metrics are disabled and the usual choice in tests.
*/
package types
