package metrics

// Namespace prefixes every metric exported by the service.
const Namespace = "taskdeck"

// HTTPDurationBuckets defines latency buckets for HTTP request duration metrics.
var HTTPDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// StreamDurationBuckets covers live progress connections, from seconds up to several hours.
var StreamDurationBuckets = []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200, 21600}
