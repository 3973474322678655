package types

// Telemetry metric names for CloudWatch.
const (
	MetricAPILatency      = "APILatency"
	MetricAPIRequestCount = "APIRequestCount"
	MetricLowAvailability = "LowAvailability"

	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"

	MetricNamespace = "CrowdPark"
)
