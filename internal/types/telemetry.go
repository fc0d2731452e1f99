package types

// CloudWatch metric names and dimensions.
const (
	MetricSweepDue         = "PMSweepDue"
	MetricSweepGenerated   = "PMSweepGenerated"
	MetricSweepStale       = "PMSweepStale"
	MetricSweepFailed      = "PMSweepFailed"
	MetricSweepToppedUp    = "PMSweepOccurrencesToppedUp"
	MetricSweepDuration    = "PMSweepDuration"
	MetricCompletionEvents = "PMCompletionEvents"
	MetricAPILatency       = "APILatency"
	MetricAPIRequestCount  = "APIRequestCount"

	DimEnvironment = "Environment"
	DimResult      = "Result"
	DimMethod      = "Method"
	DimEndpoint    = "Endpoint"
	DimStatus      = "Status"

	MetricNamespace = "FacilityPM"
)
