package metrics

import "time"

type Observer interface {
	JobProcessed(queue string, elapsed time.Duration)
	JobFailed(queue string)
	EmailSent()
	DispatchDeferred(reason string)
	ClassificationResult(outcome string)
	SetQueueDepth(status string, n float64)
}
