package jobs

import "github.com/eksporyuk/backend/internal/queue"

// RegisterAllJobHandlers registers all job handlers with the processor
func RegisterAllJobHandlers(p *queue.JobProcessor, fulfillmentJob *FulfillmentJob, reconcileJob *ReconcileJob) {
	p.RegisterHandler(queue.QueueFulfillment, fulfillmentJob.Handle)
	p.RegisterHandler(queue.QueueReconcile, reconcileJob.Handle)
}
