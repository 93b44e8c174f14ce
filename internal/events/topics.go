package events

// Topic constants for domain events emitted by the payments backend.
const (
	TopicOrderPaid     = "order.paid"
	TopicPaymentFailed = "payment.failed"
)

// DefaultTopics returns the topics that external notifiers subscribe to.
func DefaultTopics() []string {
	return []string{TopicOrderPaid, TopicPaymentFailed}
}
