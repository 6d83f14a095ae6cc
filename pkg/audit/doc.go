// Package audit records the delivery trail of outbound email (queued, sent,
// requeued, quarantined, restored, transport outages) and forwards it to
// configured sinks: the structured log and a Kafka topic.
package audit
