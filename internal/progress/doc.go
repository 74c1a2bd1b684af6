// Package progress adapts orchestration progress events to external
// transports: Redis pub/sub, a RabbitMQ topic exchange, or the log.
package progress
