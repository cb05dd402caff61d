// Package publish is the durable sink for matches: FoundItem messages are
// published to a NATS JetStream stream, which owns delivery durability and
// retries downstream.
package publish
