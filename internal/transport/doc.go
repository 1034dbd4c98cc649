// Package transport provides named, queue-like channels to remote services
// on top of a message broker, together with the pool that owns one broker
// connection per identity.
//
// Two brokers are supported: Redis (lists used as queues) for redis:// and
// host:port addresses, and an in-process broker for memory:// addresses.
package transport
