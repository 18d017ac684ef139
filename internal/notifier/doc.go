// Package notifier delivers rendered messages to chat destinations.
//
// Sends are synchronous so the caller learns the outcome. Each attempt is
// paced by a shared token bucket and bounded by a timeout. Only failures that
// cannot have delivered the message (flood waits, 5xx replies, dial errors)
// are retried, with jittered exponential backoff; a timeout is final so a
// post is never duplicated. Telegram flood-wait replies are honored. A small in-memory history of delivered messages is kept for
// the status endpoint.
package notifier
