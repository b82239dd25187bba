// Package events provides ports.EventPublisher implementations: an in-process fan-out Bus,
// a structured-log publisher and a combinator delivering to several publishers.
package events
