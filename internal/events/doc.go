// Package events publishes the message stream to external brokers. The
// AMQP publisher implements the hub's Sink interface; it is optional and
// only wired when a broker URL is configured.
package events
