// Package transport wraps the PUB/SUB data channel (spec.md §6) using
// goczmq's Channeler convenience API, grounded on
// multiverse-hardware-labs-dastard's DataPublisher, which drives the same
// NewPubChanneler/SendChan pattern for its own trigger-record PUB socket.
package transport

import (
	czmq "github.com/zeromq/goczmq"
)

// Publisher binds one PUB socket and forwards outgoing frames to it. A
// frame is a ZMQ multipart message; callers send a single-part message as
// [][]byte{payload}.
type Publisher struct {
	ch *czmq.Channeler
}

// NewPublisher binds a PUB socket at endpoint (e.g. "tcp://*:5556").
func NewPublisher(endpoint string) *Publisher {
	return &Publisher{ch: czmq.NewPubChanneler(endpoint)}
}

// Send enqueues payload for transmission. It blocks if the channeler's
// internal send channel is full; callers on a hot path should select
// against a shutdown signal alongside this.
func (p *Publisher) Send(payload []byte) {
	p.ch.SendChan <- [][]byte{payload}
}

// Close releases the underlying ZMQ socket.
func (p *Publisher) Close() {
	p.ch.Destroy()
}

// Subscriber connects to one PUB endpoint and yields frames as they
// arrive. It always subscribes with the empty prefix "", which receives
// everything, since there is no topic multiplexing on a single socket.
type Subscriber struct {
	ch *czmq.Channeler
}

// NewSubscriber connects a SUB socket to endpoint.
func NewSubscriber(endpoint string) *Subscriber {
	return &Subscriber{ch: czmq.NewSubChanneler(endpoint, "")}
}

// Recv returns the channel of incoming multipart frames. The caller reads
// frame[0] for single-part payloads; ok is false once the channeler is
// destroyed.
func (s *Subscriber) Recv() <-chan [][]byte {
	return s.ch.RecvChan
}

// Close releases the underlying ZMQ socket.
func (s *Subscriber) Close() {
	s.ch.Destroy()
}
