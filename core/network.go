package core

// network.go - the event-broadcast mechanism engines use to fan a state
// change out to external listeners (indexers, notification services),
// independent of the synchronous Host.Emit history event. Trimmed from the
// original P2P node down to the pluggable broadcaster hook plus an
// in-memory replication store. Broadcast only calls the hook; the
// replication store is filled solely by HandleNetworkMessage.

import (
	"fmt"
	"sync"
)

// NetworkMessage is a single broadcast payload tagged with the topic it was
// published on.
type NetworkMessage struct {
	Topic   string
	Content []byte
}

var replicatedMessages = make(map[string][][]byte)
var replicatedMu sync.RWMutex

// GetReplicatedMessages returns a copy of all replicated payloads for the
// given topic. The returned slice and its contents are safe for
// modification by the caller.
func GetReplicatedMessages(topic string) [][]byte {
	replicatedMu.RLock()
	msgs := replicatedMessages[topic]
	replicatedMu.RUnlock()
	out := make([][]byte, len(msgs))
	for i, m := range msgs {
		out[i] = append([]byte(nil), m...)
	}
	return out
}

// ClearReplicatedMessages resets the in-memory replication store. Primarily
// intended for tests.
func ClearReplicatedMessages() {
	replicatedMu.Lock()
	defer replicatedMu.Unlock()
	replicatedMessages = make(map[string][][]byte)
}

// BroadcasterFunc defines the signature for the global broadcaster.
type BroadcasterFunc func(topic string, data []byte) error

var (
	broadcastMu   sync.RWMutex
	broadcastHook BroadcasterFunc
)

// SetBroadcaster sets the global broadcast hook used by package-level
// Broadcast. Pass nil to disable broadcasting.
func SetBroadcaster(fn BroadcasterFunc) {
	broadcastMu.Lock()
	broadcastHook = fn
	broadcastMu.Unlock()
}

// Broadcast sends data using the configured broadcaster.
func Broadcast(topic string, data []byte) error {
	broadcastMu.RLock()
	fn := broadcastHook
	broadcastMu.RUnlock()
	if fn == nil {
		return fmt.Errorf("network: broadcaster not set")
	}
	return fn(topic, data)
}

// HandleNetworkMessage handles an incoming network message and replicates
// it into the in-memory store that GetReplicatedMessages reads from.
func HandleNetworkMessage(msg NetworkMessage) {
	replicatedMu.Lock()
	replicatedMessages[msg.Topic] = append(replicatedMessages[msg.Topic], msg.Content)
	replicatedMu.Unlock()
}
