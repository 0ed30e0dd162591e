package core

import "testing"

func TestHandleNetworkMessageReplication(t *testing.T) {
	ClearReplicatedMessages()
	msg := NetworkMessage{Topic: "test", Content: []byte("payload")}
	HandleNetworkMessage(msg)
	msgs := GetReplicatedMessages("test")
	if len(msgs) != 1 || string(msgs[0]) != "payload" {
		t.Fatalf("expected replicated payload, got %v", msgs)
	}
}

func TestHostEmitBroadcastsToListener(t *testing.T) {
	var gotTopic string
	var gotData []byte
	SetBroadcaster(func(topic string, data []byte) error {
		gotTopic, gotData = topic, data
		return nil
	})
	defer SetBroadcaster(nil)

	var service Address
	host := NewMemHost(service)
	host.Emit("evaluation_created", map[string]any{"owner": "0xabc", "evaluation_id": 1})

	if gotTopic != "evaluation_created" {
		t.Fatalf("expected broadcast topic evaluation_created, got %q", gotTopic)
	}
	if len(gotData) == 0 {
		t.Fatalf("expected broadcast payload, got none")
	}
}
