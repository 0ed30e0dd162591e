package core

import "testing"

type stubResolver struct{ known map[Address]bool }

func (s stubResolver) Exists(a Address) bool { return s.known[a] }

func setupStagedTx(t *testing.T) (*MemHost, *StagedTxEngine, Address, Address) {
	t.Helper()
	proposer := addrN(10)
	firstSender := addrN(11)
	authSvc := addrN(12)

	host := NewMemHost(proposer)
	host.SetSender(proposer)

	registry := NewAuthServiceRegistry(authSvc)
	known := stubResolver{known: map[Address]bool{firstSender: true, proposer: true}}
	eng := NewStagedTxEngine(host, registry, known)
	return host, eng, proposer, firstSender
}

func TestStagedTxHappyPath(t *testing.T) {
	host, eng, proposer, firstSender := setupStagedTx(t)
	authSvc := addrN(12)

	var accepted, rejected bool
	host.RegisterService(authSvc, func(caller, target Address, method string, args []byte) ([]byte, error) {
		switch method {
		case methodStagedAccept:
			accepted = true
		case methodStagedReject:
			rejected = true
		}
		return nil, nil
	})

	tx := Tx{Actions: []TxAction{{Sender: firstSender, Method: "transfer", Args: []byte("x")}}}
	host.SetSender(proposer)
	id, err := eng.Propose(tx)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !accepted {
		t.Fatalf("expected implicit accept to reach auth service")
	}

	other := addrN(13)
	host.SetSender(other)
	if err := eng.Accept(id); err != nil {
		t.Fatalf("accept: %v", err)
	}

	host.SetSender(authSvc)
	if err := eng.Executed(id); err != nil {
		t.Fatalf("executed: %v", err)
	}

	if _, err := eng.load(id); err == nil {
		t.Fatalf("expected staged tx to be deleted after execution")
	}
	it := host.Store().Iterator(responsePrefix(id), nil)
	if it.Next() {
		t.Fatalf("expected all responses cascade-deleted")
	}

	events := host.Events()
	var types []EventType
	for _, ev := range events {
		if ev.Name == "staged_tx_updated" {
			payload := ev.Payload.(map[string]any)
			types = append(types, EventType(payload["event_type"].(int)))
		}
	}
	want := []EventType{EventProposed, EventAccepted, EventAccepted, EventExecuted, EventDeleted}
	if len(types) != len(want) {
		t.Fatalf("unexpected event sequence %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected event order %v, got %v", want, types)
		}
	}
	_ = rejected
}

func TestStagedTxDuplicateBlocked(t *testing.T) {
	host, eng, proposer, firstSender := setupStagedTx(t)
	host.RegisterService(addrN(12), func(Address, Address, string, []byte) ([]byte, error) { return nil, nil })

	tx := Tx{Actions: []TxAction{{Sender: firstSender, Method: "transfer", Args: []byte("x")}}}
	host.SetSender(proposer)
	id1, err := eng.Propose(tx)
	if err != nil {
		t.Fatalf("propose 1: %v", err)
	}

	_, err = eng.Propose(tx)
	if err == nil {
		t.Fatalf("expected duplicate staged tx to be blocked")
	}
	ee, ok := err.(*EngineError)
	if !ok || ee.Kind != KindDuplicateState {
		t.Fatalf("expected DuplicateState, got %v", err)
	}

	host.SetSender(addrN(12))
	if err := eng.Delete(id1); err != nil {
		t.Fatalf("delete: %v", err)
	}

	host.SetSender(proposer)
	if _, err := eng.Propose(tx); err != nil {
		t.Fatalf("re-propose after delete should succeed: %v", err)
	}
}

func TestStagedTxRejectsEmptyActions(t *testing.T) {
	_, eng, _, _ := setupStagedTx(t)
	_, err := eng.Propose(Tx{})
	if err == nil {
		t.Fatalf("expected InvalidInput for empty actions")
	}
}

func TestStagedTxTxIDDeterministic(t *testing.T) {
	tx := Tx{Actions: []TxAction{{Sender: addrN(1), Method: "m", Args: []byte("a")}}}
	id1, err := ComputeTxID(tx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	id2, err := ComputeTxID(tx)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected deterministic txid")
	}
}
