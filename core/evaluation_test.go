package core

import "testing"

func addrN(n byte) Address {
	var a Address
	a[19] = n
	return a
}

func setupEval(t *testing.T) (*MemHost, *EvaluationEngine, Address) {
	t.Helper()
	owner := addrN(1)
	host := NewMemHost(owner)
	host.SetSender(owner)
	rep := NewReputationStore(0)
	eng := NewEvaluationEngine(host, rep)
	return host, eng, owner
}

func TestEvaluationHappyPathThreeMemberConsensus(t *testing.T) {
	host, eng, owner := setupEval(t)
	a, b, c := addrN(2), addrN(3), addrN(4)

	for _, acc := range []Address{a, b, c} {
		if err := PublishPubKey(host.Store(), acc, makeTestPubKey(acc)); err != nil {
			t.Fatalf("publish pubkey: %v", err)
		}
	}

	host.SetClock(0)
	id, err := eng.Create(10, 20, 30, 40, []int{3}, 6, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	host.SetClock(15)
	for _, acc := range []Address{a, b, c} {
		host.SetSender(acc)
		if err := eng.Register(owner, id, acc); err != nil {
			t.Fatalf("register %v: %v", acc, err)
		}
	}

	host.SetClock(25)
	host.SetSender(owner)
	if err := eng.Start(owner, id); err != nil {
		t.Fatalf("start: %v", err)
	}

	groups, err := listGroups(host.Store(), owner, id)
	if err != nil || len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d (%v)", len(groups), err)
	}
	g := groups[0]
	if len(g.Members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(g.Members))
	}

	host.SetSender(g.Members[0])
	if err := eng.GroupKey(owner, id, nil, "hash"); err != nil {
		t.Fatalf("groupKey: %v", err)
	}

	for _, acc := range g.Members {
		host.SetSender(acc)
		if err := eng.Propose(owner, id, []byte("ct")); err != nil {
			t.Fatalf("propose %v: %v", acc, err)
		}
	}

	host.SetClock(35)
	ordered := CanonicalOrder(g.Members)
	// Item values are chosen clear of the group's ordinal range {1,2,3} so
	// this integration test exercises phase/finalization mechanics without
	// also triggering the self-reference stripping of §4.2's pruning step
	// (covered directly in alignment_merge_test.go).
	attestations := map[Address][]int{
		ordered[0]: {4, 5, 6},
		ordered[1]: {4, 5, 6},
		ordered[2]: {5, 4, 6},
	}

	// A group of 3 needs ceil(2/3*3)=2 attestations to reach consensus, so
	// only the first attest call observes an insufficient pool.
	host.SetSender(ordered[0])
	requireConsensusInsufficient(t, eng.Attest(owner, id, attestations[ordered[0]]))

	host.SetSender(ordered[1])
	if err := eng.Attest(owner, id, attestations[ordered[1]]); err != nil {
		t.Fatalf("attest %v: %v", ordered[1], err)
	}

	host.SetSender(ordered[2])
	if err := eng.Attest(owner, id, attestations[ordered[2]]); err != nil {
		t.Fatalf("attest %v: %v", ordered[2], err)
	}

	finalGroup, err := loadGroup(host.Store(), owner, id, g.Number)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	if finalGroup.Result == nil {
		t.Fatalf("expected group result to be set")
	}
	want := []int{4, 5, 6}
	if len(finalGroup.Result) != len(want) {
		t.Fatalf("unexpected result length: %v", finalGroup.Result)
	}
	for i := range want {
		if finalGroup.Result[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, finalGroup.Result)
		}
	}
}

func TestEvaluationPhaseEnforcement(t *testing.T) {
	host, eng, owner := setupEval(t)
	a := addrN(2)
	PublishPubKey(host.Store(), a, makeTestPubKey(a))

	host.SetClock(0)
	id, err := eng.Create(10, 20, 30, 40, []int{1}, 4, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	host.SetClock(15)
	host.SetSender(a)
	if err := eng.Register(owner, id, a); err != nil {
		t.Fatalf("register: %v", err)
	}

	host.SetClock(15)
	if err := eng.Propose(owner, id, []byte("ct")); err == nil {
		t.Fatalf("expected phase violation before deliberation")
	}
}

func TestEvaluationConsensusInsufficient(t *testing.T) {
	host, eng, owner := setupEval(t)
	accs := []Address{addrN(2), addrN(3), addrN(4), addrN(5)}
	for _, acc := range accs {
		PublishPubKey(host.Store(), acc, makeTestPubKey(acc))
	}
	host.SetClock(0)
	id, err := eng.Create(10, 20, 30, 40, []int{4}, 4, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	host.SetClock(15)
	for _, acc := range accs {
		host.SetSender(acc)
		if err := eng.Register(owner, id, acc); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	host.SetClock(25)
	host.SetSender(owner)
	if err := eng.Start(owner, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	groups, _ := listGroups(host.Store(), owner, id)
	g := groups[0]
	host.SetSender(g.Members[0])
	eng.GroupKey(owner, id, nil, "hash")
	for _, acc := range g.Members {
		host.SetSender(acc)
		eng.Propose(owner, id, []byte("ct"))
	}

	host.SetClock(35)
	ordered := CanonicalOrder(g.Members)

	// A group of 4 requires ceil(2/3*4)=3 surviving attestations; with
	// only 2 members ever attesting, every attest call here observes an
	// insufficient pool and reports ConsensusInsufficient, even though
	// each attestation is still durably stored (§5, §9).
	host.SetSender(ordered[0])
	err = eng.Attest(owner, id, []int{1, 2})
	requireConsensusInsufficient(t, err)

	host.SetSender(ordered[1])
	err = eng.Attest(owner, id, []int{1, 2})
	requireConsensusInsufficient(t, err)

	u0, uerr := loadUser(host.Store(), owner, id, ordered[0])
	if uerr != nil {
		t.Fatalf("load user: %v", uerr)
	}
	if u0.Attestation == nil {
		t.Fatalf("expected first member's attestation to remain stored despite the consensus-insufficient abort")
	}
}

func requireConsensusInsufficient(t *testing.T, err error) {
	t.Helper()
	ee, ok := err.(*EngineError)
	if !ok || ee.Kind != KindConsensusInsuff {
		t.Fatalf("expected ConsensusInsufficient, got %v", err)
	}
}

func makeTestPubKey(seed Address) []byte {
	// Deterministic 32-byte X25519 public key material for test fixtures;
	// clamping is handled by crypto/ecdh on parse, not needed here since
	// these are only used as KV-stored bytes round-tripped through
	// GetPubKey in tests that don't exercise WrapForGroup.
	key := make([]byte, 32)
	copy(key, seed[:])
	return key
}
