package core

// evaluation.go implements the lifecycle state machine for a confidential
// group evaluation, modeled on dao_proposal.go's and
// governance_reputation_voting.go's KV-backed CRUD pattern (create/get/list
// via prefix-scanned keys, Broadcast on every state change), generalized to
// a five-phase wall-clock state machine and group-formation procedure.

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
)

// Phase is the computed lifecycle stage of an evaluation at a given time.
type Phase int

const (
	PhasePending Phase = iota
	PhaseRegistration
	PhaseDeliberation
	PhaseSubmission
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseRegistration:
		return "registration"
	case PhaseDeliberation:
		return "deliberation"
	case PhaseSubmission:
		return "submission"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Evaluation is the owner-scoped scheduling record described in §3.
type Evaluation struct {
	Owner              Address
	ID                 uint64
	RegistrationStarts uint32
	DeliberationStarts uint32
	SubmissionStarts   uint32
	FinishBy           uint32
	AllowedGroupSizes  []int
	NumOptions         int
	UseHooks           bool
}

// PhaseAt returns the evaluation's computed phase at time t.
func (e *Evaluation) PhaseAt(t uint32) Phase {
	switch {
	case t < e.RegistrationStarts:
		return PhasePending
	case t < e.DeliberationStarts:
		return PhaseRegistration
	case t < e.SubmissionStarts:
		return PhaseDeliberation
	case t < e.FinishBy:
		return PhaseSubmission
	default:
		return PhaseClosed
	}
}

// EvalUser is a registrant's per-evaluation row.
type EvalUser struct {
	Owner       Address
	ID          uint64
	Account     Address
	GroupNumber *int
	Proposal    []byte
	Attestation []int
}

// Group is a formed partition of an evaluation's registrants.
type Group struct {
	Owner        Address
	ID           uint64
	Number       int
	Members      []Address
	KeySubmitter *Address
	KeyCiphers   []MemberCipher
	KeyHash      string
	Result       []int
}

//---------------------------------------------------------------------
// Key layout.
//---------------------------------------------------------------------

func evalKey(owner Address, id uint64) []byte {
	return []byte(fmt.Sprintf("eval:%s:%020d", owner.Hex(), id))
}

func evalLastIDKey(owner Address) []byte {
	return []byte(fmt.Sprintf("eval:lastid:%s", owner.Hex()))
}

func userKey(owner Address, id uint64, account Address) []byte {
	return []byte(fmt.Sprintf("evaluser:%s:%020d:%s", owner.Hex(), id, account.Hex()))
}

func userPrefix(owner Address, id uint64) []byte {
	return []byte(fmt.Sprintf("evaluser:%s:%020d:", owner.Hex(), id))
}

func groupKeyOf(owner Address, id uint64, number int) []byte {
	return []byte(fmt.Sprintf("evalgroup:%s:%020d:%06d", owner.Hex(), id, number))
}

func groupPrefix(owner Address, id uint64) []byte {
	return []byte(fmt.Sprintf("evalgroup:%s:%020d:", owner.Hex(), id))
}

//---------------------------------------------------------------------
// KV helpers.
//---------------------------------------------------------------------

func loadEvaluation(store KVStore, owner Address, id uint64) (*Evaluation, error) {
	raw, err := store.Get(evalKey(owner, id))
	if err != nil {
		return nil, NewEngineErrorf(KindNotFound, "evaluation (%s,%d) not found", owner.Hex(), id)
	}
	var e Evaluation
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func saveEvaluation(store KVStore, e *Evaluation) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return store.Set(evalKey(e.Owner, e.ID), raw)
}

func loadUser(store KVStore, owner Address, id uint64, account Address) (*EvalUser, error) {
	raw, err := store.Get(userKey(owner, id, account))
	if err != nil {
		return nil, NewEngineError(KindNotFound, "user row not found")
	}
	var u EvalUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func saveUser(store KVStore, u *EvalUser) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return store.Set(userKey(u.Owner, u.ID, u.Account), raw)
}

func listUsers(store KVStore, owner Address, id uint64) ([]*EvalUser, error) {
	it := store.Iterator(userPrefix(owner, id), nil)
	var out []*EvalUser
	for it.Next() {
		var u EvalUser
		if err := json.Unmarshal(it.Value(), &u); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, it.Error()
}

func loadGroup(store KVStore, owner Address, id uint64, number int) (*Group, error) {
	raw, err := store.Get(groupKeyOf(owner, id, number))
	if err != nil {
		return nil, NewEngineError(KindNotFound, "group not found")
	}
	var g Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func saveGroup(store KVStore, g *Group) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	return store.Set(groupKeyOf(g.Owner, g.ID, g.Number), raw)
}

func listGroups(store KVStore, owner Address, id uint64) ([]*Group, error) {
	it := store.Iterator(groupPrefix(owner, id), nil)
	var out []*Group
	for it.Next() {
		var g Group
		if err := json.Unmarshal(it.Value(), &g); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, it.Error()
}

func nextEvalID(store KVStore, owner Address) (uint64, error) {
	key := evalLastIDKey(owner)
	var next uint64 = 1
	raw, err := store.Get(key)
	if err == nil {
		var last uint64
		if jerr := json.Unmarshal(raw, &last); jerr == nil {
			next = last + 1
		}
	}
	buf, err := json.Marshal(next)
	if err != nil {
		return 0, err
	}
	if err := store.Set(key, buf); err != nil {
		return 0, err
	}
	return next, nil
}

//---------------------------------------------------------------------
// Owner hook methods, called via Host.CallService when UseHooks is set.
//---------------------------------------------------------------------

const (
	MethodOnRegister   = "on_eval_register"
	MethodOnUnregister = "on_eval_unregister"
	MethodOnAttestation = "on_attestation"
	MethodOnGroupFin    = "on_eval_group_fin"
)

//---------------------------------------------------------------------
// EvaluationEngine.
//---------------------------------------------------------------------

// EvaluationEngine implements C3's operations against a Host.
type EvaluationEngine struct {
	host Host
	rep  *ReputationStore
}

// NewEvaluationEngine constructs an engine bound to host and its
// reputation store (used for group-finalization feedback, C4).
func NewEvaluationEngine(host Host, rep *ReputationStore) *EvaluationEngine {
	return &EvaluationEngine{host: host, rep: rep}
}

// Create registers a new evaluation under the sender's ownership and
// returns its allocated id.
func (e *EvaluationEngine) Create(registration, deliberation, submission, finishBy uint32, allowedGroupSizes []int, numOptions int, useHooks bool) (id uint64, err error) {
	err = runAction(func() error {
		owner := e.host.Sender()
		e.host.Assert(registration < deliberation && deliberation < submission && submission < finishBy,
			"timestamps must be strictly increasing")
		e.host.Assert(len(allowedGroupSizes) > 0, "allowed_group_sizes must be non-empty")
		for _, sz := range allowedGroupSizes {
			e.host.Assert(sz > 0, "group sizes must be positive")
		}
		e.host.Assert(numOptions > 0, "num_options must be positive")

		newID, nerr := nextEvalID(e.host.Store(), owner)
		if nerr != nil {
			return nerr
		}
		id = newID
		ev := &Evaluation{
			Owner:              owner,
			ID:                 id,
			RegistrationStarts: registration,
			DeliberationStarts: deliberation,
			SubmissionStarts:   submission,
			FinishBy:           finishBy,
			AllowedGroupSizes:  allowedGroupSizes,
			NumOptions:         numOptions,
			UseHooks:           useHooks,
		}
		if serr := saveEvaluation(e.host.Store(), ev); serr != nil {
			return serr
		}
		e.host.Emit("evaluation_created", map[string]any{"owner": owner.Hex(), "evaluation_id": id})
		return nil
	})
	return id, err
}

// Register adds registrant to the evaluation. Sender must be the
// registrant or the owner.
func (e *EvaluationEngine) Register(owner Address, id uint64, registrant Address) error {
	return runAction(func() error {
		ev, err := loadEvaluation(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		sender := e.host.Sender()
		e.host.AssertKind(sender == registrant || sender == owner, KindAuthorizationDenied, "sender must be registrant or owner")
		e.host.AssertKind(ev.PhaseAt(e.host.Now()) == PhaseRegistration, KindPhaseViolation, "register requires Registration phase")

		if _, err := GetPubKey(e.host.Store(), registrant); err != nil {
			return NewEngineError(KindPreconditionMissing, "registrant has no published pubkey")
		}

		if ev.UseHooks {
			if _, err := e.host.CallService(owner, MethodOnRegister, encodeArgs(id, registrant)); err != nil {
				return NewEngineErrorf(KindAuthorizationDenied, "on_eval_register rejected: %v", err)
			}
		}

		u := &EvalUser{Owner: owner, ID: id, Account: registrant}
		if serr := saveUser(e.host.Store(), u); serr != nil {
			return serr
		}
		return nil
	})
}

// Unregister removes registrant from the evaluation.
func (e *EvaluationEngine) Unregister(owner Address, id uint64, registrant Address) error {
	return runAction(func() error {
		ev, err := loadEvaluation(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		sender := e.host.Sender()
		e.host.AssertKind(sender == registrant || sender == owner, KindAuthorizationDenied, "sender must be registrant or owner")
		e.host.AssertKind(ev.PhaseAt(e.host.Now()) == PhaseRegistration, KindPhaseViolation, "unregister requires Registration phase")

		if err := e.host.Store().Delete(userKey(owner, id, registrant)); err != nil {
			return err
		}
		if ev.UseHooks {
			e.host.CallService(owner, MethodOnUnregister, encodeArgs(id, registrant))
		}
		return nil
	})
}

// Start performs deterministic group formation once deliberation begins.
func (e *EvaluationEngine) Start(owner Address, id uint64) error {
	return runAction(func() error {
		ev, err := loadEvaluation(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		e.host.AssertKind(ev.PhaseAt(e.host.Now()) == PhaseDeliberation, KindPhaseViolation, "start requires Deliberation phase")

		existing, err := listGroups(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		e.host.Assert(len(existing) == 0, "groups already exist for this evaluation")

		users, err := listUsers(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		accounts := make([]Address, len(users))
		for i, u := range users {
			accounts[i] = u.Account
		}
		accounts = CanonicalOrder(accounts)

		r := rand.New(rand.NewSource(int64(id)))
		r.Shuffle(len(accounts), func(i, j int) { accounts[i], accounts[j] = accounts[j], accounts[i] })

		partition, ok := partitionGroups(len(accounts), ev.AllowedGroupSizes)
		if !ok {
			return NewEngineError(KindInvalidInput, "no valid group partition for allowed_group_sizes")
		}

		idx := 0
		for number, size := range partition {
			members := make([]Address, size)
			copy(members, accounts[idx:idx+size])
			idx += size
			g := &Group{Owner: owner, ID: id, Number: number, Members: members}
			if serr := saveGroup(e.host.Store(), g); serr != nil {
				return serr
			}
			for _, m := range members {
				u, uerr := loadUser(e.host.Store(), owner, id, m)
				if uerr != nil {
					return uerr
				}
				gn := number
				u.GroupNumber = &gn
				if serr := saveUser(e.host.Store(), u); serr != nil {
					return serr
				}
			}
		}
		return nil
	})
}

// SetKey publishes or rotates the caller's asymmetric public key.
func (e *EvaluationEngine) SetKey(pubkey []byte) error {
	return runAction(func() error {
		return PublishPubKey(e.host.Store(), e.host.Sender(), pubkey)
	})
}

// GroupKey submits the group's wrapped symmetric key once.
func (e *EvaluationEngine) GroupKey(owner Address, id uint64, ciphertexts []MemberCipher, hash string) error {
	return runAction(func() error {
		ev, err := loadEvaluation(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		e.host.AssertKind(ev.PhaseAt(e.host.Now()) == PhaseDeliberation, KindPhaseViolation, "groupKey requires Deliberation phase")

		sender := e.host.Sender()
		u, err := loadUser(e.host.Store(), owner, id, sender)
		if err != nil || u.GroupNumber == nil {
			return NewEngineError(KindPreconditionMissing, "caller is not assigned to a group")
		}
		g, err := loadGroup(e.host.Store(), owner, id, *u.GroupNumber)
		if err != nil {
			return err
		}
		if g.KeySubmitter != nil {
			return NewEngineError(KindDuplicateState, "group key already submitted")
		}
		g.KeySubmitter = &sender
		g.KeyCiphers = ciphertexts
		g.KeyHash = hash
		if serr := saveGroup(e.host.Store(), g); serr != nil {
			return serr
		}
		e.host.Emit("keysset", map[string]any{
			"evaluation_id": id, "group_number": g.Number, "keys": ciphertexts, "hash": hash,
		})
		return nil
	})
}

// Propose stores the caller's encrypted ranking ciphertext.
func (e *EvaluationEngine) Propose(owner Address, id uint64, ciphertext []byte) error {
	return runAction(func() error {
		ev, err := loadEvaluation(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		e.host.AssertKind(ev.PhaseAt(e.host.Now()) == PhaseDeliberation, KindPhaseViolation, "propose requires Deliberation phase")

		sender := e.host.Sender()
		u, err := loadUser(e.host.Store(), owner, id, sender)
		if err != nil || u.GroupNumber == nil {
			return NewEngineError(KindPreconditionMissing, "caller is not assigned to a group")
		}
		g, err := loadGroup(e.host.Store(), owner, id, *u.GroupNumber)
		if err != nil {
			return err
		}
		if g.KeySubmitter == nil {
			return NewEngineError(KindPreconditionMissing, "group has no submitted key")
		}
		u.Proposal = ciphertext
		return saveUser(e.host.Store(), u)
	})
}

// Attest stores the caller's attestation and attempts group finalization.
func (e *EvaluationEngine) Attest(owner Address, id uint64, attestation []int) error {
	return runAction(func() error {
		ev, err := loadEvaluation(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		e.host.AssertKind(ev.PhaseAt(e.host.Now()) == PhaseSubmission, KindPhaseViolation, "attest requires Submission phase")
		for _, v := range attestation {
			e.host.Assert(v <= ev.NumOptions, "attestation value exceeds num_options")
		}

		sender := e.host.Sender()
		u, err := loadUser(e.host.Store(), owner, id, sender)
		if err != nil || u.GroupNumber == nil {
			return NewEngineError(KindPreconditionMissing, "caller is not assigned to a group")
		}
		if u.Attestation != nil {
			return NewEngineError(KindDuplicateState, "caller has already attested")
		}

		g, err := loadGroup(e.host.Store(), owner, id, *u.GroupNumber)
		if err != nil {
			return err
		}
		if g.KeySubmitter == nil {
			return NewEngineError(KindPreconditionMissing, "cannot attest without a submitted group key")
		}

		if ev.UseHooks {
			if _, err := e.host.CallService(owner, MethodOnAttestation, encodeArgs(id, *u.GroupNumber, sender, attestation)); err != nil {
				return NewEngineErrorf(KindAuthorizationDenied, "on_attestation rejected: %v", err)
			}
		}

		u.Attestation = attestation
		if serr := saveUser(e.host.Store(), u); serr != nil {
			return serr
		}

		if g.Result != nil {
			return nil
		}
		return e.finalizeGroup(ev, g)
	})
}

// finalizeGroup attempts to reduce a group's submitted attestations to a
// consensus result via prune-then-alignment-merge. It is invoked from
// within Attest, after that member's write has already committed, so
// consensus failures never roll back an already-stored attestation.
func (e *EvaluationEngine) finalizeGroup(ev *Evaluation, g *Group) error {
	users, err := listUsers(e.host.Store(), ev.Owner, ev.ID)
	if err != nil {
		return err
	}
	byAttester := make(map[int][]int)
	for _, u := range users {
		if u.GroupNumber == nil || *u.GroupNumber != g.Number || u.Attestation == nil {
			continue
		}
		byAttester[accountOrdinal(g.Members, u.Account)] = u.Attestation
	}

	pruned, ok := PruneOutliers(byAttester, len(g.Members))
	if !ok {
		return ErrConsensusInsuff
	}
	result, err := AlignmentMerge(pruned)
	if err != nil {
		return err
	}

	g.Result = result
	if serr := saveGroup(e.host.Store(), g); serr != nil {
		return serr
	}
	if ev.UseHooks {
		e.host.CallService(ev.Owner, MethodOnGroupFin, encodeArgs(ev.ID, g.Number, result))
	}
	if e.rep != nil {
		ranked := rankedAccounts(g.Members, result)
		if rerr := e.rep.ApplyGroupResult(e.host.Store(), ranked); rerr != nil {
			return rerr
		}
	}
	e.host.Emit("group_finished", map[string]any{
		"owner": ev.Owner.Hex(), "evaluation_id": ev.ID, "group_number": g.Number, "result": result,
	})
	return nil
}

// accountOrdinal maps an account to its 1-based index within the group's
// canonical (numeric-account-sorted) member list, which is how ranking
// items in §4.2/§4.4 correspond to group members.
func accountOrdinal(members []Address, account Address) int {
	ordered := CanonicalOrder(members)
	for i, m := range ordered {
		if m == account {
			return i + 1
		}
	}
	return 0
}

// rankedAccounts maps an alignment-merge result (member ordinals) back to
// the finalized account ranking C4 expects.
func rankedAccounts(members []Address, result []int) []Address {
	ordered := CanonicalOrder(members)
	out := make([]Address, 0, len(result))
	for _, ordinal := range result {
		if ordinal >= 1 && ordinal <= len(ordered) {
			out = append(out, ordered[ordinal-1])
		}
	}
	return out
}

// Close deletes the evaluation when closable: in Pending/Closed
// unconditionally, in Submission only if group formation never succeeded.
func (e *EvaluationEngine) Close(owner Address, id uint64) error {
	return runAction(func() error {
		ev, err := loadEvaluation(e.host.Store(), owner, id)
		if err != nil {
			return err
		}
		phase := ev.PhaseAt(e.host.Now())
		switch phase {
		case PhaseRegistration, PhaseDeliberation:
			return NewEngineError(KindPhaseViolation, "close not allowed in Registration or Deliberation")
		case PhaseSubmission:
			groups, gerr := listGroups(e.host.Store(), owner, id)
			if gerr != nil {
				return gerr
			}
			e.host.Assert(len(groups) == 0, "close in Submission requires a failed start (no groups)")
		}
		return e.cascadeDelete(owner, id)
	})
}

func (e *EvaluationEngine) cascadeDelete(owner Address, id uint64) error {
	store := e.host.Store()
	users, err := listUsers(store, owner, id)
	if err != nil {
		return err
	}
	for _, u := range users {
		if derr := store.Delete(userKey(owner, id, u.Account)); derr != nil {
			return derr
		}
	}
	groups, err := listGroups(store, owner, id)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if derr := store.Delete(groupKeyOf(owner, id, g.Number)); derr != nil {
			return derr
		}
	}
	return store.Delete(evalKey(owner, id))
}

//---------------------------------------------------------------------
// Group partitioning: deterministic bin-packing over AllowedGroupSizes,
// minimizing leftover. Resolves the spec's open "partitioning heuristic"
// question (see DESIGN.md): if no combination covers every registrant
// exactly, start() aborts rather than leave a partial group.
//---------------------------------------------------------------------

// partitionGroups returns the ordered list of group sizes that exactly
// covers total registrants using unlimited repetitions of the allowed
// sizes, chosen via dynamic programming to minimize (here, eliminate)
// leftover. ok is false if no exact partition exists.
func partitionGroups(total int, allowedSizes []int) (sizes []int, ok bool) {
	if total == 0 {
		return nil, true
	}
	sizes1 := make([]int, 0, len(allowedSizes))
	for _, s := range allowedSizes {
		if s > 0 {
			sizes1 = append(sizes1, s)
		}
	}
	sort.Ints(sizes1)

	// reach[n] = the last group size of an exact cover of n that uses the
	// fewest groups (smallest such size on ties), or 0 if none; count[n] is
	// that fewest number of groups.
	reach := make([]int, total+1)
	count := make([]int, total+1)
	reach[0] = -1
	for n := 1; n <= total; n++ {
		for _, s := range sizes1 {
			if s <= n && reach[n-s] != 0 && (reach[n] == 0 || count[n-s]+1 < count[n]) {
				reach[n] = s
				count[n] = count[n-s] + 1
			}
		}
	}
	if reach[total] == 0 {
		return nil, false
	}

	n := total
	for n > 0 {
		s := reach[n]
		sizes = append(sizes, s)
		n -= s
	}
	// Reverse so groups are assigned from the front of the shuffled list.
	for i, j := 0, len(sizes)-1; i < j; i, j = i+1, j-1 {
		sizes[i], sizes[j] = sizes[j], sizes[i]
	}
	return sizes, true
}

func encodeArgs(parts ...any) []byte {
	raw, _ := json.Marshal(parts)
	return raw
}
