package core

// staged_tx.go implements the propose/accept/reject/delete/execute workflow
// for multi-party staged transactions, policy-gated by each first-sender's
// auth service. Modeled on dao_proposal.go's and polls_management.go's
// CRUD-over-KV pattern (create, cast, close, cascade delete, Broadcast on
// every transition).

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// TxAction is one action within a staged transaction.
type TxAction struct {
	Sender Address
	Method string
	Args   []byte
}

// Tx is the multi-action transaction body staged for authorization.
type Tx struct {
	Actions []TxAction
	Claims  []byte // must be empty per §3/§7
}

// EventType enumerates the staged-tx lifecycle events of §6, in the order
// PROPOSED < (ACCEPTED|REJECTED)* < (EXECUTED|DELETED).
type EventType int

const (
	EventProposed EventType = iota
	EventAccepted
	EventRejected
	EventExecuted
	EventDeleted
)

// StagedTx is the persisted staged-transaction row.
type StagedTx struct {
	ID          uint64
	TxID        [32]byte
	Proposer    Address
	FirstSender Address
	Tx          Tx
}

// Response is a single account's accept/reject vote on a staged tx.
type Response struct {
	ID      uint64
	Account Address
	Accept  bool
}

// AuthService resolves the policy service address for an account; the
// engine then makes the synchronous stagedAccept/stagedReject
// sub-invocations against that address through Host.CallService.
type AuthService interface {
	ServiceFor(account Address) Address
}

// AuthServiceRegistry is a simple static account -> auth-service mapping,
// used by the demo CLI and tests; production hosts would resolve this from
// the platform's own service registry instead.
type AuthServiceRegistry struct {
	byAccount map[Address]Address
	fallback  Address
}

func NewAuthServiceRegistry(fallback Address) *AuthServiceRegistry {
	return &AuthServiceRegistry{byAccount: make(map[Address]Address), fallback: fallback}
}

func (r *AuthServiceRegistry) Set(account, service Address) {
	r.byAccount[account] = service
}

func (r *AuthServiceRegistry) ServiceFor(account Address) Address {
	if svc, ok := r.byAccount[account]; ok {
		return svc
	}
	return r.fallback
}

const (
	methodStagedAccept = "stagedAccept"
	methodStagedReject = "stagedReject"
)

//---------------------------------------------------------------------
// Key layout.
//---------------------------------------------------------------------

func stagedTxKey(id uint64) []byte {
	return []byte(fmt.Sprintf("stagedtx:%020d", id))
}

func stagedTxBySenderPrefix(firstSender Address) []byte {
	return []byte(fmt.Sprintf("stagedtx:by-sender:%s:", firstSender.Hex()))
}

func stagedTxBySenderKey(firstSender Address, id uint64) []byte {
	return []byte(fmt.Sprintf("stagedtx:by-sender:%s:%020d", firstSender.Hex(), id))
}

func responseKey(id uint64, account Address) []byte {
	return []byte(fmt.Sprintf("stagedresp:%020d:%s", id, account.Hex()))
}

func responsePrefix(id uint64) []byte {
	return []byte(fmt.Sprintf("stagedresp:%020d:", id))
}

const stagedTxLastIDKey = "stagedtx:lastid"

func nextStagedTxID(store KVStore) (uint64, error) {
	var next uint64 = 1
	raw, err := store.Get([]byte(stagedTxLastIDKey))
	if err == nil {
		var last uint64
		if json.Unmarshal(raw, &last) == nil {
			next = last + 1
		}
	}
	buf, err := json.Marshal(next)
	if err != nil {
		return 0, err
	}
	return next, store.Set([]byte(stagedTxLastIDKey), buf)
}

//---------------------------------------------------------------------
// Canonical serialization + txid.
//---------------------------------------------------------------------

type canonicalAction struct {
	Sender string
	Method string
	Args   []byte
}

type canonicalTx struct {
	Actions []canonicalAction
	Claims  []byte
}

// CanonicalBytes renders tx in the fixed JSON field order that txid
// hashing depends on.
func (tx Tx) CanonicalBytes() ([]byte, error) {
	c := canonicalTx{Claims: tx.Claims}
	for _, a := range tx.Actions {
		c.Actions = append(c.Actions, canonicalAction{Sender: a.Sender.Hex(), Method: a.Method, Args: a.Args})
	}
	return json.Marshal(c)
}

// ComputeTxID returns SHA-256 of the transaction's canonical serialization.
func ComputeTxID(tx Tx) ([32]byte, error) {
	raw, err := tx.CanonicalBytes()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(raw), nil
}

//---------------------------------------------------------------------
// StagedTxEngine.
//---------------------------------------------------------------------

// StagedTxEngine implements C5's operations against a Host.
type StagedTxEngine struct {
	host  Host
	auth  AuthService
	known AccountResolver
}

// AccountResolver reports whether an account is known to the runtime; the
// spec requires first_sender to "resolve to a known account" but leaves
// the registry out of scope, so this is injected by the caller (the demo
// CLI wires it to AccessController).
type AccountResolver interface {
	Exists(account Address) bool
}

func NewStagedTxEngine(host Host, auth AuthService, known AccountResolver) *StagedTxEngine {
	return &StagedTxEngine{host: host, auth: auth, known: known}
}

func (s *StagedTxEngine) load(id uint64) (*StagedTx, error) {
	raw, err := s.host.Store().Get(stagedTxKey(id))
	if err != nil {
		return nil, NewEngineErrorf(KindNotFound, "staged tx %d not found", id)
	}
	var tx StagedTx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *StagedTxEngine) save(tx *StagedTx) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	if err := s.host.Store().Set(stagedTxKey(tx.ID), raw); err != nil {
		return err
	}
	return s.host.Store().Set(stagedTxBySenderKey(tx.FirstSender, tx.ID), raw)
}

func (s *StagedTxEngine) emit(event EventType, id uint64, actor Address) {
	s.host.Emit("staged_tx_updated", map[string]any{
		"id": id, "sender": s.host.Sender().Hex(), "actor": actor.Hex(), "now": s.host.Now(), "event_type": int(event),
	})
}

// Propose validates and stores tx, then implicitly accepts on behalf of
// the proposer.
func (s *StagedTxEngine) Propose(tx Tx) (id uint64, err error) {
	err = runAction(func() error {
		s.host.Assert(len(tx.Claims) == 0, "tx.claims must be empty")
		s.host.Assert(len(tx.Actions) > 0, "tx.actions must be non-empty")

		firstSender := tx.Actions[0].Sender
		s.host.Assert(s.known == nil || s.known.Exists(firstSender), "first_sender must be a known account")

		txid, terr := ComputeTxID(tx)
		if terr != nil {
			return terr
		}

		if open, oerr := s.findOpenBySenderAndTxID(firstSender, txid); oerr != nil {
			return oerr
		} else if open {
			return NewEngineError(KindDuplicateState, "duplicate staged tx for this first_sender")
		}

		newID, nerr := nextStagedTxID(s.host.Store())
		if nerr != nil {
			return nerr
		}
		id = newID
		row := &StagedTx{ID: id, TxID: txid, Proposer: s.host.Sender(), FirstSender: firstSender, Tx: tx}
		if serr := s.save(row); serr != nil {
			return serr
		}
		s.emit(EventProposed, id, row.Proposer)
		return s.accept(row, row.Proposer)
	})
	return id, err
}

func (s *StagedTxEngine) findOpenBySenderAndTxID(firstSender Address, txid [32]byte) (bool, error) {
	it := s.host.Store().Iterator(stagedTxBySenderPrefix(firstSender), nil)
	for it.Next() {
		var existing StagedTx
		if err := json.Unmarshal(it.Value(), &existing); err != nil {
			return false, err
		}
		if existing.TxID == txid {
			return true, nil
		}
	}
	return false, it.Error()
}

// Accept upserts the sender's acceptance response and forwards to the
// first-sender's auth service.
func (s *StagedTxEngine) Accept(id uint64) error {
	return runAction(func() error {
		tx, err := s.load(id)
		if err != nil {
			return err
		}
		return s.accept(tx, s.host.Sender())
	})
}

func (s *StagedTxEngine) accept(tx *StagedTx, actor Address) error {
	if err := s.upsertResponse(tx.ID, actor, true); err != nil {
		return err
	}
	svc := s.auth.ServiceFor(tx.FirstSender)
	if _, err := s.host.CallService(svc, methodStagedAccept, encodeArgs(tx.TxID[:], actor)); err != nil {
		return NewEngineErrorf(KindAuthorizationDenied, "stagedAccept rejected: %v", err)
	}
	s.emit(EventAccepted, tx.ID, actor)
	return nil
}

// Reject upserts the sender's rejection response and forwards to the
// first-sender's auth service.
func (s *StagedTxEngine) Reject(id uint64) error {
	return runAction(func() error {
		tx, err := s.load(id)
		if err != nil {
			return err
		}
		actor := s.host.Sender()
		if err := s.upsertResponse(tx.ID, actor, false); err != nil {
			return err
		}
		svc := s.auth.ServiceFor(tx.FirstSender)
		if _, cerr := s.host.CallService(svc, methodStagedReject, encodeArgs(tx.TxID[:], actor)); cerr != nil {
			return NewEngineErrorf(KindAuthorizationDenied, "stagedReject rejected: %v", cerr)
		}
		s.emit(EventRejected, tx.ID, actor)
		return nil
	})
}

func (s *StagedTxEngine) upsertResponse(id uint64, account Address, accept bool) error {
	raw, err := json.Marshal(Response{ID: id, Account: account, Accept: accept})
	if err != nil {
		return err
	}
	return s.host.Store().Set(responseKey(id, account), raw)
}

// Delete removes a staged tx and cascades its responses. Only the
// proposer or the first-sender's auth service may call this.
func (s *StagedTxEngine) Delete(id uint64) error {
	return runAction(func() error {
		tx, err := s.load(id)
		if err != nil {
			return err
		}
		sender := s.host.Sender()
		svc := s.auth.ServiceFor(tx.FirstSender)
		s.host.AssertKind(sender == tx.Proposer || sender == svc, KindAuthorizationDenied, "only the proposer or auth service may delete")
		if derr := s.cascadeDelete(tx); derr != nil {
			return derr
		}
		s.emit(EventDeleted, tx.ID, sender)
		return nil
	})
}

// Executed marks the staged tx executed and deletes it, emitting EXECUTED
// and then DELETED. Only the first-sender's auth service may call this; the
// EXECUTED emit happens before the delete so event payloads can still
// reference the row (§9).
func (s *StagedTxEngine) Executed(id uint64) error {
	return runAction(func() error {
		tx, err := s.load(id)
		if err != nil {
			return err
		}
		sender := s.host.Sender()
		svc := s.auth.ServiceFor(tx.FirstSender)
		s.host.AssertKind(sender == svc, KindAuthorizationDenied, "only the first-sender's auth service may mark executed")
		s.emit(EventExecuted, tx.ID, sender)
		if derr := s.cascadeDelete(tx); derr != nil {
			return derr
		}
		s.emit(EventDeleted, tx.ID, sender)
		return nil
	})
}

func (s *StagedTxEngine) cascadeDelete(tx *StagedTx) error {
	store := s.host.Store()
	it := store.Iterator(responsePrefix(tx.ID), nil)
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	if err := it.Error(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := store.Delete(k); err != nil {
			return err
		}
	}
	if err := store.Delete(stagedTxBySenderKey(tx.FirstSender, tx.ID)); err != nil {
		return err
	}
	return store.Delete(stagedTxKey(tx.ID))
}
