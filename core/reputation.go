package core

// reputation.go translates a finalized group ranking into per-account
// reputation updates via an exponential moving average. Modeled on
// governance_reputation_voting.go, which keeps a similar per-account score
// row in the KV store under a stable prefix.

import "encoding/json"

const reputationAlpha = 0.2

func reputationKey(account Address) []byte {
	return []byte("reputation:" + account.Hex())
}

// ReputationStore reads and updates the EMA-smoothed per-account scores
// kept in the KVStore passed to each call; it holds only the level cap.
type ReputationStore struct {
	maxGroupSize int
}

// NewReputationStore returns a store that optionally caps the ranking
// levels fed into the EMA to maxGroupSize (0 disables the cap).
func NewReputationStore(maxGroupSize int) *ReputationStore {
	return &ReputationStore{maxGroupSize: maxGroupSize}
}

// Get returns the current reputation score for account, or 0 if the
// account has no prior member record.
func (r *ReputationStore) Get(store KVStore, account Address) (float64, error) {
	raw, err := store.Get(reputationKey(account))
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	var score float64
	if err := json.Unmarshal(raw, &score); err != nil {
		return 0, err
	}
	return score, nil
}

func (r *ReputationStore) set(store KVStore, account Address, score float64) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return err
	}
	return store.Set(reputationKey(account), raw)
}

// ApplyGroupResult assigns descending integer levels (1 = highest) to
// ranked in result order and folds each into its account's EMA. An account
// that no longer has a prior reputation record (no longer a member by
// finalization time) is skipped rather than seeded at 0.
func (r *ReputationStore) ApplyGroupResult(store KVStore, ranked []Address) error {
	n := len(ranked)
	limit := n
	if r.maxGroupSize > 0 && r.maxGroupSize < limit {
		limit = r.maxGroupSize
	}
	for i := 0; i < limit; i++ {
		account := ranked[i]
		level := float64(n - i)
		raw, err := store.Get(reputationKey(account))
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return err
		}
		var current float64
		if err := json.Unmarshal(raw, &current); err != nil {
			return err
		}
		updated := reputationAlpha*level + (1-reputationAlpha)*current
		if err := r.set(store, account, updated); err != nil {
			return err
		}
	}
	return nil
}
