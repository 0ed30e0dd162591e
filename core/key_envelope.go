package core

// key_envelope.go implements the per-user asymmetric keyring and the two
// encryption layers used to move a group's symmetric "password" from one
// member's client to every other member's, and then to use that password
// to protect ranking payloads. Modeled on the XChaCha20-Poly1305 helpers in
// security.go and the hybrid X25519+HKDF+AEAD construction used by the
// qzmq transport (luxfi-consensus/qzmq/qzmq.go), adapted here to an ECIES
// variant with round-trip encrypt/decrypt laws: the per-member wrap is
// randomized, while the payload layer is deterministic in (password, salt).

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const maxPastKeys = 10

// Keyring is a single account's asymmetric key history, persisted under a
// per-account KV key. The current key is used for new wraps; past keys are
// retained only to decrypt messages still in flight.
type Keyring struct {
	Current *ecdh.PrivateKey
	Past    []*ecdh.PrivateKey
}

func keyringKey(account Address) []byte {
	return []byte("keyring:" + account.Hex())
}

type keyringWire struct {
	Current []byte   `json:"current"`
	Past    [][]byte `json:"past"`
}

// LoadKeyring reads an account's keyring from the host KV. A missing
// keyring is not an error; it simply means the account has never rotated.
func LoadKeyring(store KVStore, account Address) (*Keyring, error) {
	raw, err := store.Get(keyringKey(account))
	if err != nil {
		if IsNotFound(err) {
			return &Keyring{}, nil
		}
		return nil, err
	}
	var wire keyringWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewEngineErrorf(KindCryptoFailure, "decode keyring: %v", err)
	}
	kr := &Keyring{}
	if len(wire.Current) > 0 {
		k, err := ecdh.X25519().NewPrivateKey(wire.Current)
		if err != nil {
			return nil, NewEngineErrorf(KindCryptoFailure, "decode current key: %v", err)
		}
		kr.Current = k
	}
	for _, raw := range wire.Past {
		k, err := ecdh.X25519().NewPrivateKey(raw)
		if err != nil {
			continue
		}
		kr.Past = append(kr.Past, k)
	}
	return kr, nil
}

func (kr *Keyring) save(store KVStore, account Address) error {
	wire := keyringWire{}
	if kr.Current != nil {
		wire.Current = kr.Current.Bytes()
	}
	for _, k := range kr.Past {
		wire.Past = append(wire.Past, k.Bytes())
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	return store.Set(keyringKey(account), raw)
}

// RotateKey generates a fresh X25519 keypair, demotes the current key into
// the bounded past-key history, and publishes the new public key via
// UserSettings so it is visible to peers before the caller registers for a
// new evaluation.
func RotateKey(store KVStore, account Address) (*ecdh.PrivateKey, error) {
	kr, err := LoadKeyring(store, account)
	if err != nil {
		return nil, err
	}
	fresh, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, NewEngineErrorf(KindCryptoFailure, "generate key: %v", err)
	}
	if kr.Current != nil {
		kr.Past = append([]*ecdh.PrivateKey{kr.Current}, kr.Past...)
		if len(kr.Past) > maxPastKeys {
			kr.Past = kr.Past[:maxPastKeys]
		}
	}
	kr.Current = fresh
	if err := kr.save(store, account); err != nil {
		return nil, err
	}
	if err := PublishPubKey(store, account, fresh.PublicKey().Bytes()); err != nil {
		return nil, err
	}
	return fresh, nil
}

//---------------------------------------------------------------------
// UserSettings: account -> published X25519 public key.
//---------------------------------------------------------------------

func userSettingsKey(account Address) []byte {
	return []byte("usersettings:" + account.Hex())
}

// PublishPubKey is an idempotent write of the account's current public key.
func PublishPubKey(store KVStore, account Address, pubkey []byte) error {
	return store.Set(userSettingsKey(account), pubkey)
}

// GetPubKey returns the published public key for account, or ErrNotFound.
func GetPubKey(store KVStore, account Address) ([]byte, error) {
	return store.Get(userSettingsKey(account))
}

//---------------------------------------------------------------------
// Asymmetric layer: ECIES-style wrap of a group password per member.
//---------------------------------------------------------------------

// MemberCipher is one member's wrapped copy of the group password.
type MemberCipher struct {
	Account    Address
	Ephemeral  []byte // sender's ephemeral X25519 public key
	Ciphertext []byte // XChaCha20-Poly1305 seal of the password
}

// WrapForGroup encrypts password once per member using an ECIES-style
// construction: a fresh ephemeral X25519 keypair per recipient, ECDH against
// the recipient's published public key, HKDF-SHA256 over the shared secret
// to derive an AEAD key, and a random nonce (only a round-trip property is
// required of this layer, so determinism is not needed here). Output order
// follows the canonical numeric-account ordering of members so every
// client computes identical index maps.
func WrapForGroup(store KVStore, members []Address, password []byte) ([]MemberCipher, error) {
	ordered := CanonicalOrder(members)
	out := make([]MemberCipher, 0, len(ordered))
	for _, m := range ordered {
		pub, err := GetPubKey(store, m)
		if err != nil {
			return nil, NewEngineErrorf(KindPreconditionMissing, "no published pubkey for %s", m.Hex())
		}
		recipientPub, err := ecdh.X25519().NewPublicKey(pub)
		if err != nil {
			return nil, NewEngineErrorf(KindCryptoFailure, "invalid pubkey for %s: %v", m.Hex(), err)
		}
		eph, err := ecdh.X25519().GenerateKey(rand.Reader)
		if err != nil {
			return nil, NewEngineErrorf(KindCryptoFailure, "ephemeral key: %v", err)
		}
		shared, err := eph.ECDH(recipientPub)
		if err != nil {
			return nil, NewEngineErrorf(KindCryptoFailure, "ecdh: %v", err)
		}
		aeadKey, err := deriveKey(shared, []byte("synnergy-eval-wrap"), chacha20poly1305.KeySize)
		if err != nil {
			return nil, NewEngineErrorf(KindCryptoFailure, "derive wrap key: %v", err)
		}
		ct, err := Encrypt(aeadKey, password, eph.PublicKey().Bytes())
		if err != nil {
			return nil, NewEngineErrorf(KindCryptoFailure, "wrap for %s: %v", m.Hex(), err)
		}
		out = append(out, MemberCipher{Account: m, Ephemeral: eph.PublicKey().Bytes(), Ciphertext: ct})
	}
	return out, nil
}

// UnwrapForMe decrypts the caller's entry in ciphertexts against its
// private key (trying current, then past keys, newest first), and verifies
// the result against the published key_hash witness.
func UnwrapForMe(store KVStore, account Address, ciphertexts []MemberCipher, keyHash string) ([]byte, error) {
	var mine *MemberCipher
	for i := range ciphertexts {
		if ciphertexts[i].Account == account {
			mine = &ciphertexts[i]
			break
		}
	}
	if mine == nil {
		return nil, NewEngineError(KindNotFound, "no wrapped key for caller")
	}
	kr, err := LoadKeyring(store, account)
	if err != nil {
		return nil, err
	}
	candidates := make([]*ecdh.PrivateKey, 0, 1+len(kr.Past))
	if kr.Current != nil {
		candidates = append(candidates, kr.Current)
	}
	candidates = append(candidates, kr.Past...)

	ephPub, err := ecdh.X25519().NewPublicKey(mine.Ephemeral)
	if err != nil {
		return nil, NewEngineErrorf(KindCryptoFailure, "invalid ephemeral key: %v", err)
	}

	var password []byte
	for _, priv := range candidates {
		shared, err := priv.ECDH(ephPub)
		if err != nil {
			continue
		}
		aeadKey, err := deriveKey(shared, []byte("synnergy-eval-wrap"), chacha20poly1305.KeySize)
		if err != nil {
			continue
		}
		pt, err := Decrypt(aeadKey, mine.Ciphertext, mine.Ephemeral)
		if err == nil {
			password = pt
			break
		}
	}
	if password == nil {
		return nil, NewEngineError(KindCryptoFailure, "DecryptionFailed")
	}
	if !VerifyKeyHash(password, keyHash) {
		return nil, NewEngineError(KindCryptoFailure, "KeyMismatch")
	}
	return password, nil
}

// KeyHash returns the base64-encoded SHA-256 digest of password, stored
// alongside wrapped ciphertexts so decrypting members can verify integrity.
func KeyHash(password []byte) string {
	sum := sha256.Sum256(password)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyKeyHash reports whether password hashes to the published witness.
func VerifyKeyHash(password []byte, hash string) bool {
	return KeyHash(password) == hash
}

//---------------------------------------------------------------------
// Symmetric layer: deterministic encryption of ranking payloads.
//---------------------------------------------------------------------

// EncryptPayload seals plaintext under a key and nonce both derived
// deterministically from (password, salt) via HKDF, satisfying §8's
// round-trip law: encrypting the same plaintext under the same
// (password, salt) always yields the same ciphertext.
func EncryptPayload(password, salt, plaintext []byte) ([]byte, error) {
	key, nonce, err := derivePayloadKeyNonce(password, salt)
	if err != nil {
		return nil, err
	}
	ct, err := EncryptDeterministic(key, nonce, plaintext, salt)
	if err != nil {
		return nil, NewEngineErrorf(KindCryptoFailure, "encrypt payload: %v", err)
	}
	return ct, nil
}

// DecryptPayload opens a ciphertext produced by EncryptPayload.
func DecryptPayload(password, salt, ciphertext []byte) ([]byte, error) {
	key, _, err := derivePayloadKeyNonce(password, salt)
	if err != nil {
		return nil, err
	}
	pt, err := Decrypt(key, ciphertext, salt)
	if err != nil {
		return nil, NewEngineError(KindCryptoFailure, "DecryptionFailed")
	}
	return pt, nil
}

func derivePayloadKeyNonce(password, salt []byte) (key, nonce []byte, err error) {
	key, err = deriveKey(append(append([]byte(nil), password...), salt...), []byte("synnergy-eval-payload-key"), chacha20poly1305.KeySize)
	if err != nil {
		return nil, nil, NewEngineErrorf(KindCryptoFailure, "derive payload key: %v", err)
	}
	nonce, err = deriveKey(append(append([]byte(nil), password...), salt...), []byte("synnergy-eval-payload-nonce"), chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, nil, NewEngineErrorf(KindCryptoFailure, "derive payload nonce: %v", err)
	}
	return key, nonce, nil
}

func deriveKey(secret, info []byte, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, info)
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

//---------------------------------------------------------------------
// Canonical ordering helper shared with Evaluation Engine grouping.
//---------------------------------------------------------------------

// CanonicalOrder sorts addresses by their numeric (big-endian byte) value,
// the ordering every client must reproduce so index maps agree.
func CanonicalOrder(addrs []Address) []Address {
	out := make([]Address, len(addrs))
	copy(out, addrs)
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprintf("%x", out[i]) < fmt.Sprintf("%x", out[j])
	})
	return out
}

// IsNotFound reports whether err is the engine's NotFound sentinel.
func IsNotFound(err error) bool {
	ee, ok := err.(*EngineError)
	return ok && ee.Kind == KindNotFound
}
