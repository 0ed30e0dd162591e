package core

// access_control.go implements a role-based permission cache over a
// KVStore, modeled on the ledger-backed AccessController but re-pointed at
// the generic KVStore port so it can run against any Host's store. The
// demo CLI adapts it into the staged-tx engine's AccountResolver, so holding
// any role makes an account "known" for proposing a transaction; the
// evaluation engine does not use it.

import (
	"bytes"
	"fmt"
	"sync"
)

// AccessController manages role-based access permissions backed by a
// KVStore. Keys are stored under the prefix "access:<addr>:<role>" so
// lookups can be performed per address. The controller is safe for
// concurrent use.
type AccessController struct {
	mu    sync.Mutex
	store KVStore
	cache map[Address]map[string]struct{}
}

// NewAccessController returns a new AccessController backed by the given
// store.
func NewAccessController(store KVStore) *AccessController {
	return &AccessController{store: store, cache: make(map[Address]map[string]struct{})}
}

func (ac *AccessController) key(addr Address, role string) []byte {
	hex := addr.Hex()
	b := make([]byte, 0, len("access:")+len(hex)+1+len(role))
	b = append(b, "access:"...)
	b = append(b, hex...)
	b = append(b, ':')
	b = append(b, role...)
	return b
}

func (ac *AccessController) hasState(key []byte) bool {
	_, err := ac.store.Get(key)
	return err == nil
}

// GrantRole assigns a role to the given address. It returns an error if the
// role is already present.
func (ac *AccessController) GrantRole(addr Address, role string) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if roles, ok := ac.cache[addr]; ok {
		if _, ok := roles[role]; ok {
			return fmt.Errorf("role already granted")
		}
	}
	k := ac.key(addr, role)
	if ac.hasState(k) {
		ac.addToCache(addr, role)
		return fmt.Errorf("role already granted")
	}
	if err := ac.store.Set(k, []byte{1}); err != nil {
		return err
	}
	ac.addToCache(addr, role)
	return nil
}

func (ac *AccessController) addToCache(addr Address, role string) {
	if _, ok := ac.cache[addr]; !ok {
		ac.cache[addr] = make(map[string]struct{})
	}
	ac.cache[addr][role] = struct{}{}
}

// RevokeRole removes a role from the given address. It returns an error if
// the role is not present.
func (ac *AccessController) RevokeRole(addr Address, role string) error {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	k := ac.key(addr, role)
	if roles, ok := ac.cache[addr]; ok {
		if _, ok := roles[role]; !ok && !ac.hasState(k) {
			return fmt.Errorf("role not found")
		}
	} else if !ac.hasState(k) {
		return fmt.Errorf("role not found")
	}
	if err := ac.store.Delete(k); err != nil {
		return err
	}
	if roles, ok := ac.cache[addr]; ok {
		delete(roles, role)
		if len(roles) == 0 {
			delete(ac.cache, addr)
		}
	}
	return nil
}

// HasRole reports whether the address has the specified role.
func (ac *AccessController) HasRole(addr Address, role string) bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if roles, ok := ac.cache[addr]; ok {
		if _, ok := roles[role]; ok {
			return true
		}
	}
	k := ac.key(addr, role)
	if ac.hasState(k) {
		ac.addToCache(addr, role)
		return true
	}
	return false
}

// ListRoles returns all roles granted to the address.
func (ac *AccessController) ListRoles(addr Address) ([]string, error) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if cached, ok := ac.cache[addr]; ok {
		roles := make([]string, 0, len(cached))
		for r := range cached {
			roles = append(roles, r)
		}
		return roles, nil
	}
	prefix := []byte(fmt.Sprintf("access:%s:", addr.Hex()))
	it := ac.store.Iterator(prefix, nil)
	rolesMap := make(map[string]struct{})
	for it.Next() {
		parts := bytes.SplitN(it.Key(), []byte(":"), 3)
		if len(parts) == 3 {
			rolesMap[string(parts[2])] = struct{}{}
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	ac.cache[addr] = rolesMap
	roles := make([]string, 0, len(rolesMap))
	for r := range rolesMap {
		roles = append(roles, r)
	}
	return roles, nil
}
