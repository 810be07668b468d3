// Package entity resolves raw address headers into deduplicated contact
// identities. The registry is the corpus-wide identity table: append-only,
// keyed by normalized address, safe for concurrent resolution during
// parallel ingestion.
package entity

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Entity is a deduplicated contact. At most one Entity exists per canonical
// address within a registry; later sightings under different display names
// merge into the alias list instead of creating a duplicate.
type Entity struct {
	Name           string
	Address        EmailAddress
	AliasNames     []string
	AliasAddresses []EmailAddress
	IsPerson       bool
	FirstSeen      time.Time
	LastSeen       time.Time
}

// organizationLocals are mailbox locals that indicate an automated or
// organizational sender rather than a person.
var organizationLocals = map[string]bool{
	"no-reply":      true,
	"noreply":       true,
	"do-not-reply":  true,
	"donotreply":    true,
	"mailer-daemon": true,
	"postmaster":    true,
	"notifications": true,
	"notification":  true,
	"newsletter":    true,
	"news":          true,
	"info":          true,
	"contact":       true,
	"support":       true,
	"hello":         true,
	"marketing":     true,
	"sales":         true,
	"billing":       true,
}

const shardCount = 32

type registryShard struct {
	mu        sync.Mutex
	byAddress map[string]*Entity
}

// Registry is the corpus identity table: an arena of entities plus a
// sharded index from normalized address to entity. Two ingestion workers
// may resolve the same address concurrently; the shard lock makes the
// merge-on-insert atomic.
type Registry struct {
	shards [shardCount]registryShard
	clock  func() time.Time
}

// NewRegistry returns an empty identity table.
func NewRegistry() *Registry {
	r := &Registry{clock: time.Now}
	for i := range r.shards {
		r.shards[i].byAddress = make(map[string]*Entity)
	}
	return r
}

func (r *Registry) shard(key string) *registryShard {
	var h uint32
	for i := 0; i < len(key); i++ {
		h = h*31 + uint32(key[i])
	}
	return &r.shards[h%shardCount]
}

// ResolveHeader parses a raw header value containing zero or more
// addresses and upserts an Entity for each. Malformed candidates yield
// nothing; the call never fails.
func (r *Registry) ResolveHeader(header string) []*Entity {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}

	var out []*Entity
	seen := make(map[string]bool)
	for _, candidate := range SplitAddressList(header) {
		var ent *Entity
		switch parsed := ClassifyAddress(candidate).(type) {
		case Bracketed:
			ent = r.Upsert(parsed.Name, parsed.Address)
		case Bare:
			ent = r.Upsert("", parsed.Address)
		case Unrecognized:
			continue
		}
		key := ent.Address.String()
		if !seen[key] {
			seen[key] = true
			out = append(out, ent)
		}
	}
	return out
}

// Upsert returns the Entity for addr, creating it on first sight. A new
// display name for a known address folds into the alias-name list. The
// display name defaults to the address itself when absent.
func (r *Registry) Upsert(name string, addr EmailAddress) *Entity {
	key := addr.String()
	name = strings.TrimSpace(name)

	sh := r.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := r.clock()
	ent, ok := sh.byAddress[key]
	if !ok {
		display := name
		if display == "" {
			display = key
		}
		ent = &Entity{
			Name:      display,
			Address:   addr,
			IsPerson:  !organizationLocals[addr.Local],
			FirstSeen: now,
			LastSeen:  now,
		}
		sh.byAddress[key] = ent
		return ent
	}

	ent.LastSeen = now
	if name != "" && name != ent.Name {
		if ent.Name == key {
			// The first sighting had no display name; promote this one.
			ent.Name = name
		} else if !containsFold(ent.AliasNames, name) {
			ent.AliasNames = append(ent.AliasNames, name)
		}
	}
	return ent
}

// MergeAlias records alias as an alternate address of the entity owning
// canonical, folding any entity previously registered under alias into it.
func (r *Registry) MergeAlias(canonical, alias EmailAddress) *Entity {
	target := r.Upsert("", canonical)

	aliasKey := alias.String()
	sh := r.shard(aliasKey)
	sh.mu.Lock()
	prior := sh.byAddress[aliasKey]
	sh.byAddress[aliasKey] = target
	sh.mu.Unlock()

	canonicalShard := r.shard(canonical.String())
	canonicalShard.mu.Lock()
	defer canonicalShard.mu.Unlock()

	found := false
	for _, a := range target.AliasAddresses {
		if a == alias {
			found = true
			break
		}
	}
	if !found {
		target.AliasAddresses = append(target.AliasAddresses, alias)
	}
	if prior != nil && prior != target {
		if prior.Name != "" && prior.Name != aliasKey && !containsFold(target.AliasNames, prior.Name) {
			target.AliasNames = append(target.AliasNames, prior.Name)
		}
		for _, n := range prior.AliasNames {
			if !containsFold(target.AliasNames, n) {
				target.AliasNames = append(target.AliasNames, n)
			}
		}
	}
	return target
}

// Get looks up an entity by its canonical address string.
func (r *Registry) Get(address string) (*Entity, bool) {
	addr, err := ParseEmailAddress(address)
	if err != nil {
		return nil, false
	}
	key := addr.String()
	sh := r.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	ent, ok := sh.byAddress[key]
	return ent, ok
}

// MarkOrganization demotes the entity registered under addr to an
// organization. No-op for unknown addresses.
func (r *Registry) MarkOrganization(addr EmailAddress) {
	key := addr.String()
	sh := r.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if ent, ok := sh.byAddress[key]; ok {
		ent.IsPerson = false
	}
}

// All returns a point-in-time copy of every distinct entity, ordered by
// address for deterministic store writes. The copies are taken under the
// shard locks, so callers may read them while ingestion workers keep
// mutating the live table.
func (r *Registry) All() []*Entity {
	seen := make(map[*Entity]bool)
	var out []*Entity
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, ent := range sh.byAddress {
			if !seen[ent] {
				seen[ent] = true
				out = append(out, ent.clone())
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

// Len reports the number of distinct entities.
func (r *Registry) Len() int {
	n := 0
	seen := make(map[*Entity]bool)
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, ent := range sh.byAddress {
			if !seen[ent] {
				seen[ent] = true
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

func (e *Entity) clone() *Entity {
	c := *e
	c.AliasNames = append([]string(nil), e.AliasNames...)
	c.AliasAddresses = append([]EmailAddress(nil), e.AliasAddresses...)
	return &c
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
