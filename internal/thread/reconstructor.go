// Package thread links decoded messages into conversations. It runs as a
// batch pass after ingestion has decoded every message: identifier links
// (Message-Id, In-Reply-To, References) always win; subject equivalence is
// a fallback applied only to messages carrying no identifier evidence at
// all. Note the fallback can over-group unrelated messages that share a
// generic subject ("hello", "invoice"); that mirrors how mail clients
// behave and is deliberate.
package thread

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Node is one message as the reconstructor sees it. Key is the caller's
// stable handle (store row id); MessageID and the reference fields come
// straight from decoded headers and may be empty.
type Node struct {
	Key        string
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	Timestamp  time.Time
}

// Link assigns Parent as the parent message of Child, both by Key. A
// message opening its thread has no Link.
type Link struct {
	Child  string
	Parent string
}

var (
	bracketedID   = regexp.MustCompile(`<([^<>]+)>`)
	subjectPrefix = regexp.MustCompile(`(?i)^\s*(?:(?:re|fwd|fw|tr)(?:\s*\[\d+\])?\s*:\s*)+`)
)

// ExtractIDs pulls every bracketed message-id out of a raw References
// header value. A value with no brackets is treated as a single bare id.
func ExtractIDs(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	matches := bracketedID.FindAllStringSubmatch(raw, -1)
	if matches == nil {
		return []string{raw}
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if id := strings.TrimSpace(m[1]); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// NormalizeID strips angle brackets and surrounding space from a
// Message-Id or In-Reply-To value.
func NormalizeID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// NormalizeSubject strips reply/forward prefixes (Re:, Fwd:, Fw:, TR:,
// optionally with a bracketed counter, possibly stacked) and lower-cases
// the rest, so "RE: Re[2]: Budget" and "budget" compare equal.
func NormalizeSubject(subject string) string {
	subject = subjectPrefix.ReplaceAllString(subject, "")
	return strings.ToLower(strings.TrimSpace(subject))
}

// Reconstruct links a batch of messages into conversations and returns one
// parent link per non-root message. References to ids absent from the
// batch still connect the messages that share them but never produce a
// link of their own. The pass is deterministic and idempotent: the same
// batch always yields the same link set.
func Reconstruct(nodes []Node) []Link {
	if len(nodes) == 0 {
		return nil
	}

	uf := newUnionFind()
	byMessageID := make(map[string]*Node, len(nodes))

	// Membership key: real message-id when present, caller key otherwise.
	memberID := func(n *Node) string {
		if id := NormalizeID(n.MessageID); id != "" {
			return id
		}
		return "key:" + n.Key
	}

	for i := range nodes {
		n := &nodes[i]
		if id := NormalizeID(n.MessageID); id != "" {
			if _, dup := byMessageID[id]; !dup {
				byMessageID[id] = n
			}
		}
	}

	referenced := make(map[string]bool)
	for i := range nodes {
		n := &nodes[i]
		self := memberID(n)
		uf.add(self)
		if irt := NormalizeID(n.InReplyTo); irt != "" {
			uf.union(self, irt)
			referenced[irt] = true
		}
		for _, ref := range n.References {
			if id := NormalizeID(ref); id != "" {
				uf.union(self, id)
				referenced[id] = true
			}
		}
	}

	// Subject fallback: a message that declares no identifiers and is
	// referenced by none joins every message sharing its normalized
	// subject, including messages already linked by identifiers. Generic
	// subjects can over-group here, matching how mail clients behave.
	bySubject := make(map[string][]*Node)
	for i := range nodes {
		n := &nodes[i]
		subj := NormalizeSubject(n.Subject)
		if subj == "" {
			continue
		}
		bySubject[subj] = append(bySubject[subj], n)
	}
	for i := range nodes {
		n := &nodes[i]
		if hasIdentifierEdges(n, referenced) {
			continue
		}
		subj := NormalizeSubject(n.Subject)
		if subj == "" {
			continue
		}
		for _, other := range bySubject[subj] {
			uf.union(memberID(n), memberID(other))
		}
	}

	// Group nodes by component, ordered by timestamp then key so parent
	// assignment is stable across runs.
	components := make(map[string][]*Node)
	for i := range nodes {
		n := &nodes[i]
		root := uf.find(memberID(n))
		components[root] = append(components[root], n)
	}

	var links []Link
	for _, members := range components {
		sort.Slice(members, func(i, j int) bool {
			if !members[i].Timestamp.Equal(members[j].Timestamp) {
				return members[i].Timestamp.Before(members[j].Timestamp)
			}
			return members[i].Key < members[j].Key
		})
		for idx, n := range members {
			parent := resolveParent(n, idx, members, byMessageID)
			if parent != nil {
				links = append(links, Link{Child: n.Key, Parent: parent.Key})
			}
		}
	}

	sort.Slice(links, func(i, j int) bool { return links[i].Child < links[j].Child })
	return links
}

func hasIdentifierEdges(n *Node, referenced map[string]bool) bool {
	if NormalizeID(n.InReplyTo) != "" {
		return true
	}
	for _, ref := range n.References {
		if NormalizeID(ref) != "" {
			return true
		}
	}
	if id := NormalizeID(n.MessageID); id != "" && referenced[id] {
		return true
	}
	return false
}

// resolveParent picks the strongest available parent for n: the In-Reply-To
// target when present in the batch, else the nearest present ancestor in
// References (scanned newest first), else the chronological predecessor
// within the component.
func resolveParent(n *Node, idx int, members []*Node, byMessageID map[string]*Node) *Node {
	if irt := NormalizeID(n.InReplyTo); irt != "" {
		if parent, ok := byMessageID[irt]; ok && parent != n {
			return parent
		}
	}
	for i := len(n.References) - 1; i >= 0; i-- {
		if id := NormalizeID(n.References[i]); id != "" {
			if parent, ok := byMessageID[id]; ok && parent != n {
				return parent
			}
		}
	}
	if idx > 0 {
		return members[idx-1]
	}
	return nil
}

// unionFind is a plain disjoint-set over id strings with path compression.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string)}
}

func (u *unionFind) add(id string) {
	if _, ok := u.parent[id]; !ok {
		u.parent[id] = id
	}
}

func (u *unionFind) find(id string) string {
	u.add(id)
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[id] != root {
		id, u.parent[id] = u.parent[id], root
	}
	return root
}

// union merges by smaller root string so the representative is independent
// of call order.
func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
