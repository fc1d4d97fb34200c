// Package resolver maps human-friendly traffic-signal controller names to
// the simulator's internal identifiers.
package resolver

import "sort"

// Resolver holds the controller identity mapping. It is loaded once at
// bootstrap and read-only afterwards, so lookups need no locking.
type Resolver struct {
	byFriendly map[string]string
	byInternal map[string]string
	known      []string
}

// New builds a resolver from a friendly-name mapping plus any additional
// internal ids known without a friendly alias.
func New(mapping map[string]string, extraInternal []string) *Resolver {
	r := &Resolver{
		byFriendly: make(map[string]string, len(mapping)),
		byInternal: make(map[string]string, len(mapping)),
	}

	knownSet := make(map[string]struct{})
	for friendly, internal := range mapping {
		r.byFriendly[friendly] = internal
		r.byInternal[internal] = friendly
		knownSet[internal] = struct{}{}
	}
	for _, id := range extraInternal {
		knownSet[id] = struct{}{}
	}

	r.known = make([]string, 0, len(knownSet))
	for id := range knownSet {
		r.known = append(r.known, id)
	}
	sort.Strings(r.known)

	return r
}

// Resolve returns the internal id for a friendly name. An unmapped name is
// returned unchanged: operators may address controllers by internal id
// directly, so a miss is not an error.
func (r *Resolver) Resolve(friendly string) string {
	if internal, ok := r.byFriendly[friendly]; ok {
		return internal
	}
	return friendly
}

// FriendlyFor returns the friendly alias for an internal id, if one exists.
func (r *Resolver) FriendlyFor(internal string) (string, bool) {
	friendly, ok := r.byInternal[internal]
	return friendly, ok
}

// Mapping returns a copy of the friendly-to-internal table.
func (r *Resolver) Mapping() map[string]string {
	out := make(map[string]string, len(r.byFriendly))
	for k, v := range r.byFriendly {
		out[k] = v
	}
	return out
}

// Inverse returns a copy of the internal-to-friendly table.
func (r *Resolver) Inverse() map[string]string {
	out := make(map[string]string, len(r.byInternal))
	for k, v := range r.byInternal {
		out[k] = v
	}
	return out
}

// KnownIDs returns the sorted set of known internal controller ids.
func (r *Resolver) KnownIDs() []string {
	out := make([]string, len(r.known))
	copy(out, r.known)
	return out
}

// Counts returns the number of known internal ids and the number of
// friendly aliases.
func (r *Resolver) Counts() (total, friendly int) {
	return len(r.known), len(r.byFriendly)
}
