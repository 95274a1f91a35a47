package cache

import (
	"strings"
)

// DefaultPrefix namespaces every key written by the proxy.
const DefaultPrefix = "bsky-stats"

// Logical key names.
const (
	NameRecord = "cache"
	NameLock   = "lock"
	NameDaily  = "daily"
)

// Key identifies one logical value in the store.
type Key struct {
	// Prefix namespaces the key (e.g., "bsky-stats")
	Prefix string

	// Name is the logical key name (e.g., "cache")
	Name string
}

// String generates the store key.
// Format: prefix:name
//
// Example:
//
//	bsky-stats:cache
func (k Key) String() string {
	parts := make([]string, 0, 2)
	if p := strings.Trim(k.Prefix, ":"); p != "" {
		parts = append(parts, p)
	}
	if n := strings.Trim(k.Name, ":"); n != "" {
		parts = append(parts, n)
	}
	return strings.Join(parts, ":")
}

// Keys is the fixed set of keys a Manager works with.
type Keys struct {
	Record Key
	Lock   Key
	Daily  Key
}

// NewKeys returns the logical keys under prefix.
// An empty prefix falls back to DefaultPrefix.
func NewKeys(prefix string) Keys {
	if strings.Trim(prefix, ":") == "" {
		prefix = DefaultPrefix
	}
	return Keys{
		Record: Key{Prefix: prefix, Name: NameRecord},
		Lock:   Key{Prefix: prefix, Name: NameLock},
		Daily:  Key{Prefix: prefix, Name: NameDaily},
	}
}
