// Package blacklist decides whether an object key lives under a directory
// that must not be replicated.
package blacklist

import (
	"strings"

	"github.com/armon/go-radix"
)

const Delimiter = "/"

// defaultEntries are the bucket directories not designated for synchronization.
var defaultEntries = []string{
	"background_pictures",
	"bg_images",
	"collection",
	"cover_images",
	"creatives",
	"creatives_adtemplate_preview_image",
	"facebook_ad_pictures",
	"facebook_products",
	"facebook_products_api",
	"facebook_shareable_images",
	"images",
	"inbound",
	"partners",
	"presale",
	"pro_images",
	"products",
	"profile_images",
	"profile_pictures",
	"promoted_reviews",
	"public",
	"scratch",
	"shops/migrations",
	"signup",
	"template",
}

// Result is the outcome of a Check. Segment is the blacklist entry that
// matched, or the top-level segment that was checked last when nothing did.
type Result struct {
	Blacklisted bool
	Segment     string
}

// Set is an immutable collection of blacklisted path segments. The zero
// value and nil never match anything.
type Set struct {
	tree *radix.Tree
}

func New(entries ...string) *Set {
	tree := radix.New()
	for _, entry := range entries {
		entry = strings.Trim(entry, Delimiter)
		if entry == "" {
			continue
		}
		tree.Insert(entry, struct{}{})
	}
	return &Set{tree: tree}
}

func Default() *Set {
	return New(defaultEntries...)
}

// DefaultEntries returns a copy of the production blacklist.
func DefaultEntries() []string {
	out := make([]string, len(defaultEntries))
	copy(out, defaultEntries)
	return out
}

func (s *Set) Contains(segment string) bool {
	if s == nil || s.tree == nil {
		return false
	}
	_, ok := s.tree.Get(segment)
	return ok
}

func (s *Set) Len() int {
	if s == nil || s.tree == nil {
		return 0
	}
	return s.tree.Len()
}

// Entries lists the blacklist in lexical order.
func (s *Set) Entries() []string {
	if s == nil || s.tree == nil {
		return nil
	}
	out := make([]string, 0, s.tree.Len())
	s.tree.Walk(func(k string, _ interface{}) bool {
		out = append(out, k)
		return false
	})
	return out
}

// Check walks key from the full path up to its top-level segment and
// reports the first (deepest) ancestor found in the set.
func (s *Set) Check(key string) Result {
	for {
		if s.Contains(key) {
			return Result{Blacklisted: true, Segment: key}
		}
		parent := Parent(key)
		if parent == "" {
			return Result{Blacklisted: false, Segment: key}
		}
		key = parent
	}
}

// Parent drops the last delimited segment of key together with the
// delimiters in front of it. A key without a delimiter has no parent.
func Parent(key string) string {
	i := strings.LastIndex(key, Delimiter)
	if i < 0 {
		return ""
	}
	return strings.TrimRight(key[:i], Delimiter)
}
