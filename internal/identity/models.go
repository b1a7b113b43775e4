package identity

import "sort"

// Record is one raw relationship entry taken from an export document.
// Empty fields were absent in the export.
type Record struct {
	Title     string
	Value     string
	Href      string
	Timestamp int64
}

// UsernameSet is a set of canonical usernames.
type UsernameSet map[string]struct{}

// NewUsernameSet builds a set from the supplied usernames.
func NewUsernameSet(usernames ...string) UsernameSet {
	set := make(UsernameSet, len(usernames))
	for _, username := range usernames {
		set[username] = struct{}{}
	}
	return set
}

// Contains reports whether username is a member of the set.
func (set UsernameSet) Contains(username string) bool {
	_, exists := set[username]
	return exists
}

// Add inserts username into the set.
func (set UsernameSet) Add(username string) {
	set[username] = struct{}{}
}

// Intersects reports whether the two sets share at least one member.
func (set UsernameSet) Intersects(other UsernameSet) bool {
	smaller, larger := set, other
	if len(smaller) > len(larger) {
		smaller, larger = larger, smaller
	}
	for username := range smaller {
		if larger.Contains(username) {
			return true
		}
	}
	return false
}

// Sorted returns the members in lexical order.
func (set UsernameSet) Sorted() []string {
	usernames := make([]string, 0, len(set))
	for username := range set {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)
	return usernames
}

// Clone returns an independent copy of the set.
func (set UsernameSet) Clone() UsernameSet {
	cloned := make(UsernameSet, len(set))
	for username := range set {
		cloned[username] = struct{}{}
	}
	return cloned
}

// FollowingRow is one deduplicated following entry.
type FollowingRow struct {
	Username   string
	Timestamp  int64
	Candidates UsernameSet
}

// FileDiagnostics counts how the entries of one export document were interpreted.
type FileDiagnostics struct {
	Total   int `json:"total"`
	Parsed  int `json:"parsed"`
	Invalid int `json:"invalid"`
	Unique  int `json:"unique"`
}

// Diagnostics holds the per-document counters of a reconciliation.
type Diagnostics struct {
	Followers FileDiagnostics `json:"followers"`
	Following FileDiagnostics `json:"following"`
}

// Verification reports how a username appears across both exports.
type Verification struct {
	Username    string `json:"username"`
	InFollowing bool   `json:"inFollowing"`
	InFollowers bool   `json:"inFollowers"`
	Flagged     bool   `json:"flagged"`
}

// Result contains everything derived from one pair of export documents.
type Result struct {
	Flagged           UsernameSet
	Rows              map[string]FollowingRow
	FollowedAt        map[string]int64
	FollowerPrimaries UsernameSet
	Diagnostics       Diagnostics
}
