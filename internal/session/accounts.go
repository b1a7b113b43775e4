package session

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/f-sync/followback/internal/workflow"
)

// SortOrder selects how Accounts orders its result.
type SortOrder string

const (
	// SortRecent lists the most recently followed accounts first.
	SortRecent SortOrder = "recent"

	// SortOldest lists the earliest followed accounts first.
	SortOldest SortOrder = "oldest"

	// SortAlpha lists accounts by username.
	SortAlpha SortOrder = "alpha"

	// FilterPinned selects pinned accounts in Filter.Category.
	FilterPinned = "pinned"

	// FilterAll selects every flagged account in Filter.Category.
	FilterAll = "all"

	profileURLTemplate     = "https://www.instagram.com/%s/"
	errMessageUnknownSort  = "unknown sort order"
	errMessageUnknownScope = "unknown account filter"
)

var (
	// ErrUnknownSort is returned by ParseSortOrder.
	ErrUnknownSort = errors.New(errMessageUnknownSort)

	// ErrUnknownFilter is returned for filter categories that are neither a category nor pinned.
	ErrUnknownFilter = errors.New(errMessageUnknownScope)
)

// ParseSortOrder converts a sort name into a SortOrder. An empty name means SortRecent.
func ParseSortOrder(name string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(name))) {
	case "", SortRecent:
		return SortRecent, nil
	case SortOldest:
		return SortOldest, nil
	case SortAlpha:
		return SortAlpha, nil
	default:
		return "", ErrUnknownSort
	}
}

// Filter narrows Accounts. Category is a workflow category, FilterPinned, FilterAll or empty.
type Filter struct {
	Category string
	Query    string
	Sort     SortOrder
}

// Account is one flagged account as shown to the user.
type Account struct {
	Username   string            `json:"username"`
	Category   workflow.Category `json:"category"`
	Pinned     bool              `json:"pinned"`
	Visited    bool              `json:"visited"`
	FollowedAt int64             `json:"followedAt"`
	ProfileURL string            `json:"profileUrl"`
}

// ProfileURL returns the public profile address of username.
func ProfileURL(username string) string {
	return fmt.Sprintf(profileURLTemplate, username)
}

// Accounts lists flagged accounts matching filter. Pinned accounts come first.
func (session *Session) Accounts(filter Filter) ([]Account, error) {
	sortOrder, err := ParseSortOrder(string(filter.Sort))
	if err != nil {
		return nil, err
	}
	matchesScope, err := scopeMatcher(filter.Category)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	session.mu.Lock()
	defer session.mu.Unlock()

	accounts := make([]Account, 0)
	for _, username := range session.store.Flagged() {
		if query != "" && !strings.Contains(username, query) {
			continue
		}
		category, _ := session.store.CategoryOf(username)
		account := Account{
			Username:   username,
			Category:   category,
			Pinned:     session.store.IsPinned(username),
			Visited:    session.store.IsVisited(username),
			FollowedAt: session.result.FollowedAt[username],
			ProfileURL: ProfileURL(username),
		}
		if !matchesScope(account) {
			continue
		}
		accounts = append(accounts, account)
	}
	sortAccounts(accounts, sortOrder)
	return accounts, nil
}

func scopeMatcher(scope string) (func(Account) bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(scope))
	switch normalized {
	case "", FilterAll:
		return func(Account) bool { return true }, nil
	case FilterPinned:
		return func(account Account) bool { return account.Pinned }, nil
	}
	category, err := workflow.ParseCategory(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, scope)
	}
	return func(account Account) bool { return account.Category == category }, nil
}

func sortAccounts(accounts []Account, sortOrder SortOrder) {
	sort.SliceStable(accounts, func(left, right int) bool {
		first, second := accounts[left], accounts[right]
		if first.Pinned != second.Pinned {
			return first.Pinned
		}
		switch sortOrder {
		case SortOldest:
			if first.FollowedAt != second.FollowedAt {
				return first.FollowedAt < second.FollowedAt
			}
		case SortRecent:
			if first.FollowedAt != second.FollowedAt {
				return first.FollowedAt > second.FollowedAt
			}
		}
		return first.Username < second.Username
	})
}
