package workflow

import (
	"errors"
	"strings"

	"github.com/f-sync/followback/internal/identity"
)

// Category is the review state of a flagged account.
type Category string

const (
	// CategoryPending is the derived default: flagged and in no explicit set.
	CategoryPending Category = "pending"

	// CategoryToDecide holds accounts the user has not decided on yet.
	CategoryToDecide Category = "tbd"

	// CategoryNotFound holds accounts whose profile no longer resolves.
	CategoryNotFound Category = "not-found"

	// CategoryDone holds accounts the user has unfollowed.
	CategoryDone Category = "done"

	errMessageUnknownCategory = "unknown category"
	errMessageNotPending      = "account is not pending"
	categoryNotFoundAlias     = "not_found"
	categoryToDecideAlias     = "to-decide"
)

var (
	// ErrUnknownCategory is returned for category names outside the four categories.
	ErrUnknownCategory = errors.New(errMessageUnknownCategory)

	// ErrNotPending is returned when pinning or unpinning an account outside pending.
	ErrNotPending = errors.New(errMessageNotPending)
)

// AllCategories lists the categories in display order.
func AllCategories() []Category {
	return []Category{CategoryPending, CategoryToDecide, CategoryNotFound, CategoryDone}
}

// ParseCategory converts a category name into a Category.
func ParseCategory(name string) (Category, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	switch normalized {
	case string(CategoryPending):
		return CategoryPending, nil
	case string(CategoryToDecide), categoryToDecideAlias:
		return CategoryToDecide, nil
	case string(CategoryNotFound), categoryNotFoundAlias:
		return CategoryNotFound, nil
	case string(CategoryDone):
		return CategoryDone, nil
	default:
		return "", ErrUnknownCategory
	}
}

// Categories is the persisted form of the explicit sets.
type Categories struct {
	Done     []string
	ToDecide []string
	NotFound []string
	Visited  []string
	Pinned   []string
}

// Counts is the number of accounts per category.
type Counts struct {
	Pending  int `json:"pending"`
	ToDecide int `json:"tbd"`
	NotFound int `json:"notFound"`
	Done     int `json:"done"`
	Pinned   int `json:"pinned"`
	Visited  int `json:"visited"`
}

// Store owns the explicit category sets. Pending is computed from the flagged set. Store is
// not safe for concurrent use.
type Store struct {
	flagged  identity.UsernameSet
	toDecide identity.UsernameSet
	notFound identity.UsernameSet
	done     identity.UsernameSet
	visited  identity.UsernameSet
	pinned   identity.UsernameSet
}

// NewStore builds a store from persisted categories and reconciles it against flagged.
func NewStore(flagged identity.UsernameSet, persisted Categories) *Store {
	store := &Store{
		flagged:  identity.NewUsernameSet(),
		toDecide: identity.NewUsernameSet(persisted.ToDecide...),
		notFound: identity.NewUsernameSet(persisted.NotFound...),
		done:     identity.NewUsernameSet(persisted.Done...),
		visited:  identity.NewUsernameSet(persisted.Visited...),
		pinned:   identity.NewUsernameSet(persisted.Pinned...),
	}
	store.Reconcile(flagged)
	return store
}

// MoveTo places username in category, removing it from every other explicit set. Leaving
// pending drops the pin.
func (store *Store) MoveTo(username string, category Category) error {
	target, err := ParseCategory(string(category))
	if err != nil {
		return err
	}
	delete(store.toDecide, username)
	delete(store.notFound, username)
	delete(store.done, username)
	switch target {
	case CategoryToDecide:
		store.toDecide.Add(username)
	case CategoryNotFound:
		store.notFound.Add(username)
	case CategoryDone:
		store.done.Add(username)
	}
	if target != CategoryPending {
		delete(store.pinned, username)
	}
	return nil
}

// Pin marks a pending account.
func (store *Store) Pin(username string) error {
	if !store.isPending(username) {
		return ErrNotPending
	}
	store.pinned.Add(username)
	return nil
}

// Unpin clears the pin of a pending account.
func (store *Store) Unpin(username string) error {
	if !store.isPending(username) {
		return ErrNotPending
	}
	delete(store.pinned, username)
	return nil
}

// MarkVisited records that the profile of username was opened.
func (store *Store) MarkVisited(username string) {
	store.visited.Add(username)
}

// Reconcile replaces the flagged set and purges every explicit set of accounts no longer
// flagged. Overlapping category sets resolve to done, then not-found, then tbd.
func (store *Store) Reconcile(flagged identity.UsernameSet) {
	store.flagged = flagged.Clone()
	for _, set := range []identity.UsernameSet{store.toDecide, store.notFound, store.done, store.visited, store.pinned} {
		for username := range set {
			if !store.flagged.Contains(username) {
				delete(set, username)
			}
		}
	}
	for username := range store.done {
		delete(store.notFound, username)
		delete(store.toDecide, username)
	}
	for username := range store.notFound {
		delete(store.toDecide, username)
	}
	for username := range store.pinned {
		if !store.isPending(username) {
			delete(store.pinned, username)
		}
	}
}

// Reset returns every flagged account to pending and forgets visits and pins.
func (store *Store) Reset() {
	store.toDecide = identity.NewUsernameSet()
	store.notFound = identity.NewUsernameSet()
	store.done = identity.NewUsernameSet()
	store.visited = identity.NewUsernameSet()
	store.pinned = identity.NewUsernameSet()
}

// IsFlagged reports whether username is part of the flagged set.
func (store *Store) IsFlagged(username string) bool {
	return store.flagged.Contains(username)
}

// CategoryOf returns the category of a flagged account. The boolean is false for accounts
// outside the flagged set.
func (store *Store) CategoryOf(username string) (Category, bool) {
	if !store.flagged.Contains(username) {
		return "", false
	}
	switch {
	case store.done.Contains(username):
		return CategoryDone, true
	case store.notFound.Contains(username):
		return CategoryNotFound, true
	case store.toDecide.Contains(username):
		return CategoryToDecide, true
	default:
		return CategoryPending, true
	}
}

func (store *Store) IsPinned(username string) bool {
	return store.pinned.Contains(username)
}

func (store *Store) IsVisited(username string) bool {
	return store.visited.Contains(username)
}

// Members returns the sorted members of category.
func (store *Store) Members(category Category) []string {
	switch category {
	case CategoryToDecide:
		return store.toDecide.Sorted()
	case CategoryNotFound:
		return store.notFound.Sorted()
	case CategoryDone:
		return store.done.Sorted()
	case CategoryPending:
		pending := identity.NewUsernameSet()
		for username := range store.flagged {
			if store.isPending(username) {
				pending.Add(username)
			}
		}
		return pending.Sorted()
	default:
		return []string{}
	}
}

// Flagged returns the sorted flagged set.
func (store *Store) Flagged() []string {
	return store.flagged.Sorted()
}

// Counts tallies every category.
func (store *Store) Counts() Counts {
	return Counts{
		Pending:  len(store.flagged) - len(store.toDecide) - len(store.notFound) - len(store.done),
		ToDecide: len(store.toDecide),
		NotFound: len(store.notFound),
		Done:     len(store.done),
		Pinned:   len(store.pinned),
		Visited:  len(store.visited),
	}
}

// Export returns the explicit sets for persistence.
func (store *Store) Export() Categories {
	return Categories{
		Done:     store.done.Sorted(),
		ToDecide: store.toDecide.Sorted(),
		NotFound: store.notFound.Sorted(),
		Visited:  store.visited.Sorted(),
		Pinned:   store.pinned.Sorted(),
	}
}

// Clone returns an independent copy.
func (store *Store) Clone() *Store {
	return &Store{
		flagged:  store.flagged.Clone(),
		toDecide: store.toDecide.Clone(),
		notFound: store.notFound.Clone(),
		done:     store.done.Clone(),
		visited:  store.visited.Clone(),
		pinned:   store.pinned.Clone(),
	}
}

func (store *Store) isPending(username string) bool {
	return store.flagged.Contains(username) &&
		!store.toDecide.Contains(username) &&
		!store.notFound.Contains(username) &&
		!store.done.Contains(username)
}
