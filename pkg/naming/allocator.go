package naming

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCandidates bounds collision resolution: the base name plus base_1 up to
// base_99.
const MaxCandidates = 100

var ErrNamingExhausted = errors.New("naming: name space exhausted")

// Allocator hands out names that are unique ignoring case. An owner keeps the
// first name it was given.
type Allocator struct {
	taken   map[string]any
	byOwner map[any]string
}

func NewAllocator() *Allocator {
	return &Allocator{
		taken:   make(map[string]any),
		byOwner: make(map[any]string),
	}
}

type reserved struct{}

// Reserve marks names no owner may receive.
func (a *Allocator) Reserve(names ...string) {
	for _, n := range names {
		a.taken[strings.ToLower(n)] = reserved{}
	}
}

// Allocate returns base or the first free base_N for owner, which must be
// comparable.
func (a *Allocator) Allocate(base string, owner any) (string, error) {
	if name, ok := a.byOwner[owner]; ok {
		return name, nil
	}
	for i := range MaxCandidates {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d", base, i)
		}
		fold := strings.ToLower(candidate)
		if _, used := a.taken[fold]; used {
			continue
		}
		a.taken[fold] = owner
		a.byOwner[owner] = candidate
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q has %d owners", ErrNamingExhausted, base, MaxCandidates)
}

// Len reports how many names have been handed out.
func (a *Allocator) Len() int { return len(a.byOwner) }
