package policy

import (
	"strings"

	"github.com/jake-scott/iotctl/internal/pkg/apperror"
)

// Guard is the optional identifier whitelist for property writes and
// service invocations.  A nil Guard allows everything.
type Guard struct {
	allowed map[string]struct{}
	ordered []string
}

// NewGuard returns nil when the list is empty
func NewGuard(identifiers []string) *Guard {
	g := &Guard{allowed: map[string]struct{}{}}
	for _, id := range identifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := g.allowed[id]; dup {
			continue
		}
		g.allowed[id] = struct{}{}
		g.ordered = append(g.ordered, id)
	}

	if len(g.ordered) == 0 {
		return nil
	}
	return g
}

// Allows reports whether an identifier may be written
func (g *Guard) Allows(identifier string) bool {
	if g == nil {
		return true
	}
	_, ok := g.allowed[identifier]
	return ok
}

// Identifiers lists the whitelist in configuration order, nil when unset
func (g *Guard) Identifiers() []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), g.ordered...)
}

// Check fails on the first identifier outside the whitelist
func (g *Guard) Check(identifiers ...string) error {
	for _, id := range identifiers {
		if !g.Allows(id) {
			return apperror.New(apperror.CodeWriteGuardBlocked, "identifier %q is not in the IOT_WRITABLE_IDENTIFIERS whitelist", id)
		}
	}
	return nil
}
