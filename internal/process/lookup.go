package process

import (
	"os/user"
	"strconv"
)

// Lookup resolves user and group names to numeric ids.
type Lookup interface {
	UserID(name string) (uint32, bool)
	GroupID(name string) (uint32, bool)
}

// OSLookup resolves names through the host's user database.
type OSLookup struct{}

func (OSLookup) UserID(name string) (uint32, bool) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, false
	}
	return parseID(u.Uid)
}

func (OSLookup) GroupID(name string) (uint32, bool) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, false
	}
	return parseID(g.Gid)
}

// resolveID accepts a numeric id directly and falls back to byName.
func resolveID(s string, byName func(string) (uint32, bool)) (uint32, bool) {
	if s == "" {
		return 0, false
	}
	if id, ok := parseID(s); ok {
		return id, true
	}
	return byName(s)
}

func parseID(s string) (uint32, bool) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
