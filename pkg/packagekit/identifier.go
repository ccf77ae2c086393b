package packagekit

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// Identifiers in the package schema may contain letters, digits, and
// underscores, and must not start with a digit. Each role carries its own
// prefix, which also keeps the first character alphabetic.
type idRole string

const (
	roleDirectory idRole = "Dir"
	roleComponent idRole = "Component"
)

// IdentifierAllocator issues the symbolic ids used for directories and
// components. An id is deterministic for a given input path, and never
// collides with another id issued in the same run, even when two distinct
// paths sanitize to the same string. The installer matches ids across
// upgrades to tell "same file, new version" from "new file", so an id must
// not move between builds of an unchanged file set.
type IdentifierAllocator struct {
	byInput map[string]string // (role, path) -> previously issued id
	issued  map[string]string // id -> the path it was issued for
}

func NewIdentifierAllocator() *IdentifierAllocator {
	return &IdentifierAllocator{
		byInput: make(map[string]string),
		issued:  make(map[string]string),
	}
}

// Directory returns the symbolic id for a directory at path.
func (a *IdentifierAllocator) Directory(path string) string {
	return a.allocate(roleDirectory, path)
}

// Component returns the symbolic id for the component installing path.
func (a *IdentifierAllocator) Component(path string) string {
	return a.allocate(roleComponent, path)
}

func (a *IdentifierAllocator) allocate(role idRole, path string) string {
	memoKey := string(role) + "\x00" + path
	if id, ok := a.byInput[memoKey]; ok {
		return id
	}

	id := string(role) + "_" + sanitizeIdentifier(path)

	// Distinct paths can sanitize to the same string (eg: "a-b" and
	// "a_b"). Append a short digest of the full original path, widening it
	// in the absurd case the short form is taken too. The digest depends
	// only on the path, so the disambiguated id is just as stable across
	// runs as the plain one.
	if owner, taken := a.issued[id]; taken && owner != path {
		sum := md5.Sum([]byte(path))
		for _, n := range []int{4, 8, 16} {
			candidate := fmt.Sprintf("%s_%x", id, sum[:n])
			if owner, taken := a.issued[candidate]; !taken || owner == path {
				id = candidate
				break
			}
		}
	}

	a.byInput[memoKey] = id
	a.issued[id] = path
	return id
}

// sanitizeIdentifier maps a path onto the identifier charset, replacing
// every disallowed character (path separators included) with an underscore.
func sanitizeIdentifier(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for _, r := range path {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
