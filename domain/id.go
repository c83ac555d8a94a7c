// Package domain holds the core ledger data model: identifiers, the peer
// set, and the account/domain/asset entries that the world state view
// projects. Types here are deliberately plain structs with no behavior
// beyond equality and string conversion — the heavy lifting lives in wsv,
// sumeragi, and the instruction set below.
package domain

import (
	"fmt"
	"strings"
)

// Id is a pair (entity name, domain name). String form is "entity@domain".
// Equality is structural (both fields must match).
type Id struct {
	EntityName string
	DomainName string
}

// NewId builds an Id from its two parts.
func NewId(entityName, domainName string) Id {
	return Id{EntityName: entityName, DomainName: domainName}
}

// String returns the canonical "entity@domain" form.
func (id Id) String() string {
	return id.EntityName + "@" + id.DomainName
}

// ParseId parses the canonical "entity@domain" form produced by String.
func ParseId(s string) (Id, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Id{}, fmt.Errorf("domain: invalid id %q, want \"entity@domain\"", s)
	}
	return Id{EntityName: parts[0], DomainName: parts[1]}, nil
}

// Equal reports structural equality.
func (id Id) Equal(other Id) bool {
	return id.EntityName == other.EntityName && id.DomainName == other.DomainName
}
