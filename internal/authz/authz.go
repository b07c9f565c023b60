// Package authz carries the admin capability required by privileged ledger operations.
package authz

import (
	"github.com/ayo6706/ledger-engine/internal/domain"
	"github.com/google/uuid"
)

// AdminClaim proves the caller was authorized as an administrator.
// The zero value grants nothing.
type AdminClaim struct {
	actorID uuid.UUID
	granted bool
}

// GrantAdmin issues a claim for actorID. Call it only after the caller's admin role was verified.
func GrantAdmin(actorID uuid.UUID) AdminClaim {
	return AdminClaim{actorID: actorID, granted: actorID != uuid.Nil}
}

// ActorID returns the administrator behind the claim.
func (c AdminClaim) ActorID() uuid.UUID {
	return c.actorID
}

// Actor returns the actor id as a pointer for audit records.
func (c AdminClaim) Actor() *uuid.UUID {
	if !c.granted {
		return nil
	}
	id := c.actorID
	return &id
}

// Require fails with domain.ErrUnauthorized unless the claim was granted.
func (c AdminClaim) Require() error {
	if !c.granted {
		return domain.ErrUnauthorized
	}
	return nil
}
