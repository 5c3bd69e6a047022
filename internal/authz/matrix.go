// Package authz maps (role, operation) to allow/deny. The matrix is explicit
// data loaded at startup; roles carry their own operation sets with no
// inheritance between them, so new roles and operations are additive.
package authz

import (
	domainerrors "gatehouse/pkg/domain-errors"
)

// Role tags a principal's privilege level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Operation tags an invokable business operation.
const (
	OpProfileRead   = "profile:read"
	OpListingRead   = "listing:read"
	OpListingCreate = "listing:create"
	OpListingUpdate = "listing:update"
	OpListingDelete = "listing:delete"
	OpUserManage    = "user:manage"
)

// Matrix holds each role's explicitly allowed operations.
type Matrix map[Role]map[string]struct{}

// Default returns the matrix shipped with the service. Admin is not a
// superset of user; each set is spelled out.
func Default() Matrix {
	return Matrix{
		RoleUser: set(
			OpProfileRead,
			OpListingRead,
			OpListingCreate,
			OpListingUpdate,
			OpListingDelete,
		),
		RoleAdmin: set(
			OpProfileRead,
			OpListingRead,
			OpUserManage,
		),
	}
}

// Authorize fails with Forbidden unless the operation is explicitly listed
// for the role. Unknown roles are denied everything.
func (m Matrix) Authorize(role Role, operation string) error {
	ops, ok := m[role]
	if !ok {
		return domainerrors.New(domainerrors.CodeForbidden, "role not permitted")
	}
	if _, ok := ops[operation]; !ok {
		return domainerrors.New(domainerrors.CodeForbidden, "operation not permitted")
	}
	return nil
}

// RequireOwner enforces the resource-ownership comparison mutation operations
// perform after the matrix check. It is a per-resource check, not part of the
// matrix itself.
func RequireOwner(ownerID, callerID int64) error {
	if ownerID != callerID {
		return domainerrors.New(domainerrors.CodeForbidden, "not the resource owner")
	}
	return nil
}

func set(ops ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		out[op] = struct{}{}
	}
	return out
}
