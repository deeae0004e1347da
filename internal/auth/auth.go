// Package auth decides who may perform privileged proxy operations.
//
// The proxy asks a Policy one question, IsAuthorized(caller, op), before any
// privileged write. OwnerPolicy, the only policy shipped, grants every
// operation to the owner recorded in the proxy's frame.
package auth

import (
	"context"
	"fmt"

	"github.com/roach88/stablecall/internal/ir"
)

// Operation names a privileged proxy operation.
type Operation string

const (
	OpUpgrade           Operation = "upgradeTo"
	OpTransferOwnership Operation = "transferOwnership"
)

// OwnerReader exposes the owner of the proxy being checked.
// Implemented by *frame.Frame.
type OwnerReader interface {
	Owner(ctx context.Context) (ir.Address, error)
}

// Policy is the Upgrade Authority.
type Policy interface {
	IsAuthorized(ctx context.Context, owner OwnerReader, caller ir.Address, op Operation) (bool, error)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, owner OwnerReader, caller ir.Address, op Operation) (bool, error)

// IsAuthorized calls f.
func (f PolicyFunc) IsAuthorized(ctx context.Context, owner OwnerReader, caller ir.Address, op Operation) (bool, error) {
	return f(ctx, owner, caller, op)
}

// OwnerPolicy authorizes exactly the current owner for every operation.
// An uninitialized proxy has no owner, so nobody is authorized.
type OwnerPolicy struct{}

// IsAuthorized implements Policy.
func (OwnerPolicy) IsAuthorized(ctx context.Context, owner OwnerReader, caller ir.Address, _ Operation) (bool, error) {
	current, err := owner.Owner(ctx)
	if err != nil {
		return false, fmt.Errorf("read owner: %w", err)
	}
	if current.IsZero() || caller.IsZero() {
		return false, nil
	}
	return current == caller, nil
}
