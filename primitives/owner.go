package primitives

import (
	"context"

	"github.com/google/uuid"
)

// Owner identifies the logical holder of a primitive. Recursive locks use it
// to recognise re-entry; every hold records it for diagnostics.
type Owner string

// Anonymous is recorded for acquisitions made without an owner in context.
const Anonymous Owner = "anonymous"

type ownerKeyType struct{}

var ownerKey ownerKeyType

// NewOwner returns a fresh, random owner identity.
func NewOwner() Owner {
	return Owner(uuid.NewString())
}

// WithOwner returns a context that carries owner.
func WithOwner(ctx context.Context, owner Owner) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext returns the owner stored in ctx, if any.
func OwnerFromContext(ctx context.Context) (Owner, bool) {
	o, ok := ctx.Value(ownerKey).(Owner)
	return o, ok && o != ""
}

func ownerOrAnonymous(ctx context.Context) Owner {
	if o, ok := OwnerFromContext(ctx); ok {
		return o
	}
	return Anonymous
}
