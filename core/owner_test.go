package core_test

import (
	"context"

	"github.com/Swind/go-taskkit/primitives"
)

func ownerOf(ctx context.Context) string {
	o, _ := primitives.OwnerFromContext(ctx)
	return string(o)
}
