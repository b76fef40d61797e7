package recorder

import (
	"context"

	"github.com/vegas-max/titan-arb/pkg/types"
)

// Noop discards results. Used when persistence is disabled.
type Noop struct{}

// Record implements the executor's sink without storing anything.
func (Noop) Record(context.Context, *types.ExecutionResult) error { return nil }
