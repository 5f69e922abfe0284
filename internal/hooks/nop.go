// Package hooks provides default Hooks implementations.
package hooks

import (
	"context"

	"github.com/arloliu/sharder/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// Compile-time assertions that NopHooks implements hook callbacks.
var (
	_ func(context.Context, types.Role, types.Role) error = (*NopHooks)(nil).OnRoleChanged
	_ func(context.Context, []types.ShardID, int) error   = (*NopHooks)(nil).OnShardsChanged
	_ func(context.Context, error) error                  = (*NopHooks)(nil).OnError
)

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}
	return types.Hooks{
		OnRoleChanged:   h.OnRoleChanged,
		OnShardsChanged: h.OnShardsChanged,
		OnError:         h.OnError,
	}
}

// Fill returns a copy of h where every nil callback is replaced by its no-op version.
func Fill(h *types.Hooks) types.Hooks {
	out := NewNop()
	if h == nil {
		return out
	}
	if h.OnRoleChanged != nil {
		out.OnRoleChanged = h.OnRoleChanged
	}
	if h.OnShardsChanged != nil {
		out.OnShardsChanged = h.OnShardsChanged
	}
	if h.OnError != nil {
		out.OnError = h.OnError
	}

	return out
}

// OnRoleChanged is a no-op implementation.
func (h *NopHooks) OnRoleChanged(ctx context.Context, from, to types.Role) error {
	return nil
}

// OnShardsChanged is a no-op implementation.
func (h *NopHooks) OnShardsChanged(ctx context.Context, shards []types.ShardID, total int) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(ctx context.Context, err error) error {
	return nil
}
