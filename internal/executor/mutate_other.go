//go:build !linux && !darwin

package executor

import (
	"context"
	"fmt"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/pterrors"
)

func (e *Executor) capture(action decision.Action, target Target, cgroupPath string) (*ReversalMetadata, error) {
	return nil, nil
}

func (e *Executor) mutate(ctx context.Context, action decision.Action, target Target, cgroupPath string) error {
	if action == decision.Keep {
		return nil
	}
	return pterrors.NotSupported(fmt.Sprintf("%s is not supported on this platform", action))
}

func (e *Executor) verify(action decision.Action, target Target, cgroupPath string) error {
	return nil
}
