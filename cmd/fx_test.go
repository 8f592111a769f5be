package main

import (
	"testing"

	"go.uber.org/fx"
	"go.yarde.network/sweeper/cmd/providers/providerstest"
	"go.yarde.network/sweeper/pkg/sweep"
)

func TestSweepApp(t *testing.T) {
	providerstest.Validate(t, fx.Invoke(func(*sweep.Loop) {}))
}
