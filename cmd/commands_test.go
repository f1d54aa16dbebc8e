package cmd

import (
	"context"
	"testing"

	coreconfig "github.com/AzielCF/az-offline/core/config"
	"github.com/AzielCF/az-offline/offline"
	"github.com/AzielCF/az-offline/pkg/taskworker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useGateway swaps in a gateway with a running pool and restores the
// previous one after the test.
func useGateway(t *testing.T) *taskworker.Pool {
	t.Helper()
	pool := taskworker.NewPool(1, 4)
	pool.Start(context.Background())

	prev, prevCfg := gateway, coreconfig.Global
	gateway = &offline.Gateway{Pool: pool}
	coreconfig.Global = &coreconfig.Config{Cache: coreconfig.CacheConfig{Backend: "memory", Version: 1}}
	t.Cleanup(func() {
		gateway = prev
		coreconfig.Global = prevCfg
		replaySignal = false
		refreshSignal = false
	})
	return pool
}

func TestReplaySignalWithoutValkeyFailsAndStopsGateway(t *testing.T) {
	pool := useGateway(t)
	replaySignal = true

	err := replayDeferred(replayCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VALKEY_ENABLED")
	assert.False(t, pool.Submit(taskworker.Job{Key: "k", Name: "noop", Handler: func(context.Context) error { return nil }}),
		"the pool is drained and stopped before the command returns")
}

func TestRefreshSignalWithoutValkeyFailsAndStopsGateway(t *testing.T) {
	pool := useGateway(t)
	refreshSignal = true

	err := refreshResources(refreshCmd, nil)
	require.Error(t, err)
	assert.False(t, pool.Submit(taskworker.Job{Key: "k", Name: "noop", Handler: func(context.Context) error { return nil }}))
}

func TestInstallRejectsInvalidVersionAndStopsGateway(t *testing.T) {
	pool := useGateway(t)

	err := installVersion(installCmd, []string{"latest"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid version "latest"`)
	assert.False(t, pool.Submit(taskworker.Job{Key: "k", Name: "noop", Handler: func(context.Context) error { return nil }}))
}
