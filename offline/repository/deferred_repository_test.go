package repository

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/common"
	"github.com/AzielCF/az-offline/offline/domain/deferred"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deferredRepos(t *testing.T) map[string]deferred.Repository {
	t.Helper()
	g := NewDeferredGormRepository(openTestDB(t))
	require.NoError(t, g.Init(context.Background()))
	return map[string]deferred.Repository{
		"memory": NewMemoryDeferredRepository(),
		"sqlite": g,
	}
}

func write(id string, at time.Time) deferred.DeferredWrite {
	return deferred.DeferredWrite{
		ID: id,
		Payload: deferred.Payload{
			Method: http.MethodPost,
			URL:    "https://api.example.com/orders",
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   []byte(`{"side":"buy","qty":1}`),
		},
		CreatedAt: at,
	}
}

func TestDeferredRepositories_FIFO(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, repo := range deferredRepos(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Add(ctx, write("a", base)))
			require.NoError(t, repo.Add(ctx, write("b", base)))
			require.NoError(t, repo.Add(ctx, write("c", base.Add(time.Second))))

			items, err := repo.List(ctx)
			require.NoError(t, err)
			require.Len(t, items, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{items[0].ID, items[1].ID, items[2].ID})

			assert.Equal(t, "application/json", items[0].Payload.Header.Get("Content-Type"))
			assert.Equal(t, `{"side":"buy","qty":1}`, string(items[0].Payload.Body))

			n, err := repo.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
		})
	}
}

func TestDeferredRepositories_RecordFailureAndRemove(t *testing.T) {
	ctx := context.Background()

	for name, repo := range deferredRepos(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Add(ctx, write("a", time.Now())))

			w, err := repo.RecordFailure(ctx, "a", "connection refused")
			require.NoError(t, err)
			assert.Equal(t, 1, w.Attempts)
			assert.Equal(t, "connection refused", w.LastError)

			w, err = repo.RecordFailure(ctx, "a", "timeout")
			require.NoError(t, err)
			assert.Equal(t, 2, w.Attempts)

			_, err = repo.RecordFailure(ctx, "missing", "x")
			assert.ErrorIs(t, err, common.ErrDeferredNotFound)

			require.NoError(t, repo.Remove(ctx, "a"))
			_, err = repo.Get(ctx, "a")
			assert.ErrorIs(t, err, common.ErrDeferredNotFound)
		})
	}
}
