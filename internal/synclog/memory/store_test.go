package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/catalogsync/internal/domain"
	"github.com/utafrali/catalogsync/internal/synclog"
	"github.com/utafrali/catalogsync/internal/synclog/synclogtest"
)

func TestStore_Contract(t *testing.T) {
	synclogtest.Run(t, func(*testing.T) synclog.Store { return New() })
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	msg := "boom"
	require.NoError(t, s.Append(ctx, &domain.SyncLog{
		ID: "x", Kind: domain.SyncKindFull, Status: domain.StatusRunning,
		StartedAt: time.Now(), FirstError: &msg,
	}))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	*got.FirstError = "mutated"

	again, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "boom", *again.FirstError)
}
