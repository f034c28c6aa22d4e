package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestSession_RetireWaitsForRelease(t *testing.T) {
	s := NewSession(1, "x", false, nil, 0)
	require.True(t, s.Acquire())
	require.True(t, s.Acquire())

	drained := s.Retire()
	assert.False(t, isClosed(drained))
	assert.False(t, s.Acquire(), "retired sessions accept no new calls")

	s.Release()
	assert.False(t, isClosed(drained))
	s.Release()
	assert.True(t, isClosed(drained))

	assert.True(t, isClosed(s.Retire()), "retiring again returns at once")
}

func TestSession_RetireIdle(t *testing.T) {
	s := NewSession(1, "x", false, nil, 0)
	assert.True(t, isClosed(s.Retire()))
	s.Release()
}

func TestSession_ClosedPoolIsTransient(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, "postgresql://u@127.0.0.1:1/db")
	require.NoError(t, err)
	s := NewSession(1, "x", false, pool, time.Second)
	s.Close()

	_, err = s.Query(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, dberr.Transient, dberr.Classify("list rows", err).Kind)
}
