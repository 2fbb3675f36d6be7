package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ericfisherdev/shelfsync/internal/application"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	flagged := freshConnection("c2")
	flagged.NeedsReconnect = true
	conns := newMemConnStore(freshConnection("c1"), flagged)

	report := application.NewHealthService(stubPinger{}, conns).Check(context.Background())
	assert.True(t, report.Healthy())
	assert.Equal(t, 2, report.Connections)
	assert.Equal(t, 1, report.NeedsReconnect)
}

func TestHealthCheck_DatabaseDown(t *testing.T) {
	report := application.NewHealthService(stubPinger{err: errors.New("disk I/O error")}, newMemConnStore()).
		Check(context.Background())

	assert.False(t, report.Healthy())
	assert.Equal(t, "unreachable", report.Database)
}
