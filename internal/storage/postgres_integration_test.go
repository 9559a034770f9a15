//go:build integration

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical/booklet-extractor/internal/domain"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("booklet_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s/booklet_test?sslmode=disable", host, port.Port())
}

func TestHistory_Postgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	db, err := Open(ctx, "postgres", dsn, PoolConfig{MaxOpenConns: 4, MaxIdleConns: 2, ConnMaxLifetime: time.Minute})
	require.NoError(t, err)
	require.NoError(t, Migrate(ctx, db))

	h := NewHistory(db)
	defer h.Close()

	run, err := h.Start(ctx, uuid.New(), "act.pdf", "out/act")
	require.NoError(t, err)

	links := domain.NewQuestionFigureMap()
	links.Add(7, "figure_2_1.png")
	links.Add(3, "figure_1_1.png")

	require.NoError(t, h.Finish(ctx, run.ID, RunSummary{
		TextStrategy:   domain.TextStrategyLayout,
		FigureStrategy: domain.FigureStrategyLayout,
		Pages:          2,
		Figures:        2,
		Report:         json.RawMessage(`{"warnings":[]}`),
	}, []domain.Figure{
		{Page: 1, SequenceIndex: 1, Filename: "figure_1_1.png", SourceType: domain.SourceDetectedRegion, Width: 80, Height: 60},
		{Page: 2, SequenceIndex: 1, Filename: "figure_2_1.png", SourceType: domain.SourceDetectedRegion, Width: 80, Height: 60},
	}, links))

	detail, err := h.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusSucceeded, detail.Status)
	assert.Len(t, detail.FigureList, 2)
	assert.JSONEq(t, `{"warnings":[]}`, string(detail.Report))

	gotMap, err := json.Marshal(detail.Links)
	require.NoError(t, err)
	assert.Equal(t, `{"7":["figure_2_1.png"],"3":["figure_1_1.png"]}`, string(gotMap))

	runs, err := h.List(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
