package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/openusage/meterd/internal/store"
)

func TestInsertSamplesWritesOneRowPerSample(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "usage_samples")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	samples := []store.Sample{
		{SourceID: "alpha", Label: "Session", Used: 30, Limit: 100, Plan: "pro", RecordedAt: now},
		{SourceID: "alpha", Label: "Week", Used: 120, Limit: 500, Plan: "pro", RecordedAt: now},
	}

	for _, sample := range samples {
		mock.ExpectExec("INSERT INTO usage_samples").
			WithArgs(
				string(sample.SourceID),
				sample.Label,
				sample.Used,
				sample.Limit,
				sample.Plan,
				sample.RecordedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	require.NoError(t, s.InsertSamples(context.Background(), samples))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSamplesPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "usage_samples")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO usage_samples").
		WithArgs("alpha", "Session", 30.0, 100.0, "", time.Time{}).
		WillReturnError(errors.New("connection reset"))

	err = s.InsertSamples(context.Background(), []store.Sample{
		{SourceID: "alpha", Label: "Session", Used: 30, Limit: 100},
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSamplesRejectsMissingSourceID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)

	err = s.InsertSamples(context.Background(), []store.Sample{{Label: "Session"}})
	require.Error(t, err)
}

func TestNewWithPoolValidatesTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "usage; DROP TABLE users")
	require.Error(t, err)

	_, err = NewWithPool(nil, "usage_samples")
	require.Error(t, err)
}
