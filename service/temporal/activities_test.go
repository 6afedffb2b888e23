package temporal

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/tradewatch/service/db"
	"github.com/brojonat/tradewatch/service/ingest"
	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// Mock page processor
type MockPages struct {
	mock.Mock
}

func (m *MockPages) ProcessPage(ctx context.Context, w ingest.Window) (*ingest.Stats, error) {
	args := m.Called(ctx, w)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.Stats), args.Error(1)
}

// Mock checkpoint store
type MockCheckpoints struct {
	mock.Mock
}

func (m *MockCheckpoints) GetCursor(ctx context.Context, name string) (*db.Checkpoint, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*db.Checkpoint), args.Error(1)
}

func (m *MockCheckpoints) SaveCursor(ctx context.Context, cp db.Checkpoint) error {
	args := m.Called(ctx, cp)
	return args.Error(0)
}

func TestActivities_ProcessPage(t *testing.T) {
	window := ingest.Window{Before: "s09"}

	tests := []struct {
		name      string
		setupMock func(*MockPages)
		errType   string
		wantStats *ingest.Stats
	}{
		{
			name: "successful page",
			setupMock: func(m *MockPages) {
				m.On("ProcessPage", mock.Anything, window).
					Return(&ingest.Stats{Total: 3, Exchanges: 3, Written: 3, Oldest: "s12"}, nil)
			},
			wantStats: &ingest.Stats{Total: 3, Exchanges: 3, Written: 3, Oldest: "s12"},
		},
		{
			name: "fetch failure",
			setupMock: func(m *MockPages) {
				m.On("ProcessPage", mock.Anything, window).
					Return(nil, &ingest.PageFetchFailure{Window: window, Err: errors.New("429")})
			},
			errType: "PageFetchFailure",
		},
		{
			name: "persistence failure",
			setupMock: func(m *MockPages) {
				m.On("ProcessPage", mock.Anything, window).
					Return(nil, &db.PersistenceFailure{Signature: "s10", Table: "market_interactions", Err: errors.New("conn reset")})
			},
			errType: "PersistenceFailure",
		},
		{
			name: "other failure",
			setupMock: func(m *MockPages) {
				m.On("ProcessPage", mock.Anything, window).
					Return(nil, context.DeadlineExceeded)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := new(MockPages)
			tt.setupMock(pages)

			reg := prometheus.NewRegistry()
			activities := NewActivities(pages, new(MockCheckpoints), metrics.NewMetrics(reg), slog.Default())
			result, err := activities.ProcessPage(context.Background(), ProcessPageInput{Window: window})

			if tt.wantStats != nil {
				require.NoError(t, err)
				require.NotNil(t, result)
				assert.Equal(t, *tt.wantStats, result.Stats)
			} else {
				require.Error(t, err)
				assert.Nil(t, result)
				var appErr *temporalsdk.ApplicationError
				if tt.errType != "" {
					require.True(t, errors.As(err, &appErr))
					assert.Equal(t, tt.errType, appErr.Type())
				} else {
					assert.ErrorIs(t, err, context.DeadlineExceeded)
				}
			}

			n, err := testutil.GatherAndCount(reg, "ingest_workflow_iterations_total")
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			pages.AssertExpectations(t)
		})
	}
}

func TestActivities_LoadCursor(t *testing.T) {
	bt := time.Unix(1700000000, 0).UTC()

	t.Run("restores saved checkpoint", func(t *testing.T) {
		cps := new(MockCheckpoints)
		cps.On("GetCursor", mock.Anything, "gm").
			Return(&db.Checkpoint{Name: "gm", Before: "saved", Until: "floor", BlockTime: &bt}, nil)

		activities := NewActivities(new(MockPages), cps, nil, nil)
		result, err := activities.LoadCursor(context.Background(), LoadCursorInput{Name: "gm"})
		require.NoError(t, err)
		assert.True(t, result.Restored)
		assert.Equal(t, ingest.Window{Before: "saved", Until: "floor"}, result.Window)
	})

	t.Run("explicit start wins", func(t *testing.T) {
		cps := new(MockCheckpoints)
		activities := NewActivities(new(MockPages), cps, nil, nil)
		result, err := activities.LoadCursor(context.Background(), LoadCursorInput{Name: "gm", Window: ingest.Window{Before: "start"}})
		require.NoError(t, err)
		assert.False(t, result.Restored)
		assert.Equal(t, "start", result.Window.Before)
		cps.AssertNotCalled(t, "GetCursor", mock.Anything, mock.Anything)
	})

	t.Run("no checkpoint", func(t *testing.T) {
		cps := new(MockCheckpoints)
		cps.On("GetCursor", mock.Anything, "gm").Return(nil, db.ErrNotFound)

		activities := NewActivities(new(MockPages), cps, nil, nil)
		result, err := activities.LoadCursor(context.Background(), LoadCursorInput{Name: "gm", Window: ingest.Window{Until: "floor"}})
		require.NoError(t, err)
		assert.False(t, result.Restored)
		assert.Equal(t, ingest.Window{Until: "floor"}, result.Window)
	})

	t.Run("store error", func(t *testing.T) {
		cps := new(MockCheckpoints)
		cps.On("GetCursor", mock.Anything, "gm").Return(nil, errors.New("db down"))

		activities := NewActivities(new(MockPages), cps, nil, nil)
		_, err := activities.LoadCursor(context.Background(), LoadCursorInput{Name: "gm"})
		assert.Error(t, err)
	})
}

func TestActivities_SaveCursor(t *testing.T) {
	cps := new(MockCheckpoints)
	cps.On("SaveCursor", mock.Anything, mock.MatchedBy(func(cp db.Checkpoint) bool {
		return cp.Name == "gm" && cp.Before == "s09" && cp.Until == "floor" &&
			cp.BlockTime != nil && cp.BlockTime.Unix() == 1700000000
	})).Return(nil).Once()
	cps.On("SaveCursor", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()

	reg := prometheus.NewRegistry()
	activities := NewActivities(new(MockPages), cps, metrics.NewMetrics(reg), nil)

	bt := int64(1700000000)
	err := activities.SaveCursor(context.Background(), SaveCursorInput{
		Name:      "gm",
		Window:    ingest.Window{Before: "s09", Until: "floor"},
		BlockTime: &bt,
	})
	require.NoError(t, err)

	err = activities.SaveCursor(context.Background(), SaveCursorInput{Name: "gm"})
	assert.ErrorContains(t, err, "save cursor gm")
	cps.AssertExpectations(t)
}

func TestMockScheduler(t *testing.T) {
	s := NewMockScheduler()
	ctx := context.Background()

	first, err := s.StartIngest(ctx, IngestWorkflowInput{CursorName: "gm"})
	require.NoError(t, err)
	assert.Equal(t, "tradewatch-ingest-gm", first.WorkflowID)

	second, err := s.StartIngest(ctx, IngestWorkflowInput{CursorName: "gm", Window: ingest.Window{Before: "x"}})
	require.NoError(t, err)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, 1, s.WorkflowCount())

	require.NoError(t, s.StopIngest(ctx, "gm"))
	st, err := s.DescribeIngest(ctx, "gm")
	require.NoError(t, err)
	assert.Equal(t, "Canceled", st.Status)

	_, err = s.DescribeIngest(ctx, "other")
	assert.Error(t, err)
}
