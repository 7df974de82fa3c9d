package dummydb

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core/alert"
)

func TestAlertRepository_Transact(t *testing.T) {
	write := func(ctx context.Context, tx alert.Repository) error {
		if _, err := tx.CreateAlert(ctx, alert.Alert{StudentID: 1, CourseID: 2, Type: alert.TypePoorQuiz}); err != nil {
			return err
		}
		return tx.UpsertGenerationLog(ctx, alert.GenerationLog{
			StudentID: 1, CourseID: 2, Key: "quiz_1",
			LastGeneratedAt: time.Now(), LastValue: null.Float64From(30),
		})
	}

	tests := []struct {
		name    string
		ctx     func() context.Context
		fnErr   error
		wantErr error
		kept    bool
	}{
		{name: "commit", ctx: context.Background, kept: true},
		{name: "fn fails", ctx: context.Background, fnErr: errors.New("boom"), wantErr: errors.New("boom")},
		{
			name: "context ends before commit",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			wantErr: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open()
			require.NoError(t, err)
			repo := NewAlertRepository(db)
			ctx := tt.ctx()

			err = repo.Transact(ctx, func(tx alert.Repository) error {
				if err := write(ctx, tx); err != nil {
					return err
				}
				return tt.fnErr
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr.Error(), err.Error())
			} else {
				require.NoError(t, err)
			}

			if tt.kept {
				assert.Len(t, db.Alerts(), 1)
				assert.Len(t, db.GenerationLogs(), 1)
				return
			}
			assert.Empty(t, db.Alerts(), "writes are rolled back")
			assert.Empty(t, db.GenerationLogs(), "writes are rolled back")
		})
	}
}
