package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auto-scholar/models"
)

func TestTaskRunnerSuccess(t *testing.T) {
	db := newTestDB(t)
	runner := NewTaskRunner(db, zap.NewNop())

	params := map[string]interface{}{"source": "huggingface"}
	task, err := runner.Run(context.Background(), models.TaskTypeCrawl, models.TriggerManual, params,
		func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"saved": 2}, nil
		})
	require.NoError(t, err)
	require.NotNil(t, task)

	var reloaded models.Task
	require.NoError(t, db.First(&reloaded, task.ID).Error)
	assert.Equal(t, models.TaskStatusSuccess, reloaded.Status)
	assert.Equal(t, models.TaskTypeCrawl, reloaded.TaskType)
	assert.Equal(t, models.TriggerManual, reloaded.TriggerType)
	assert.NotNil(t, reloaded.StartTime)
	assert.NotNil(t, reloaded.EndTime)
	assert.Equal(t, json.Number("2"), reloaded.ResultSummary["saved"])
	assert.EqualValues(t, "huggingface", reloaded.Params["source"])
	assert.Empty(t, reloaded.ErrorMessage)
}

func TestTaskRunnerFailure(t *testing.T) {
	db := newTestDB(t)
	runner := NewTaskRunner(db, zap.NewNop())

	taskErr := errors.New("upstream exploded")
	task, err := runner.Run(context.Background(), models.TaskTypeGenerateBatch, models.TriggerScheduled, nil,
		func(ctx context.Context) (map[string]interface{}, error) {
			return nil, taskErr
		})
	require.ErrorIs(t, err, taskErr)
	require.NotNil(t, task)

	var reloaded models.Task
	require.NoError(t, db.First(&reloaded, task.ID).Error)
	assert.Equal(t, models.TaskStatusFailed, reloaded.Status)
	assert.Equal(t, "upstream exploded", reloaded.ErrorMessage)
	assert.NotNil(t, reloaded.EndTime)
	assert.Empty(t, reloaded.ResultSummary)
}

func TestTaskRunnerRecordsRegenerateFailure(t *testing.T) {
	db := newTestDB(t)
	runner := NewTaskRunner(db, zap.NewNop())
	o := newTestOrchestrator(t, db, nil, &fakeGenerator{}, &fakeWriter{})

	_, err := runner.Run(context.Background(), models.TaskTypeGenerateSingle, models.TriggerManual,
		map[string]interface{}{"paper_id": "arxiv-zzz"},
		func(ctx context.Context) (map[string]interface{}, error) {
			report, err := o.Regenerate(ctx, "arxiv-zzz", "")
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"report_id": report.ID}, nil
		})
	require.ErrorIs(t, err, ErrPaperNotFound)

	var tasks []models.Task
	require.NoError(t, db.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatusFailed, tasks[0].Status)
	assert.Contains(t, tasks[0].ErrorMessage, "paper not found")
}

func TestTaskRunnerAsyncFinalizes(t *testing.T) {
	db := newTestDB(t)
	runner := NewTaskRunner(db, zap.NewNop())

	done := make(chan struct{})
	task, err := runner.RunAsync(context.Background(), models.TaskTypeCrawl, models.TriggerManual, nil,
		func(ctx context.Context) (map[string]interface{}, error) {
			<-done
			return map[string]interface{}{"saved": 1}, nil
		})
	require.NoError(t, err)
	require.NotZero(t, task.ID)
	assert.Equal(t, models.TaskStatusRunning, task.Status)

	close(done)
	assert.Eventually(t, func() bool {
		var reloaded models.Task
		if err := db.First(&reloaded, task.ID).Error; err != nil {
			return false
		}
		return reloaded.Status == models.TaskStatusSuccess && reloaded.EndTime != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTaskRunnerMarksRunningDuringExecution(t *testing.T) {
	db := newTestDB(t)
	runner := NewTaskRunner(db, zap.NewNop())

	var observed string
	_, err := runner.Run(context.Background(), models.TaskTypeGenerateSingle, models.TriggerManual, nil,
		func(ctx context.Context) (map[string]interface{}, error) {
			var running models.Task
			if err := db.Order("id desc").First(&running).Error; err != nil {
				return nil, err
			}
			observed = running.Status
			return nil, nil
		})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusRunning, observed)
}
