package services

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"auto-scholar/models"
)

// TaskFunc ist die von einem TaskRunner ausgeführte Arbeit. Das
// zurückgegebene Summary landet im Erfolgsfall in der Task-Zeile.
type TaskFunc func(ctx context.Context) (map[string]interface{}, error)

// TaskRunner kapselt die Task-Buchführung: jede Ausführung bekommt eine
// Task-Zeile mit Start- und Endzeit und wird genau einmal auf SUCCESS
// oder FAILED finalisiert.
type TaskRunner struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewTaskRunner erstellt einen TaskRunner.
func NewTaskRunner(db *gorm.DB, logger *zap.Logger) *TaskRunner {
	return &TaskRunner{DB: db, Logger: logger}
}

// Run legt eine Task-Zeile mit Status RUNNING an, führt fn synchron aus
// und finalisiert die Zeile. Der Fehler von fn wird unverändert
// zurückgereicht, damit Aufrufer ihn weiterbehandeln können.
func (r *TaskRunner) Run(ctx context.Context, taskType, trigger string, params map[string]interface{}, fn TaskFunc) (*models.Task, error) {
	task, err := r.begin(taskType, trigger, params)
	if err != nil {
		return nil, err
	}
	return task, r.execute(ctx, task, fn)
}

// RunAsync legt die Task-Zeile synchron an und führt fn im Hintergrund
// aus. Die zurückgegebene Zeile hat Status RUNNING; der Aufrufer kann den
// Ausgang über ihre ID nachschlagen.
func (r *TaskRunner) RunAsync(ctx context.Context, taskType, trigger string, params map[string]interface{}, fn TaskFunc) (*models.Task, error) {
	task, err := r.begin(taskType, trigger, params)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := r.execute(ctx, task, fn); err != nil {
			r.Logger.Error("Hintergrund-Task fehlgeschlagen",
				zap.Uint("task_id", task.ID), zap.String("task_type", taskType), zap.Error(err))
		}
	}()
	return task, nil
}

func (r *TaskRunner) begin(taskType, trigger string, params map[string]interface{}) (*models.Task, error) {
	now := time.Now()
	task := &models.Task{
		TaskType:    taskType,
		Params:      datatypes.JSONMap(params),
		Status:      models.TaskStatusRunning,
		TriggerType: trigger,
		StartTime:   &now,
	}
	if err := r.DB.Create(task).Error; err != nil {
		return nil, err
	}
	r.Logger.Info("Task gestartet.",
		zap.Uint("task_id", task.ID),
		zap.String("task_type", taskType),
		zap.String("trigger", trigger))
	return task, nil
}

func (r *TaskRunner) execute(ctx context.Context, task *models.Task, fn TaskFunc) error {
	log := r.Logger.With(zap.Uint("task_id", task.ID), zap.String("task_type", task.TaskType))

	summary, err := fn(ctx)

	end := time.Now()
	task.EndTime = &end
	if err != nil {
		task.Status = models.TaskStatusFailed
		task.ErrorMessage = err.Error()
		log.Error("Task fehlgeschlagen", zap.Error(err))
	} else {
		task.Status = models.TaskStatusSuccess
		task.ResultSummary = datatypes.JSONMap(summary)
		log.Info("Task erfolgreich abgeschlossen", zap.Duration("duration", end.Sub(*task.StartTime)))
	}

	if dbErr := r.DB.Save(task).Error; dbErr != nil {
		log.Error("Task-Zeile konnte nicht finalisiert werden", zap.Error(dbErr))
		if err == nil {
			return dbErr
		}
	}
	return err
}
