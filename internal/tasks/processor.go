// Package tasks defines the maintenance tasks carried on the Redis stream
// and the processor the worker runs them with.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"framestack/internal/models"
	"framestack/internal/service"
)

const (
	TypeReclaim = "reclaim"
	TypeSweep   = "sweep"
)

var ErrIncomplete = errors.New("task left work behind")

type Task struct {
	Type     string            `json:"type"`
	Owners   []models.OwnerRef `json:"owners,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	QueuedAt time.Time         `json:"queuedAt"`
}

// Values encodes the task as stream fields.
func (t Task) Values() (map[string]any, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return map[string]any{
		"type":    t.Type,
		"payload": string(payload),
	}, nil
}

// Decode reads a task from stream fields written by Values.
func Decode(values map[string]any) (Task, error) {
	raw, ok := values["payload"].(string)
	if !ok {
		return Task{}, fmt.Errorf("decode task: missing payload")
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}

type Enqueuer interface {
	Enqueue(ctx context.Context, values map[string]any) (string, error)
}

func enqueue(ctx context.Context, q Enqueuer, t Task) (string, error) {
	t.QueuedAt = time.Now().UTC()
	values, err := t.Values()
	if err != nil {
		return "", err
	}
	return q.Enqueue(ctx, values)
}

func EnqueueSweep(ctx context.Context, q Enqueuer, reason string) (string, error) {
	return enqueue(ctx, q, Task{Type: TypeSweep, Reason: reason})
}

func EnqueueReclaim(ctx context.Context, q Enqueuer, owners ...models.OwnerRef) (string, error) {
	if len(owners) == 0 {
		return "", fmt.Errorf("enqueue reclaim: no owners")
	}
	return enqueue(ctx, q, Task{Type: TypeReclaim, Owners: owners})
}

type Reclaimer interface {
	Reclaim(ctx context.Context, owners ...models.OwnerRef) (service.ReclaimReport, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

type Processor struct {
	reaper  Reclaimer
	sweeper Sweeper
	logger  zerolog.Logger
}

func NewProcessor(reaper Reclaimer, sweeper Sweeper, logger zerolog.Logger) *Processor {
	return &Processor{
		reaper:  reaper,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Handle runs one task. Malformed and unknown tasks are logged and
// acknowledged; a task that could not finish returns an error so the
// message is delivered again.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := Decode(msg.Values)
	if err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("dropping malformed task")
		return nil
	}

	switch task.Type {
	case TypeReclaim:
		return p.handleReclaim(ctx, msg.ID, task)
	case TypeSweep:
		return p.handleSweep(ctx, msg.ID, task)
	default:
		p.logger.Warn().Str("type", task.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleReclaim(ctx context.Context, id string, task Task) error {
	report, err := p.reaper.Reclaim(ctx, task.Owners...)
	if err != nil {
		return err
	}
	if !report.Complete() {
		return fmt.Errorf("%w: %d of %d pictures partially reclaimed", ErrIncomplete,
			len(report.PartiallyReclaimed), len(report.PartiallyReclaimed)+len(report.FullyReclaimed))
	}
	p.logger.Info().
		Str("message_id", id).
		Interface("owners", task.Owners).
		Int("pictures", len(report.FullyReclaimed)).
		Msg("reclaim task done")
	return nil
}

func (p *Processor) handleSweep(ctx context.Context, id string, task Task) error {
	report, err := p.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	if !report.Complete() {
		return fmt.Errorf("%w: sweep", ErrIncomplete)
	}
	p.logger.Info().
		Str("message_id", id).
		Str("reason", task.Reason).
		Dur("queued_for", time.Since(task.QueuedAt)).
		Msg("sweep task done")
	return nil
}
