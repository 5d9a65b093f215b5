package service

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypePipelineGenerate = "pipeline:generate"
	TypePipelineRender   = "pipeline:render"
)

type PipelinePayload struct {
	ProjectID string `json:"project_id"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Enqueuer starts pipeline work asynchronously; the HTTP layer depends on
// this instead of the asynq client directly.
type Enqueuer interface {
	EnqueueGenerate(projectID, mimeType string) error
	EnqueueRender(projectID string) error
}

type Queue struct {
	client *asynq.Client
}

func NewQueue(redisAddr, redisPassword string) *Queue {
	return &Queue{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		}),
	}
}

func (q *Queue) EnqueueGenerate(projectID, mimeType string) error {
	return q.enqueue(TypePipelineGenerate, PipelinePayload{ProjectID: projectID, MimeType: mimeType})
}

func (q *Queue) EnqueueRender(projectID string) error {
	return q.enqueue(TypePipelineRender, PipelinePayload{ProjectID: projectID})
}

func (q *Queue) enqueue(taskType string, payload PipelinePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	task := asynq.NewTask(taskType, body,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	info, err := q.client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}

	log.Printf("[queue] enqueued %s for project %s (task %s)", taskType, payload.ProjectID, info.ID)
	return nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
