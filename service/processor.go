package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"
)

// Processor consumes pipeline tasks from the queue and hands them to the
// Pipeline. Payload corruption skips the retry loop; everything else either
// completes or is recorded on the project row.
type Processor struct {
	pipeline      *Pipeline
	redisAddr     string
	redisPassword string
	concurrency   int
}

func NewProcessor(pipeline *Pipeline, redisAddr, redisPassword string, concurrency int) *Processor {
	return &Processor{
		pipeline:      pipeline,
		redisAddr:     redisAddr,
		redisPassword: redisPassword,
		concurrency:   concurrency,
	}
}

func (p *Processor) Start() {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     p.redisAddr,
			Password: p.redisPassword,
		},
		asynq.Config{
			Concurrency: p.concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePipelineGenerate, p.handleGenerate)
	mux.HandleFunc(TypePipelineRender, p.handleRender)

	log.Printf("starting pipeline processor with concurrency %d", p.concurrency)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("could not run task processor: %v", err)
		}
	}()
}

func (p *Processor) handleGenerate(ctx context.Context, t *asynq.Task) error {
	var payload PipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("[processor] generate task for project %s", payload.ProjectID)
	p.pipeline.Run(ctx, payload.ProjectID, payload.MimeType)
	return nil
}

func (p *Processor) handleRender(ctx context.Context, t *asynq.Task) error {
	var payload PipelinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("[processor] render task for project %s", payload.ProjectID)
	p.pipeline.Render(ctx, payload.ProjectID)
	return nil
}
