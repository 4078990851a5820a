package queue

import (
	"context"
	"time"

	"github.com/codebuildervaibhav/diarized-transcription/internal/pipeline"
)

// Job is a transcription request waiting for a worker.
type Job struct {
	Request   pipeline.Request
	CreatedAt time.Time

	ctx    context.Context
	result chan jobResult
}

type jobResult struct {
	res *pipeline.Result
	err error
}

func newJob(ctx context.Context, req pipeline.Request) *Job {
	return &Job{
		Request:   req,
		CreatedAt: time.Now(),
		ctx:       ctx,
		result:    make(chan jobResult, 1),
	}
}
