package domain

import (
	"context"
	"time"
)

// FetchJobCause описывает источник запроса на выгрузку.
type FetchJobCause string

const (
	// FetchCauseManual — выгрузка запрошена через API.
	FetchCauseManual FetchJobCause = "manual"
	// FetchCauseCLI — выгрузка запущена напрямую из консоли.
	FetchCauseCLI FetchJobCause = "cli"
)

// FetchJob содержит информацию о задаче выгрузки результатов.
// Токен живёт только в payload очереди и нигде не сохраняется.
type FetchJob struct {
	ID          string        `json:"job_id"`
	AccessToken string        `json:"access_token"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       FetchJobCause `json:"cause"`
}

// FetchQueue описывает очередь задач на выгрузку.
type FetchQueue interface {
	Enqueue(ctx context.Context, job FetchJob) error
	Pop(ctx context.Context) (FetchJob, error)
}
