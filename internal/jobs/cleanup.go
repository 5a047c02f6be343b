// Package jobs wires the periodic maintenance tasks that run outside the
// request path, on an asynq server backed by the same Redis instance.
package jobs

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"github.com/cobaltlabs/aegis/internal/usecase"
)

// TypeResetCleanup sweeps used and expired password-reset tokens.
const TypeResetCleanup = "reset:cleanup"

const resetCleanupInterval = "@every 10m"

// Handler executes the maintenance tasks against the auth core.
type Handler struct {
	auth *usecase.AuthUsecase
}

func NewHandler(auth *usecase.AuthUsecase) *Handler {
	return &Handler{auth: auth}
}

// HandleResetCleanup prunes the reset-token store and logs the count.
func (h *Handler) HandleResetCleanup(ctx context.Context, _ *asynq.Task) error {
	count, err := h.auth.CleanupExpiredResetTokens(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		log.Printf("reset cleanup: removed %d stale tokens", count)
	}
	return nil
}

// NewServer builds the asynq worker that processes maintenance tasks.
func NewServer(redisAddr string, handler *Handler) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{Concurrency: 1},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeResetCleanup, handler.HandleResetCleanup)
	return srv, mux
}

// NewScheduler enqueues the cleanup sweep on a fixed interval.
func NewScheduler(redisAddr string) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: redisAddr}, nil)
	if _, err := scheduler.Register(resetCleanupInterval, asynq.NewTask(TypeResetCleanup, nil)); err != nil {
		return nil, err
	}
	return scheduler, nil
}
