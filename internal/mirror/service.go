package mirror

import (
	"context"
	"log/slog"

	"github.com/ahmethakanbesel/cryptoprices/internal/apperror"
)

const defaultListLimit = 20

type Service struct {
	repo RunRepository
}

func NewService(repo RunRepository) *Service {
	return &Service{repo: repo}
}

// RecoverInterrupted marks runs left running by a previous process as failed.
func (s *Service) RecoverInterrupted(ctx context.Context) error {
	n, err := s.repo.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("marked interrupted sync runs as failed", "count", n)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, req GetRunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

func (s *Service) List(ctx context.Context, req ListRunsRequest) ([]Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	return s.repo.List(ctx, req.Status, limit)
}

type GetRunRequest struct {
	ID int64
}

func (r GetRunRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid run id")
	}
	return nil
}

type ListRunsRequest struct {
	Status Status
	Limit  int
}

func (r ListRunsRequest) Validate() *apperror.AppError {
	if r.Status != "" && !r.Status.Valid() {
		return apperror.New(apperror.BadRequest, "status must be one of running, completed, failed")
	}
	if r.Limit < 0 || r.Limit > 100 {
		return apperror.New(apperror.BadRequest, "limit must be between 1 and 100")
	}
	return nil
}
