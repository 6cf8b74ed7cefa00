package ai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"roomlens/internal/errs"
	"roomlens/internal/models"
)

// retryClient wraps a Client with exponential backoff plus jitter, retrying
// only transient failures up to a small attempt cap.
type retryClient struct {
	inner      Client
	maxRetries uint64
}

func WithRetry(inner Client, maxRetries int) Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &retryClient{inner: inner, maxRetries: uint64(maxRetries)}
}

func (r *retryClient) Analyze(ctx context.Context, media Media, kind models.MediaKind) (AnalyzeReport, error) {
	return retry(ctx, r.maxRetries, func() (AnalyzeReport, error) {
		return r.inner.Analyze(ctx, media, kind)
	})
}

func (r *retryClient) GenerateFix(ctx context.Context, media Media, problems []models.Problem) (FixOutput, error) {
	return retry(ctx, r.maxRetries, func() (FixOutput, error) {
		return r.inner.GenerateFix(ctx, media, problems)
	})
}

func (r *retryClient) Moderate(ctx context.Context, media Media) (Moderation, error) {
	return retry(ctx, r.maxRetries, func() (Moderation, error) {
		return r.inner.Moderate(ctx, media)
	})
}

func retry[T any](ctx context.Context, maxRetries uint64, op func() (T, error)) (T, error) {
	var result T

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second

	err := backoff.Retry(func() error {
		var err error
		result, err = op()
		if err == nil {
			return nil
		}
		if errors.Is(err, errs.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))

	return result, err
}
