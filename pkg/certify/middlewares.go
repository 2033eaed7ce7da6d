package certify

import (
	"time"

	"github.com/go-kit/kit/log"

	"context"
)

type Middleware func(Service) Service

func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger log.Logger
}

func (mw loggingMiddleware) Health(ctx context.Context) (healthy bool) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Health",
			"healthy", healthy,
			"took", time.Since(begin),
		)
	}(time.Now())
	return mw.next.Health(ctx)
}

func (mw loggingMiddleware) Submit(ctx context.Context, doc Document) (res SubmitResult, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Submit",
			"format", doc.Format,
			"size", len(doc.Raw),
			"verification_id", res.VerificationID,
			"status", res.Status,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Submit(ctx, doc)
}

func (mw loggingMiddleware) Verify(ctx context.Context, id string, presented *Document) (v Verdict, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Verify",
			"verification_id", id,
			"presented", presented != nil,
			"outcome", v.Outcome,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Verify(ctx, id, presented)
}

func (mw loggingMiddleware) Revoke(ctx context.Context, id string, authority string, reason string) (err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Revoke",
			"verification_id", id,
			"authority", authority,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Revoke(ctx, id, authority, reason)
}

func (mw loggingMiddleware) Certificates(ctx context.Context, issuer string) (certs []Certificate, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Certificates",
			"issuer", issuer,
			"count", len(certs),
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Certificates(ctx, issuer)
}

func (mw loggingMiddleware) Stats(ctx context.Context) (st Stats, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Stats",
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Stats(ctx)
}

func (mw loggingMiddleware) Audit(ctx context.Context) (r AuditReport, err error) {
	defer func(begin time.Time) {
		mw.logger.Log(
			"method", "Audit",
			"size", r.Size,
			"head", r.Head,
			"took", time.Since(begin),
			"err", err,
		)
	}(time.Now())
	return mw.next.Audit(ctx)
}
