package certify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/kit/metrics"
)

type instrumentingMiddleware struct {
	requestCount   metrics.Counter
	requestLatency metrics.Histogram
	next           Service
}

func NewInstrumentingMiddleware(counter metrics.Counter, latency metrics.Histogram) Middleware {
	return func(next Service) Service {
		return &instrumentingMiddleware{
			requestCount:   counter,
			requestLatency: latency,
			next:           next,
		}
	}
}

func (mw *instrumentingMiddleware) observe(method string, begin time.Time, err error) {
	lvs := []string{"method", method, "error", fmt.Sprint(err != nil)}
	mw.requestCount.With(lvs...).Add(1)
	mw.requestLatency.With(lvs...).Observe(time.Since(begin).Seconds())
}

func (mw *instrumentingMiddleware) Health(ctx context.Context) bool {
	defer func(begin time.Time) {
		mw.observe("Health", begin, nil)
	}(time.Now())
	return mw.next.Health(ctx)
}

func (mw *instrumentingMiddleware) Submit(ctx context.Context, doc Document) (res SubmitResult, err error) {
	defer func(begin time.Time) {
		mw.observe("Submit", begin, err)
	}(time.Now())
	return mw.next.Submit(ctx, doc)
}

func (mw *instrumentingMiddleware) Verify(ctx context.Context, id string, presented *Document) (v Verdict, err error) {
	defer func(begin time.Time) {
		mw.observe("Verify", begin, err)
	}(time.Now())
	return mw.next.Verify(ctx, id, presented)
}

func (mw *instrumentingMiddleware) Revoke(ctx context.Context, id string, authority string, reason string) (err error) {
	defer func(begin time.Time) {
		mw.observe("Revoke", begin, err)
	}(time.Now())
	return mw.next.Revoke(ctx, id, authority, reason)
}

func (mw *instrumentingMiddleware) Certificates(ctx context.Context, issuer string) (certs []Certificate, err error) {
	defer func(begin time.Time) {
		mw.observe("Certificates", begin, err)
	}(time.Now())
	return mw.next.Certificates(ctx, issuer)
}

func (mw *instrumentingMiddleware) Stats(ctx context.Context) (st Stats, err error) {
	defer func(begin time.Time) {
		mw.observe("Stats", begin, err)
	}(time.Now())
	return mw.next.Stats(ctx)
}

func (mw *instrumentingMiddleware) Audit(ctx context.Context) (r AuditReport, err error) {
	defer func(begin time.Time) {
		mw.observe("Audit", begin, err)
	}(time.Now())
	return mw.next.Audit(ctx)
}
