package certify

import (
	"context"
	"time"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/tracing/opentracing"
	stdopentracing "github.com/opentracing/opentracing-go"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/ledger"
)

type Endpoints struct {
	HealthEndpoint         endpoint.Endpoint
	SubmitEndpoint         endpoint.Endpoint
	VerifyEndpoint         endpoint.Endpoint
	VerifyDocumentEndpoint endpoint.Endpoint
	RevokeEndpoint         endpoint.Endpoint
	CertificatesEndpoint   endpoint.Endpoint
	StatsEndpoint          endpoint.Endpoint
	AuditEndpoint          endpoint.Endpoint
}

func MakeServerEndpoints(s Service, otTracer stdopentracing.Tracer) Endpoints {
	var healthEndpoint endpoint.Endpoint
	{
		healthEndpoint = MakeHealthEndpoint(s)
		healthEndpoint = opentracing.TraceServer(otTracer, "Health")(healthEndpoint)
	}
	var submitEndpoint endpoint.Endpoint
	{
		submitEndpoint = MakeSubmitEndpoint(s)
		submitEndpoint = opentracing.TraceServer(otTracer, "Submit")(submitEndpoint)
	}
	var verifyEndpoint endpoint.Endpoint
	{
		verifyEndpoint = MakeVerifyEndpoint(s)
		verifyEndpoint = opentracing.TraceServer(otTracer, "Verify")(verifyEndpoint)
	}
	var verifyDocumentEndpoint endpoint.Endpoint
	{
		verifyDocumentEndpoint = MakeVerifyEndpoint(s)
		verifyDocumentEndpoint = opentracing.TraceServer(otTracer, "VerifyDocument")(verifyDocumentEndpoint)
	}
	var revokeEndpoint endpoint.Endpoint
	{
		revokeEndpoint = MakeRevokeEndpoint(s)
		revokeEndpoint = opentracing.TraceServer(otTracer, "Revoke")(revokeEndpoint)
	}
	var certificatesEndpoint endpoint.Endpoint
	{
		certificatesEndpoint = MakeCertificatesEndpoint(s)
		certificatesEndpoint = opentracing.TraceServer(otTracer, "Certificates")(certificatesEndpoint)
	}
	var statsEndpoint endpoint.Endpoint
	{
		statsEndpoint = MakeStatsEndpoint(s)
		statsEndpoint = opentracing.TraceServer(otTracer, "Stats")(statsEndpoint)
	}
	var auditEndpoint endpoint.Endpoint
	{
		auditEndpoint = MakeAuditEndpoint(s)
		auditEndpoint = opentracing.TraceServer(otTracer, "Audit")(auditEndpoint)
	}
	return Endpoints{
		HealthEndpoint:         healthEndpoint,
		SubmitEndpoint:         submitEndpoint,
		VerifyEndpoint:         verifyEndpoint,
		VerifyDocumentEndpoint: verifyDocumentEndpoint,
		RevokeEndpoint:         revokeEndpoint,
		CertificatesEndpoint:   certificatesEndpoint,
		StatsEndpoint:          statsEndpoint,
		AuditEndpoint:          auditEndpoint,
	}
}

func MakeHealthEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		healthy := s.Health(ctx)
		return healthResponse{Healthy: healthy}, nil
	}
}

func MakeSubmitEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(documentRequest)
		res, err := s.Submit(ctx, req.document())
		return submitResponse{
			VerificationID: res.VerificationID,
			Status:         res.Status,
			Fingerprint:    res.Fingerprint.String(),
			State:          res.State,
			Err:            err,
		}, nil
	}
}

func MakeVerifyEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(verifyRequest)
		var presented *Document
		if req.Document != nil {
			doc := req.Document.document()
			presented = &doc
		}
		v, err := s.Verify(ctx, req.ID, presented)
		return newVerifyResponse(v, err), nil
	}
}

func MakeRevokeEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(revokeRequest)
		err = s.Revoke(ctx, req.ID, req.Authority, req.Reason)
		return revokeResponse{Err: err}, nil
	}
}

func MakeCertificatesEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(certificatesRequest)
		certs, err := s.Certificates(ctx, req.Issuer)
		resp := certificatesResponse{Certificates: make([]certificateView, 0, len(certs)), Err: err}
		for _, c := range certs {
			resp.Certificates = append(resp.Certificates, certificateView{
				VerificationID: c.VerificationID,
				Fingerprint:    c.Fingerprint.String(),
				Format:         c.Format,
				Metadata:       c.Metadata,
				SubmittedAt:    formatTime(c.SubmittedAt),
				State:          c.State,
			})
		}
		return resp, nil
	}
}

func MakeStatsEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		st, err := s.Stats(ctx)
		return statsResponse{Records: st.Records, Issued: st.Issued, Revoked: st.Revoked, Err: err}, nil
	}
}

func MakeAuditEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		r, err := s.Audit(ctx)
		return auditResponse{Size: r.Size, Head: r.Head, Issued: r.Issued, Revoked: r.Revoked, Err: err}, nil
	}
}

type healthRequest struct{}

type healthResponse struct {
	Healthy bool  `json:"healthy"`
	Err     error `json:"err,omitempty"`
}

// documentRequest is the JSON body carrying an uploaded document. The
// document bytes travel base64 encoded.
type documentRequest struct {
	Document []byte         `json:"document"`
	Format   canon.Format   `json:"format"`
	Metadata canon.Metadata `json:"metadata,omitempty"`
}

func (r documentRequest) document() Document {
	return Document{Raw: r.Document, Format: r.Format, Metadata: r.Metadata}
}

type submitResponse struct {
	VerificationID string        `json:"verification_id,omitempty"`
	Status         string        `json:"status,omitempty"`
	Fingerprint    string        `json:"fingerprint,omitempty"`
	State          ledger.Status `json:"state,omitempty"`
	Err            error         `json:"-"`
}

func (r submitResponse) error() error { return r.Err }

type verifyRequest struct {
	ID       string
	Document *documentRequest
}

type verifyResponse struct {
	VerificationID string         `json:"verification_id"`
	Outcome        Outcome        `json:"outcome,omitempty"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
	Format         canon.Format   `json:"format,omitempty"`
	Metadata       canon.Metadata `json:"metadata,omitempty"`
	IssuedAt       string         `json:"issued_at,omitempty"`
	RevokedAt      string         `json:"revoked_at,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Err            error          `json:"-"`
}

func newVerifyResponse(v Verdict, err error) verifyResponse {
	return verifyResponse{
		VerificationID: v.VerificationID,
		Outcome:        v.Outcome,
		Fingerprint:    v.Fingerprint.String(),
		Format:         v.Format,
		Metadata:       v.Metadata,
		IssuedAt:       formatTime(v.IssuedAt),
		RevokedAt:      formatTime(v.RevokedAt),
		Reason:         v.Reason,
		Err:            err,
	}
}

func (r verifyResponse) error() error { return r.Err }

type revokeRequest struct {
	ID        string `json:"-"`
	Authority string `json:"authority"`
	Reason    string `json:"reason"`
}

type revokeResponse struct {
	Err error `json:"-"`
}

func (r revokeResponse) error() error { return r.Err }

type certificatesRequest struct {
	Issuer string
}

type certificateView struct {
	VerificationID string         `json:"verification_id,omitempty"`
	Fingerprint    string         `json:"fingerprint"`
	Format         canon.Format   `json:"format"`
	Metadata       canon.Metadata `json:"metadata"`
	SubmittedAt    string         `json:"submitted_at"`
	State          ledger.Status  `json:"state,omitempty"`
}

type certificatesResponse struct {
	Certificates []certificateView `json:"certificates"`
	Err          error             `json:"-"`
}

func (r certificatesResponse) error() error { return r.Err }

type statsRequest struct{}

type statsResponse struct {
	Records int   `json:"records"`
	Issued  int   `json:"issued"`
	Revoked int   `json:"revoked"`
	Err     error `json:"-"`
}

func (r statsResponse) error() error { return r.Err }

type auditRequest struct{}

type auditResponse struct {
	Size    uint64 `json:"size"`
	Head    string `json:"head"`
	Issued  int    `json:"issued"`
	Revoked int    `json:"revoked"`
	Err     error  `json:"-"`
}

func (r auditResponse) error() error { return r.Err }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
