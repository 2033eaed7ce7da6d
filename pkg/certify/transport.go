package certify

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/tracing/opentracing"
	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	stdopentracing "github.com/opentracing/opentracing-go"

	"github.com/lamassuiot/certify/pkg/errs"
)

// AuthorityHeader carries the revoking party, as asserted by the
// authenticating proxy in front of the service. It takes precedence over
// the authority field of the request body.
const AuthorityHeader = "X-Certify-Authority"

var (
	ErrUnsupportedContent = errs.E(errs.KindInvalid, "transport", "unsupported content type")
	ErrMalformedBody      = errs.E(errs.KindInvalid, "transport", "malformed request body")
	ErrMissingIssuer      = errs.E(errs.KindInvalid, "transport", "issuer query parameter is required")
	ErrBadRouting         = errs.E(errs.KindInvalid, "transport", "inconsistent mapping between route and handler")
)

type errorer interface {
	error() error
}

// MakeHTTPHandler mounts the service under /v1 and /health. Every request
// goes through request logging and a body size limit.
func MakeHTTPHandler(s Service, logger log.Logger, strict bool, maxBodyBytes int64, otTracer stdopentracing.Tracer) http.Handler {
	r := mux.NewRouter()
	e := MakeServerEndpoints(s, otTracer)

	options := []httptransport.ServerOption{
		httptransport.ServerErrorHandler(transport.NewLogErrorHandler(logger)),
		httptransport.ServerErrorEncoder(encodeError),
	}
	traced := func(operation string) []httptransport.ServerOption {
		return append(options, httptransport.ServerBefore(opentracing.HTTPToContext(otTracer, operation, logger)))
	}

	r.Methods("GET").Path("/health").Handler(httptransport.NewServer(
		e.HealthEndpoint,
		decodeHealthRequest,
		encodeHealthResponse,
		traced("Health")...,
	))

	r.Methods("POST").Path("/v1/certificates").Handler(httptransport.NewServer(
		e.SubmitEndpoint,
		decodeSubmitRequest(strict),
		encodeSubmitResponse,
		traced("Submit")...,
	))

	r.Methods("GET").Path("/v1/certificates").Handler(httptransport.NewServer(
		e.CertificatesEndpoint,
		decodeCertificatesRequest,
		encodeResponse,
		traced("Certificates")...,
	))

	r.Methods("POST").Path("/v1/certificates/{id}/revoke").Handler(httptransport.NewServer(
		e.RevokeEndpoint,
		decodeRevokeRequest(strict),
		encodeRevokeResponse,
		traced("Revoke")...,
	))

	r.Methods("GET").Path("/v1/verify/{id}").Handler(httptransport.NewServer(
		e.VerifyEndpoint,
		decodeVerifyRequest,
		encodeVerifyResponse,
		traced("Verify")...,
	))

	r.Methods("POST").Path("/v1/verify/{id}").Handler(httptransport.NewServer(
		e.VerifyDocumentEndpoint,
		decodeVerifyDocumentRequest(strict),
		encodeVerifyResponse,
		traced("VerifyDocument")...,
	))

	r.Methods("GET").Path("/v1/stats").Handler(httptransport.NewServer(
		e.StatsEndpoint,
		decodeStatsRequest,
		encodeResponse,
		traced("Stats")...,
	))

	r.Methods("GET").Path("/v1/audit").Handler(httptransport.NewServer(
		e.AuditEndpoint,
		decodeAuditRequest,
		encodeResponse,
		traced("Audit")...,
	))

	chain := alice.New(logRequest(logger), limitBody(maxBodyBytes))
	return chain.Then(r)
}

func logRequest(logger log.Logger) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func(begin time.Time) {
				logger.Log("method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "took", time.Since(begin))
			}(time.Now())
			next.ServeHTTP(w, r)
		})
	}
}

func limitBody(n int64) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decodeHealthRequest(ctx context.Context, r *http.Request) (request interface{}, err error) {
	var req healthRequest
	return req, nil
}

func decodeStatsRequest(ctx context.Context, r *http.Request) (request interface{}, err error) {
	return statsRequest{}, nil
}

func decodeAuditRequest(ctx context.Context, r *http.Request) (request interface{}, err error) {
	return auditRequest{}, nil
}

func decodeCertificatesRequest(ctx context.Context, r *http.Request) (request interface{}, err error) {
	issuer := r.URL.Query().Get("issuer")
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	return certificatesRequest{Issuer: issuer}, nil
}

func decodeSubmitRequest(strict bool) httptransport.DecodeRequestFunc {
	return func(ctx context.Context, r *http.Request) (interface{}, error) {
		var req documentRequest
		if err := decodeJSON(r, strict, &req); err != nil {
			return nil, err
		}
		return req, nil
	}
}

func decodeVerifyRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	id, ok := mux.Vars(r)["id"]
	if !ok {
		return nil, ErrBadRouting
	}
	return verifyRequest{ID: id}, nil
}

func decodeVerifyDocumentRequest(strict bool) httptransport.DecodeRequestFunc {
	return func(ctx context.Context, r *http.Request) (interface{}, error) {
		id, ok := mux.Vars(r)["id"]
		if !ok {
			return nil, ErrBadRouting
		}
		var doc documentRequest
		if err := decodeJSON(r, strict, &doc); err != nil {
			return nil, err
		}
		return verifyRequest{ID: id, Document: &doc}, nil
	}
}

func decodeRevokeRequest(strict bool) httptransport.DecodeRequestFunc {
	return func(ctx context.Context, r *http.Request) (interface{}, error) {
		id, ok := mux.Vars(r)["id"]
		if !ok {
			return nil, ErrBadRouting
		}
		var req revokeRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(r, strict, &req); err != nil {
				return nil, err
			}
		}
		req.ID = id
		if authority := r.Header.Get(AuthorityHeader); authority != "" {
			req.Authority = authority
		}
		return req, nil
	}
}

func decodeJSON(r *http.Request, strict bool, v interface{}) error {
	if strict {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			return ErrUnsupportedContent
		}
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return errs.Wrap(errs.KindInvalid, "transport", "malformed request body", err)
	}
	return nil
}

func encodeHealthResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if h, ok := response.(healthResponse); ok && !h.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	return json.NewEncoder(w).Encode(response)
}

func encodeSubmitResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if e, ok := response.(errorer); ok && e.error() != nil {
		encodeError(ctx, e.error(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if response.(submitResponse).Status == StatusIssued {
		w.WriteHeader(http.StatusCreated)
	}
	return json.NewEncoder(w).Encode(response)
}

func encodeVerifyResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if e, ok := response.(errorer); ok && e.error() != nil {
		encodeError(ctx, e.error(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if response.(verifyResponse).Outcome == Inconsistent {
		w.WriteHeader(http.StatusInternalServerError)
	}
	return json.NewEncoder(w).Encode(response)
}

func encodeRevokeResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if e, ok := response.(errorer); ok && e.error() != nil {
		encodeError(ctx, e.error(), w)
		return nil
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func encodeResponse(ctx context.Context, w http.ResponseWriter, response interface{}) error {
	if e, ok := response.(errorer); ok && e.error() != nil {
		encodeError(ctx, e.error(), w)
		return nil
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	if err == nil {
		panic("encodeError with nil error")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(codeFrom(err))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
		"kind":  errs.KindOf(err),
	})
}

func codeFrom(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch errs.KindOf(err) {
	case errs.KindFormat, errs.KindInvalid:
		return http.StatusBadRequest
	case errs.KindNotPermitted:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindAlreadyRevoked:
		return http.StatusConflict
	case errs.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
