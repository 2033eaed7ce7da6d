package certify

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/lamassuiot/certify/pkg/canon"
	"github.com/lamassuiot/certify/pkg/depot"
	"github.com/lamassuiot/certify/pkg/errs"
	"github.com/lamassuiot/certify/pkg/fingerprint"
	"github.com/lamassuiot/certify/pkg/ledger"
	"github.com/lamassuiot/certify/pkg/policy"
)

const (
	StatusIssued    = "issued"
	StatusDuplicate = "duplicate"
)

type Service interface {
	Health(ctx context.Context) bool
	Submit(ctx context.Context, doc Document) (SubmitResult, error)
	Verify(ctx context.Context, id string, presented *Document) (Verdict, error)
	Revoke(ctx context.Context, id string, authority string, reason string) error
	Certificates(ctx context.Context, issuer string) ([]Certificate, error)
	Stats(ctx context.Context) (Stats, error)
	Audit(ctx context.Context) (AuditReport, error)
}

// Document is an uploaded certificate as received.
type Document struct {
	Raw      []byte
	Format   canon.Format
	Metadata canon.Metadata
}

type SubmitResult struct {
	VerificationID string
	Status         string
	Fingerprint    fingerprint.Fingerprint
	State          ledger.Status
}

// Certificate is a stored record together with its ledger binding.
type Certificate struct {
	VerificationID string
	Fingerprint    fingerprint.Fingerprint
	Format         canon.Format
	Metadata       canon.Metadata
	SubmittedAt    time.Time
	State          ledger.Status
}

type Stats struct {
	Records int
	Issued  int
	Revoked int
}

type AuditReport struct {
	Size    uint64
	Head    string
	Issued  int
	Revoked int
}

type CertifyEngine struct {
	canonicalizer canon.Canonicalizer
	engine        *fingerprint.Engine
	depot         depot.Depot
	ledger        ledger.Ledger
	policy        policy.Decider
	logger        log.Logger
	now           func() time.Time
}

func NewService(c canon.Canonicalizer, engine *fingerprint.Engine, d depot.Depot, l ledger.Ledger, p policy.Decider, logger log.Logger) Service {
	return &CertifyEngine{
		canonicalizer: c,
		engine:        engine,
		depot:         d,
		ledger:        l,
		policy:        p,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (e *CertifyEngine) Health(ctx context.Context) bool {
	if err := e.depot.Health(ctx); err != nil {
		level.Error(e.logger).Log("err", err, "msg", "Certificate store unhealthy")
		return false
	}
	if err := e.ledger.Health(ctx); err != nil {
		level.Error(e.logger).Log("err", err, "msg", "Ledger unhealthy")
		return false
	}
	return true
}

// Submit records doc and returns its verification ID. Cancellation is
// honoured only before the first write: from the record write on, both
// steps run to completion so a caller hanging up never leaves a stored
// record without an ID.
func (e *CertifyEngine) Submit(ctx context.Context, doc Document) (SubmitResult, error) {
	canonical, md, err := e.canonicalizer.Canonicalize(doc.Raw, doc.Format, doc.Metadata)
	if err != nil {
		return SubmitResult{}, err
	}
	fp, err := e.engine.Sum(canonical)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, err
	}

	wctx := context.WithoutCancel(ctx)
	_, _, err = e.depot.Put(wctx, &depot.Record{
		Fingerprint: fp,
		Format:      doc.Format,
		Canonical:   canonical,
		Metadata:    md,
		SubmittedAt: e.now(),
	})
	if err != nil {
		return SubmitResult{}, err
	}

	b, minted, err := e.ledger.IssueOrGet(wctx, fp)
	if err != nil {
		return SubmitResult{}, err
	}
	status := StatusDuplicate
	if minted {
		status = StatusIssued
	}
	return SubmitResult{
		VerificationID: b.VerificationID,
		Status:         status,
		Fingerprint:    fp,
		State:          b.Status,
	}, nil
}

// Verify answers for id. Without presented it reports whether id is a live
// registration; with presented it also reports whether presented is the
// exact content registered under id. Storage failures are errors; every
// other answer is a Verdict.
func (e *CertifyEngine) Verify(ctx context.Context, id string, presented *Document) (Verdict, error) {
	var canonical []byte
	if presented != nil {
		var err error
		canonical, _, err = e.canonicalizer.Canonicalize(presented.Raw, presented.Format, presented.Metadata)
		if err != nil {
			return Verdict{}, err
		}
	}

	v := Verdict{VerificationID: id}
	if !ledger.ValidID(id) {
		v.Outcome = Unknown
		return v, nil
	}
	b, err := e.ledger.Resolve(ctx, id)
	if errs.IsKind(err, errs.KindNotFound) {
		v.Outcome = Unknown
		return v, nil
	}
	if err != nil {
		return Verdict{}, err
	}
	v.Fingerprint = b.Fingerprint
	v.IssuedAt = b.IssuedAt
	if b.Status == ledger.StatusRevoked {
		v.Outcome = Revoked
		v.RevokedAt = b.RevokedAt
		v.Reason = b.Reason
		return v, nil
	}

	var derived fingerprint.Fingerprint
	if presented != nil {
		derived, err = e.engine.SumAs(b.Fingerprint, canonical)
		if errs.IsKind(err, errs.KindDigestVersionMismatch) {
			level.Info(e.logger).Log("err", err, "msg", "Verification id "+id+" was issued under "+b.Fingerprint.Algorithm())
			v.Outcome = DigestVersionMismatch
			return v, nil
		}
		if err != nil {
			return Verdict{}, err
		}
	}

	rec, err := e.depot.Get(ctx, b.Fingerprint)
	if errs.IsKind(err, errs.KindNotFound) || errs.IsKind(err, errs.KindInconsistent) {
		level.Error(e.logger).Log("err", err, "msg", "Verification id "+id+" resolves to "+b.Fingerprint.String()+" but the store has no record")
		v.Outcome = Inconsistent
		return v, nil
	}
	if err != nil {
		return Verdict{}, err
	}
	v.Format = rec.Format
	v.Metadata = rec.Metadata

	switch {
	case presented == nil:
		v.Outcome = Authentic
	case derived.Equal(b.Fingerprint):
		v.Outcome = Match
	default:
		v.Outcome = Mismatch
		v.Metadata = nil
	}
	return v, nil
}

// Revoke withdraws id on behalf of authority.
func (e *CertifyEngine) Revoke(ctx context.Context, id string, authority string, reason string) error {
	const op = "certify.Revoke"
	if !ledger.ValidID(id) {
		return ledger.NotFound(op, id)
	}
	b, err := e.ledger.Resolve(ctx, id)
	if err != nil {
		return err
	}
	rec, err := e.depot.Get(ctx, b.Fingerprint)
	if errs.IsKind(err, errs.KindNotFound) {
		rec = nil
	} else if err != nil {
		return err
	}
	if !e.policy.CanRevoke(authority, rec) {
		level.Info(e.logger).Log("msg", "Revocation of "+id+" refused for "+authority)
		return errs.Ef(errs.KindNotPermitted, op, "%q may not revoke %s", authority, id)
	}
	if b.Status == ledger.StatusRevoked {
		return ledger.AlreadyRevoked(op, id)
	}
	_, err = e.ledger.Revoke(ctx, id, reason)
	return err
}

// Certificates lists the records naming issuer, oldest first.
func (e *CertifyEngine) Certificates(ctx context.Context, issuer string) ([]Certificate, error) {
	recs, err := e.depot.ListByIssuer(ctx, issuer)
	if err != nil {
		return nil, err
	}
	out := make([]Certificate, 0, len(recs))
	for _, rec := range recs {
		c := Certificate{
			Fingerprint: rec.Fingerprint,
			Format:      rec.Format,
			Metadata:    rec.Metadata,
			SubmittedAt: rec.SubmittedAt,
		}
		b, err := e.ledger.Lookup(ctx, rec.Fingerprint)
		switch {
		case err == nil:
			c.VerificationID = b.VerificationID
			c.State = b.Status
		case errs.IsKind(err, errs.KindNotFound):
			// Stored but never issued: the submission failed after the
			// record was written and has not been retried.
		default:
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *CertifyEngine) Stats(ctx context.Context) (Stats, error) {
	n, err := e.depot.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	st, err := e.ledger.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Records: n, Issued: st.Issued, Revoked: st.Revoked}, nil
}

// Audit recomputes the whole ledger chain.
func (e *CertifyEngine) Audit(ctx context.Context) (AuditReport, error) {
	head, err := e.ledger.VerifyChain(ctx)
	if err != nil {
		if errs.IsKind(err, errs.KindInconsistent) {
			level.Error(e.logger).Log("err", err, "msg", "Ledger chain verification failed")
		}
		return AuditReport{}, err
	}
	st, err := e.ledger.Stats(ctx)
	if err != nil {
		return AuditReport{}, err
	}
	return AuditReport{Size: head.Size, Head: head.String(), Issued: st.Issued, Revoked: st.Revoked}, nil
}
