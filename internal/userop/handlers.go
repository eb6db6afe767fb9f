package userop

import (
	"context"
	"errors"
	"net/http"

	"github.com/citizenwallet/aa-gateway/internal/common"
	aa "github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	CodeInvalidSponsorRequest = "INVALID_SPONSOR_REQUEST"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidHash           = "INVALID_HASH"
	CodeSponsorFailed         = "SPONSOR_FAILED"
	CodeSubmissionFailed      = "USEROP_SUBMISSION_FAILED"
	CodeStatusCheckFailed     = "USEROP_STATUS_CHECK_FAILED"
)

const (
	messageInvalidSponsor   = "Invalid sponsor request"
	messageInvalidRequest   = "Invalid UserOperation request"
	messageInvalidHashParam = "Invalid userOpHash parameter"
)

// Sponsorer attaches paymaster fields to an operation
type Sponsorer interface {
	Sponsor(ctx context.Context, op aa.UserOperation, chainID int64, calculateGasLimits bool) (*aa.UserOperation, error)
}

// Submitter sends signed operations and looks up their receipts
type Submitter interface {
	Submit(ctx context.Context, op aa.UserOperation) (string, error)
	GetReceipt(ctx context.Context, hash string) (*aa.Receipt, error)
}

// ErrorNotifier is told about errors that could not be classified
type ErrorNotifier interface {
	NotifyError(ctx context.Context, err error) error
}

type Service struct {
	paymaster Sponsorer
	bundler   Submitter
	notifier  ErrorNotifier
	logs      *zap.SugaredLogger
}

func NewService(pm Sponsorer, b Submitter, n ErrorNotifier, logger *zap.SugaredLogger) *Service {
	return &Service{
		paymaster: pm,
		bundler:   b,
		notifier:  n,
		logs:      logger,
	}
}

// upstreamContext keeps the request values but not its cancellation, an
// upstream call runs to completion even when the caller goes away
func upstreamContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

type sponsorResponse struct {
	SponsoredUserOp *aa.UserOperation `json:"sponsoredUserOp"`
}

type statusResponse struct {
	UserOpHash string      `json:"userOpHash"`
	Status     aa.Status   `json:"status"`
	Receipt    *aa.Receipt `json:"receipt,omitempty"`
}

// Sponsor handler for attaching paymaster data to an unsigned operation
func (s *Service) Sponsor(w http.ResponseWriter, r *http.Request) {
	var req SponsorRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		s.invalid(w, r, err, CodeInvalidSponsorRequest, messageInvalidSponsor)
		return
	}

	s.logs.Infow("received sponsor request",
		"request_id", middleware.GetReqID(r.Context()),
		"sender", req.UserOp.Sender,
		"chain_id", req.ChainID)

	// the paymaster recalculates gas limits on every sponsorship
	sponsored, err := s.paymaster.Sponsor(upstreamContext(r), req.UserOp, req.ChainID, true)
	if err != nil {
		s.fail(w, r, err, CodeSponsorFailed)
		return
	}

	err = common.Body(w, &sponsorResponse{SponsoredUserOp: sponsored})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// Send handler for submitting a signed operation to the bundler
func (s *Service) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := DecodeAndValidate(r, &req); err != nil {
		s.invalid(w, r, err, CodeInvalidRequest, messageInvalidRequest)
		return
	}

	s.logs.Infow("received user operation",
		"request_id", middleware.GetReqID(r.Context()),
		"sender", req.UserOp.Sender,
		"nonce", req.UserOp.Nonce,
		"chain_id", req.ChainID)

	hash, err := s.bundler.Submit(upstreamContext(r), req.UserOp)
	if err != nil {
		s.fail(w, r, err, CodeSubmissionFailed)
		return
	}

	err = common.Body(w, &statusResponse{UserOpHash: hash, Status: aa.StatusSubmitted})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// Status handler for a single receipt lookup, it does not wait for inclusion
func (s *Service) Status(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	if err := ValidateHash(hash); err != nil {
		s.invalid(w, r, err, CodeInvalidHash, messageInvalidHashParam)
		return
	}

	receipt, err := s.bundler.GetReceipt(upstreamContext(r), hash)
	if err != nil {
		s.fail(w, r, err, CodeStatusCheckFailed)
		return
	}

	resp := &statusResponse{
		UserOpHash: hash,
		Status:     aa.StatusOf(receipt),
	}

	if receipt != nil {
		// the hash is already at the top level
		rcpt := *receipt
		rcpt.UserOpHash = ""
		resp.Receipt = &rcpt
	}

	s.logs.Infow("user operation status",
		"request_id", middleware.GetReqID(r.Context()),
		"user_op_hash", hash,
		"status", resp.Status)

	err = common.Body(w, resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Service) invalid(w http.ResponseWriter, r *http.Request, err error, code, message string) {
	var v common.Violations
	if !errors.As(err, &v) {
		s.fail(w, r, err, code)
		return
	}

	s.logs.Infow("rejected request",
		"request_id", middleware.GetReqID(r.Context()),
		"code", code,
		"violations", v.Error())

	common.Error(w, http.StatusBadRequest, code, message, v)
}

// fail writes gateway errors as client errors with code, anything else is
// an internal error and gets reported
func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error, code string) {
	ctx := r.Context()

	s.logs.Errorw("request failed",
		"request_id", middleware.GetReqID(ctx),
		"path", r.URL.Path,
		"method", r.Method,
		"code", code,
		"error", err)

	if errors.Is(err, aa.ErrUpstream) || errors.Is(err, aa.ErrConfiguration) {
		common.Error(w, http.StatusBadRequest, code, err.Error(), nil)
		return
	}

	sentry.CaptureException(err)
	if s.notifier != nil {
		if nerr := s.notifier.NotifyError(ctx, err); nerr != nil {
			s.logs.Errorw("failed to notify error", "error", nerr)
		}
	}

	common.Error(w, http.StatusInternalServerError, common.CodeInternal, common.MessageInternal, nil)
}
