package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ComUnity/voiceid-service/internal/middleware"
	"github.com/ComUnity/voiceid-service/internal/models"
	"github.com/ComUnity/voiceid-service/internal/service"
	"github.com/ComUnity/voiceid-service/internal/util"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
)

// Orchestrator is the slice of service.VerificationOrchestrator the HTTP layer drives.
type Orchestrator interface {
	Initiate(ctx context.Context, req service.InitiateRequest) service.InitiateResult
	IssueChallenge(ctx context.Context, sessionID string) (service.ChallengeResult, error)
	CompleteEnrollment(ctx context.Context, cb service.RecordingCallback) service.EnrollmentResult
	CompleteVerification(ctx context.Context, cb service.RecordingCallback) service.VerificationResult
	Script(ctx context.Context, sessionID string) (service.Script, error)
	ConfirmEnrollment(ctx context.Context, phone, code string) (bool, error)
}

// RiskAssessor previews a transaction's risk without starting a call.
type RiskAssessor interface {
	Assess(tx models.Transaction, t time.Time) service.RiskAssessment
}

type VerificationHandler struct {
	orch    Orchestrator
	risk    RiskAssessor
	timeout time.Duration
	now     func() time.Time
}

func NewVerificationHandler(orch Orchestrator, risk RiskAssessor, timeout time.Duration) *VerificationHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &VerificationHandler{orch: orch, risk: risk, timeout: timeout, now: time.Now}
}

// Routes mounts the public API. callbackAuth guards the endpoints the telephony
// provider calls; initiateLimit throttles outbound call requests.
func (h *VerificationHandler) Routes(r chi.Router, callbackAuth, initiateLimit func(http.Handler) http.Handler) {
	if initiateLimit == nil {
		initiateLimit = passthrough
	}
	r.Route("/v1", func(r chi.Router) {
		r.With(initiateLimit).Post("/verifications", h.Initiate)
		r.Post("/enrollments/confirm", h.ConfirmEnrollment)
		r.Get("/risk/score", h.RiskScore)

		r.Group(func(r chi.Router) {
			r.Use(callbackAuth)
			r.Get("/scripts/{id}", h.Script)
			r.Post("/sessions/{id}/challenge", h.IssueChallenge)
			r.Post("/webhooks/recording", h.RecordingWebhook)
		})
	})
}

type initiateRequest struct {
	Phone           string  `json:"phone"`
	TransactionType string  `json:"transaction_type"`
	Amount          float64 `json:"amount"`
}

type initiateResponse struct {
	SessionID string              `json:"session_id"`
	Kind      models.WorkflowKind `json:"kind"`
	CallID    string              `json:"call_id"`
	State     service.State       `json:"state"`
	RiskScore *int                `json:"risk_score,omitempty"`
	RiskBand  *service.RiskBand   `json:"risk_band,omitempty"`
}

func (h *VerificationHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	phone := util.NormalizePhone(req.Phone)
	if !util.IsValidE164(phone) {
		writeJSONError(w, http.StatusBadRequest, "phone must be an E.164 number")
		return
	}
	if req.Amount < 0 {
		writeJSONError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ip := middleware.ClientIP(r)
	res := h.orch.Initiate(ctx, service.InitiateRequest{
		Phone:           phone,
		TransactionType: models.TransactionType(strings.ToUpper(strings.TrimSpace(req.TransactionType))),
		Amount:          req.Amount,
		CallerIP:        ip,
	})
	if res.Err != nil {
		logger.Warn("initiate failed: phone=%s ip=%s kind=%s err=%v", util.MaskPhone(phone), ip, res.ErrorKind(), res.Err)
		writeKindError(w, res.ErrorKind())
		return
	}

	logger.Info("verification call placed: phone=%s session=%s kind=%s", util.MaskPhone(phone), res.SessionID, res.Kind)
	writeJSON(w, http.StatusAccepted, initiateResponse{
		SessionID: res.SessionID,
		Kind:      res.Kind,
		CallID:    res.CallID,
		State:     res.State,
		RiskScore: res.RiskScore,
		RiskBand:  res.RiskBand,
	})
}

// Script serves prompt parameters to the provider. A dead session still gets a
// playable apology so the call can end cleanly.
func (h *VerificationHandler) Script(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sessionBound(r, id) {
		writeJSONError(w, http.StatusForbidden, "token not valid for this session")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	script, err := h.orch.Script(ctx, id)
	if err != nil {
		logger.Warn("script for session %s unavailable: %v", id, err)
	}
	writeJSON(w, http.StatusOK, script)
}

type challengeResponse struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *VerificationHandler) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sessionBound(r, id) {
		writeJSONError(w, http.StatusForbidden, "token not valid for this session")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.orch.IssueChallenge(ctx, id)
	if err != nil {
		writeKindError(w, service.KindOf(err))
		return
	}
	writeJSON(w, http.StatusOK, challengeResponse{SessionID: res.SessionID, Code: res.Code, ExpiresAt: res.ExpiresAt})
}

type recordingWebhook struct {
	SessionID     string `json:"session_id"`
	AudioRef      string `json:"audio_ref"`
	CallerNumber  string `json:"caller_number"`
	CallerCarrier string `json:"caller_carrier"`
	SpokenCode    string `json:"spoken_code"`
}

type recordingResponse struct {
	SessionID    string              `json:"session_id"`
	Kind         models.WorkflowKind `json:"kind"`
	Outcome      service.Outcome     `json:"outcome"`
	State        service.State       `json:"state"`
	ErrorKind    service.ErrorKind   `json:"error_kind,omitempty"`
	Message      string              `json:"message"`
	Hangup       bool                `json:"hangup"`
	FailureCount *int                `json:"failure_count,omitempty"`
}

// RecordingWebhook receives the provider's "recording ready" callback and
// dispatches on the workflow bound into the callback token. The provider always
// gets 200 with the message to play; the outcome travels in the body.
func (h *VerificationHandler) RecordingWebhook(w http.ResponseWriter, r *http.Request) {
	var body recordingWebhook
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.AudioRef) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid recording callback")
		return
	}
	claims, ok := middleware.CallbackClaimsFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing callback token")
		return
	}
	if body.SessionID == "" {
		body.SessionID = claims.SessionID
	}
	if body.SessionID != claims.SessionID {
		writeJSONError(w, http.StatusForbidden, "token not valid for this session")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cb := service.RecordingCallback{
		SessionID:     body.SessionID,
		AudioRef:      body.AudioRef,
		CallerNumber:  body.CallerNumber,
		CallerCarrier: body.CallerCarrier,
		CallerIP:      middleware.ClientIP(r),
		SpokenCode:    body.SpokenCode,
	}

	resp := recordingResponse{SessionID: cb.SessionID, Kind: claims.Kind, Hangup: true}
	switch claims.Kind {
	case models.WorkflowEnrollment:
		res := h.orch.CompleteEnrollment(ctx, cb)
		resp.Outcome, resp.State, resp.ErrorKind = res.Outcome, res.State, res.ErrorKind()
	case models.WorkflowVerification:
		res := h.orch.CompleteVerification(ctx, cb)
		resp.Outcome, resp.State, resp.ErrorKind = res.Outcome, res.State, res.ErrorKind()
		if res.Err == nil {
			resp.FailureCount = &res.FailureCount
		}
	default:
		writeJSONError(w, http.StatusBadRequest, "unknown workflow")
		return
	}
	resp.Message = service.OutcomeMessage(resp.Outcome)

	logger.Info("recording processed: session=%s kind=%s outcome=%s", cb.SessionID, claims.Kind, resp.Outcome)
	writeJSON(w, http.StatusOK, resp)
}

type confirmRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

func (h *VerificationHandler) ConfirmEnrollment(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid request")
		return
	}
	phone := util.NormalizePhone(req.Phone)
	if !util.IsValidE164(phone) {
		writeJSONError(w, http.StatusBadRequest, "phone must be an E.164 number")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ok, err := h.orch.ConfirmEnrollment(ctx, phone, req.Code)
	if err != nil {
		writeKindError(w, service.KindOf(err))
		return
	}
	if !ok {
		logger.Warn("enrollment confirmation mismatch: phone=%s", util.MaskPhone(phone))
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmed": ok})
}

type riskResponse struct {
	Score int              `json:"score"`
	Band  service.RiskBand `json:"band"`
}

func (h *VerificationHandler) RiskScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount := 0.0
	if raw := q.Get("amount"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			writeJSONError(w, http.StatusBadRequest, "amount must be a non-negative number")
			return
		}
		amount = v
	}
	tx := models.Transaction{
		Type:   models.TransactionType(strings.ToUpper(strings.TrimSpace(q.Get("type")))),
		Amount: amount,
	}
	a := h.risk.Assess(tx, h.now())
	writeJSON(w, http.StatusOK, riskResponse{Score: a.Score, Band: a.Band})
}

func passthrough(next http.Handler) http.Handler { return next }

func sessionBound(r *http.Request, sessionID string) bool {
	claims, ok := middleware.CallbackClaimsFrom(r.Context())
	return ok && sessionID != "" && claims.SessionID == sessionID
}
