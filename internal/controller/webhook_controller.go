package controller

import (
	"errors"
	"io"
	"net/http"

	domainErrors "github.com/cassiomorais/invoicing/internal/domain/errors"
	"github.com/cassiomorais/invoicing/internal/service"
	"github.com/cassiomorais/invoicing/internal/webhook"
	"github.com/rs/zerolog/log"
)

const maxWebhookBodySize = 64 << 10

// WebhookController receives gateway callbacks. It is not behind JWT auth;
// the signature is the only credential.
type WebhookController struct {
	verifier   *webhook.Verifier
	reconciler *service.ReconciliationService
}

func NewWebhookController(verifier *webhook.Verifier, reconciler *service.ReconciliationService) *WebhookController {
	return &WebhookController{verifier: verifier, reconciler: reconciler}
}

// Chargily handles POST /webhooks/chargily
func (h *WebhookController) Chargily(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
			return
		}
		writeError(w, domainErrors.NewDomainError("malformed_payload", "could not read body", domainErrors.ErrMalformedPayload))
		return
	}

	ev, err := h.verifier.Verify(raw, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("webhook rejected")
		writeError(w, err)
		return
	}

	res, err := h.reconciler.Apply(r.Context(), ev)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromTransition(res))
}
