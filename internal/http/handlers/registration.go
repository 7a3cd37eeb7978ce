package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/epass/server/internal/model"
	"github.com/epass/server/internal/registration"
)

// RegistrationHandler exposes registration lifecycle operations to staff
type RegistrationHandler struct {
	service *registration.Service
}

// NewRegistrationHandler creates a registration handler
func NewRegistrationHandler(service *registration.Service) *RegistrationHandler {
	return &RegistrationHandler{service: service}
}

// confirmResponse is the JSON response for POST /registrations/{id}/confirm
type confirmResponse struct {
	RegistrationID   uuid.UUID `json:"registration_id"`
	ConfirmationCode string    `json:"confirmation_code"`
	EpassToken       string    `json:"epass_token"`
}

// registrationResponse is the registration object in API responses
type registrationResponse struct {
	RegistrationID   uuid.UUID                `json:"registration_id"`
	PersonID         uuid.UUID                `json:"person_id"`
	EventID          uuid.UUID                `json:"event_id"`
	Status           model.RegistrationStatus `json:"status"`
	ConfirmationCode *string                  `json:"confirmation_code,omitempty"`
}

func toRegistrationResponse(reg model.Registration) registrationResponse {
	return registrationResponse{
		RegistrationID:   reg.ID,
		PersonID:         reg.PersonID,
		EventID:          reg.EventID,
		Status:           reg.Status,
		ConfirmationCode: reg.ConfirmationCode,
	}
}

func registrationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid registration id")
		return uuid.Nil, false
	}
	return id, true
}

// HandleConfirm handles POST /registrations/{id}/confirm
func (h *RegistrationHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := registrationID(w, r)
	if !ok {
		return
	}

	conf, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrNotFound):
			respondWithError(w, http.StatusNotFound, "registration not found")
		case errors.Is(err, registration.ErrInvalidState):
			respondWithError(w, http.StatusConflict, "registration is not pending")
		default:
			log.Printf("Confirm registration %s failed: %v", id, err)
			respondWithError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	respondWithJSON(w, http.StatusOK, confirmResponse{
		RegistrationID:   conf.Registration.ID,
		ConfirmationCode: conf.ConfirmationCode,
		EpassToken:       conf.EpassToken,
	})
}

// HandleCancel handles POST /registrations/{id}/cancel
func (h *RegistrationHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := registrationID(w, r)
	if !ok {
		return
	}

	reg, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "registration not found")
			return
		}
		log.Printf("Cancel registration %s failed: %v", id, err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

// HandleLookup handles GET /registrations/by-code/{code}
func (h *RegistrationHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	reg, err := h.service.LookupByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, registration.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "registration not found")
			return
		}
		log.Printf("Lookup by code failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, toRegistrationResponse(reg))
}
