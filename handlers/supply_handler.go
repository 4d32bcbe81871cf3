// handlers/supply_handler.go
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/mihara/supplycheck/database"
	"github.com/mihara/supplycheck/models"
	"github.com/mihara/supplycheck/services"
)

// Helper to respond with JSON
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshalling JSON response: %v", err)
		http.Error(w, `{"error":"Failed to marshal JSON response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// Helper to respond with an error
func respondWithError(w http.ResponseWriter, code int, message string) {
	log.Printf("API Error %d: %s", code, message)
	respondWithJSON(w, code, map[string]string{"error": message})
}

// SupplyHandler is thin JSON glue over the supply service. Routing,
// authentication, and HTML rendering live outside this repository's scope;
// these handlers only translate typed outcomes into status codes.
type SupplyHandler struct {
	Service           *services.SupplyService
	DefaultWindowDays int
}

// Refresh handles POST /api/refresh. Pass ?force=true to re-scrape the
// landing page even when a workbook link is already cached.
func (h *SupplyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	result := h.Service.Refresh(r.Context(), force)
	if !result.Success {
		respondWithJSON(w, http.StatusBadGateway, result)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// Check handles POST /api/check with a multipart "file" field holding the
// pharmacy inventory workbook or CSV. Optional ?days= overrides the default
// recency window.
func (h *SupplyHandler) Check(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Missing 'file' upload field")
		return
	}
	defer file.Close()

	result, err := h.Service.Check(file, header.Filename, h.windowDays(r))
	if err != nil {
		var validationErr *models.ValidationError
		switch {
		case errors.As(err, &validationErr):
			respondWithError(w, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, services.ErrNoSupplyData):
			respondWithError(w, http.StatusServiceUnavailable, err.Error())
		default:
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Check failed: %v", err))
		}
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// Preview handles GET /api/preview: the recency-filtered supply list with no
// inventory upload.
func (h *SupplyHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}

	results, stale, err := h.Service.Preview(h.windowDays(r))
	if err != nil {
		if errors.Is(err, services.ErrNoSupplyData) {
			respondWithError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Preview failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    results,
		"count":   len(results),
		"stale":   stale,
	})
}

// Status handles GET /api/status without touching the network.
func (h *SupplyHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, h.Service.Status())
}

// History handles GET /api/fetches: the audit log of committed snapshot
// fetches, newest first. Empty when no database is configured.
func (h *SupplyHandler) History(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondWithError(w, http.StatusMethodNotAllowed, "Only GET method is allowed")
		return
	}

	fetches, err := database.GetSnapshotFetches()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load fetch history: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    fetches,
		"count":   len(fetches),
	})
}

func (h *SupplyHandler) windowDays(r *http.Request) int {
	if v := r.URL.Query().Get("days"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			return days
		}
		log.Printf("WARN Handler: Ignoring invalid days parameter %q\n", v)
	}
	return h.DefaultWindowDays
}
