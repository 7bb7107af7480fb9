package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ayusman/scanview/internal/store"
	"github.com/gorilla/mux"
)

// settingValidators lists the keys clients may write and how their values
// are checked.
var settingValidators = map[string]func(string) error{
	store.KeyWidthScale: func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		if f <= 0 || f > 1 {
			return fmt.Errorf("width scale %v outside (0, 1]", f)
		}
		return nil
	},
	store.KeyManualWidth:  positiveInt,
	store.KeyManualHeight: positiveInt,
	store.KeyZoom: func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("zoom %d is negative", n)
		}
		return nil
	},
	store.KeyContinuous: func(v string) error {
		_, err := strconv.ParseBool(v)
		return err
	},
}

func positiveInt(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	if n <= 0 {
		return fmt.Errorf("%d is not positive", n)
	}
	return nil
}

type settingRequest struct {
	Value string `json:"value"`
}

type settingResponse struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type listSettingsResponse struct {
	Settings []settingResponse `json:"settings"`
}

// handleListSettings handles GET /api/settings.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.config.Store.Settings().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settings")
		return
	}

	response := listSettingsResponse{Settings: make([]settingResponse, 0, len(settings))}
	for _, st := range settings {
		response.Settings = append(response.Settings, settingResponse{
			Key:       st.Key,
			Value:     st.Value,
			UpdatedAt: st.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGetSetting handles GET /api/settings/{key}.
func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, err := s.config.Store.Settings().Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Setting not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get setting")
		return
	}
	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: value})
}

// handlePutSetting handles PUT /api/settings/{key}. Values take effect the
// next time the scanner starts.
func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	validate, ok := settingValidators[key]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown setting")
		return
	}

	var req settingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := validate(req.Value); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid value: %v", err))
		return
	}

	if err := s.config.Store.Settings().Set(key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save setting")
		return
	}
	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: req.Value})
}

// handleDeleteSetting handles DELETE /api/settings/{key}.
func (s *Server) handleDeleteSetting(w http.ResponseWriter, r *http.Request) {
	err := s.config.Store.Settings().Delete(mux.Vars(r)["key"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Setting not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete setting")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
