package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/shellmux/shellmux/internal/connection"
	"github.com/shellmux/shellmux/internal/crypto"
	"github.com/shellmux/shellmux/internal/profiles"
	"github.com/shellmux/shellmux/internal/registry"
)

type profileRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	PrivateKey string `json:"private_key"`
}

type profileResponse struct {
	profiles.Profile
	HasPassword   bool `json:"has_password"`
	HasPrivateKey bool `json:"has_private_key"`
}

func toProfileResponse(p profiles.Profile) profileResponse {
	return profileResponse{
		Profile:       p,
		HasPassword:   p.Password != "",
		HasPrivateKey: p.PrivateKey != "",
	}
}

// ListProfiles returns saved profiles, most recently used first.
// Credentials never leave the server; only presence flags are reported.
func ListProfiles(w http.ResponseWriter, r *http.Request) {
	ps, err := profiles.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list profiles")
		return
	}
	resp := make([]profileResponse, len(ps))
	for i, p := range ps {
		resp[i] = toProfileResponse(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": resp})
}

// CreateProfile saves a connection profile with encrypted credentials.
func CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Name == "" || req.Host == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "name, host, and username are required")
		return
	}

	password, err := crypto.Encrypt(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}
	privateKey, err := crypto.Encrypt(req.PrivateKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
		return
	}

	p := &profiles.Profile{
		Name:       req.Name,
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		Password:   password,
		PrivateKey: privateKey,
	}
	if err := profiles.Create(p); err != nil {
		writeError(w, http.StatusConflict, "Profile name already exists")
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(*p))
}

// UpdateProfile edits a saved profile. Empty credential fields keep the
// stored ciphertext; non-empty ones are re-encrypted. Renaming onto an
// existing profile name is rejected.
func UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid profile ID")
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	p, err := profiles.Get(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}

	if req.Name != "" && req.Name != p.Name {
		if existing, err := profiles.GetByName(req.Name); err == nil && existing.ID != p.ID {
			writeError(w, http.StatusConflict, "Profile name already exists")
			return
		}
		p.Name = req.Name
	}
	if req.Host != "" {
		p.Host = req.Host
	}
	if req.Port != 0 {
		p.Port = req.Port
	}
	if req.Username != "" {
		p.Username = req.Username
	}
	if req.Password != "" {
		enc, err := crypto.Encrypt(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
			return
		}
		p.Password = enc
	}
	if req.PrivateKey != "" {
		enc, err := crypto.Encrypt(req.PrivateKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to encrypt credentials")
			return
		}
		p.PrivateKey = enc
	}

	if err := profiles.Update(p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(*p))
}

// DeleteProfile removes a saved profile.
func DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid profile ID")
		return
	}
	if err := profiles.Delete(uint(id)); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ConnectProfile creates a tab from a saved profile, decrypting its
// credentials server-side, and records the usage.
func ConnectProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid profile ID")
		return
	}

	p, err := profiles.Get(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "Profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}

	password, err := crypto.Decrypt(p.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to decrypt credentials")
		return
	}
	privateKey, err := crypto.Decrypt(p.PrivateKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to decrypt credentials")
		return
	}

	cfg := connection.ConnectionConfig{
		Host:       p.Host,
		Port:       p.Port,
		Username:   p.Username,
		Password:   password,
		PrivateKey: []byte(privateKey),
	}

	sess, tab, err := Tabs.CreateSession(cfg, p.Name)
	if err != nil {
		var limitErr *registry.ResourceLimitError
		var rateErr *connection.RateLimitedError
		switch {
		case errors.As(err, &limitErr):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &rateErr):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if err := profiles.RecordConnection(p.ID); err != nil {
		log.Printf("[profiles] record connection for %d: %v", p.ID, err)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"tab": tab, "session_id": sess.ID})
}
