package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fraud-crawler/internal/models"
)

// FingerprintReader is the read side of the fingerprint store
type FingerprintReader interface {
	Exists(ctx context.Context, listingID, price int64) (bool, error)
	PricesSeen(ctx context.Context, listingID int64) ([]models.Fingerprint, error)
	CountFingerprints(ctx context.Context) (int, error)
}

// Handlers contains HTTP handlers and their dependencies
type Handlers struct {
	store      FingerprintReader
	resultsDir string
}

// NewHandlers creates a new Handlers instance
func NewHandlers(store FingerprintReader, resultsDir string) *Handlers {
	return &Handlers{store: store, resultsDir: resultsDir}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health handles GET /api/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.CountFingerprints(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CountFingerprints handles GET /api/fingerprints/count
func (h *Handlers) CountFingerprints(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountFingerprints(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// GetFingerprints handles GET /api/fingerprints/{id}
func (h *Handlers) GetFingerprints(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing ID")
		return
	}

	fps, err := h.store.PricesSeen(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(fps) == 0 {
		writeError(w, http.StatusNotFound, "listing not seen")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listing_id":   id,
		"fingerprints": fps,
		"count":        len(fps),
	})
}

// CheckFingerprint handles GET /api/fingerprints/{id}/{price}
func (h *Handlers) CheckFingerprint(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listing ID")
		return
	}
	price, err := strconv.ParseInt(chi.URLParam(r, "price"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	seen, err := h.store.Exists(r.Context(), id, price)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"listing_id": id,
		"price":      price,
		"seen":       seen,
	})
}

// ListResults handles GET /api/results
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	files, err := listResultFiles(h.resultsDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": files,
		"count":   len(files),
	})
}

// DownloadResult handles GET /api/results/{name}
func (h *Handlers) DownloadResult(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validResultName(name) {
		writeError(w, http.StatusBadRequest, "invalid result name")
		return
	}

	path := filepath.Join(h.resultsDir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "result not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	http.ServeFile(w, r, path)
}

func validResultName(name string) bool {
	return name != "" &&
		name == filepath.Base(name) &&
		!strings.HasPrefix(name, ".") &&
		strings.HasSuffix(name, ".csv")
}

// listResultFiles returns the CSV files in dir, most recently updated first.
// A missing directory means nothing has been written yet.
func listResultFiles(dir string) ([]models.ResultFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.ResultFile{}, nil
		}
		return nil, err
	}

	files := []models.ResultFile{}
	for _, e := range entries {
		if e.IsDir() || !validResultName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, models.ResultFile{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			UpdatedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].UpdatedAt.After(files[j].UpdatedAt)
	})
	return files, nil
}
