package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/image-archiver/internal/archiver"
	"github.com/JakeFAU/image-archiver/internal/progress/sinks"
)

const (
	defaultCaptureLimit = 100
	maxCaptureLimit     = 1000
)

type sourceDTO struct {
	ID     string              `json:"id"`
	URL    string              `json:"url"`
	Dir    string              `json:"dir"`
	Mode   string              `json:"mode"`
	Status *sinks.SourceStatus `json:"status,omitempty"`
}

type captureDTO struct {
	Filename   string    `json:"filename"`
	Bytes      int64     `json:"bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// listSources handles GET /v1/sources and returns {"sources": [...]} in registry order.
func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	out := make([]sourceDTO, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, s.toSourceDTO(src))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// getSource handles GET /v1/sources/{source_id}; 404 when the id is not registered.
func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"source": s.toSourceDTO(src)})
}

// listCaptures handles GET /v1/sources/{source_id}/captures?limit=&offset=.
// Items are listed newest first and exclude the latest pointer and temp files.
func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	src, ok := s.lookup(r)
	if !ok {
		s.writeError(w, http.StatusNotFound, "source not found")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultCaptureLimit, maxCaptureLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	captures, err := readCaptures(src.Dir)
	if err != nil {
		s.logger.Error("list captures failed", zap.String("source_id", src.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list captures")
		return
	}
	total := len(captures)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"source_id": src.ID,
		"total":     total,
		"captures":  captures[offset:end],
	})
}

// getCycles handles GET /v1/cycles.
func (s *Server) getCycles(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		s.writeError(w, http.StatusServiceUnavailable, "status unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cycles": s.status.Cycles()})
}

func (s *Server) lookup(r *http.Request) (archiver.Source, bool) {
	id := chi.URLParam(r, "source_id")
	if id == "" {
		return archiver.Source{}, false
	}
	src, ok := s.byID[id]
	return src, ok
}

func (s *Server) toSourceDTO(src archiver.Source) sourceDTO {
	dto := sourceDTO{
		ID:   src.ID,
		URL:  src.URL,
		Dir:  src.Dir,
		Mode: string(src.Mode),
	}
	if s.status != nil {
		if st, ok := s.status.Source(src.ID); ok {
			dto.Status = &st
		}
	}
	return dto
}

func readCaptures(dir string) ([]captureDTO, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []captureDTO{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	out := make([]captureDTO, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if name == archiver.LatestName || strings.HasPrefix(name, ".") || !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, captureDTO{
			Filename:   name,
			Bytes:      info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename > out[j].Filename })
	return out, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
