package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"pii-redactor/internal/redactor"
)

// maxRestoreBody caps the optional restore body, which holds at most one
// sealed envelope.
const maxRestoreBody = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).Round(time.Second).String(),
		"remote_llm": s.svc.RemoteAllowed(),
	})
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	mode, err := redactor.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var opts redactor.Options
	if opts.StoreEnvelope, err = boolQuery(r, "store_envelope", true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.IncludeEnvelope, err = boolQuery(r, "include_envelope", false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	text, err := readText(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.svc.Redact(r.Context(), mode, text, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readText extracts the document text from a JSON {"text":...} body, a
// multipart "file" field, or a raw body.
func readText(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var raw []byte
	switch mediaType {
	case "application/json":
		var req struct {
			Text *string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return "", fmt.Errorf("invalid request: need {\"text\":\"...\"}: %w", err)
		}
		if req.Text == nil {
			return "", errors.New("invalid request: need {\"text\":\"...\"}")
		}
		return *req.Text, nil
	case "multipart/form-data":
		f, _, err := r.FormFile("file")
		if err != nil {
			return "", fmt.Errorf("invalid upload: %w", err)
		}
		defer f.Close() //nolint:errcheck // read-only upload
		if raw, err = io.ReadAll(f); err != nil {
			return "", err
		}
	default:
		var err error
		if raw, err = io.ReadAll(r.Body); err != nil {
			return "", err
		}
	}
	if !utf8.Valid(raw) {
		return "", errors.New("document is not valid UTF-8 text")
	}
	return string(raw), nil
}

func boolQuery(r *http.Request, name string, def bool) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false", name)
	}
	return b, nil
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "masked"
	}
	if format != "masked" && format != "audit" {
		writeError(w, http.StatusBadRequest, "format must be 'masked' or 'audit'")
		return
	}

	entry, err := s.svc.Document(docID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	switch format {
	case "masked":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", attachment(docID+"_masked.txt"))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, entry.MaskedText) //nolint:errcheck // client gone
	case "audit":
		w.Header().Set("Content-Disposition", attachment(docID+"_audit.json"))
		writeJSON(w, http.StatusOK, entry.Audit)
	}
}

func attachment(name string) string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": name})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	var req struct {
		EnvelopeEncrypted string `json:"envelope_encrypted"`
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRestoreBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request: need {\"envelope_encrypted\":\"...\"} or an empty body")
			return
		}
	}

	restored, err := s.svc.Restore(r.Context(), docID, req.EnvelopeEncrypted)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"doc_id": docID, "restored_text": restored})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	var req redactor.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: need {\"message\":\"...\"}")
		return
	}
	reply, err := s.svc.Chat(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
