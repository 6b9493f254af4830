// Package http exposes the repository over a small JSON API.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nasdf/tessera"
	"github.com/nasdf/tessera/catalog"
	"github.com/nasdf/tessera/core"
	"github.com/nasdf/tessera/object"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	ErrorCode string         `json:"errorCode"`
	Reason    string         `json:"reason,omitempty"`
	Status    int            `json:"status"`
	Message   string         `json:"message"`
	Conflicts []conflictBody `json:"conflicts,omitempty"`
}

type conflictBody struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ListenAndServe starts an http server bound to the given address.
func ListenAndServe(repo *tessera.Repository, addr string, log *zap.Logger) error {
	return http.ListenAndServe(addr, Handler(repo, log))
}

// Handler returns the API routes for the repository.
func Handler(repo *tessera.Repository, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &server{repo: repo, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /refs", s.listRefs)
	mux.HandleFunc("GET /refs/{name}", s.getRef)
	mux.HandleFunc("GET /trees/{ref}/entries", s.entries)
	mux.HandleFunc("GET /trees/{ref}/log", s.commitLog)
	mux.HandleFunc("GET /trees/{ref}/contents/{key}", s.getContent)
	mux.HandleFunc("GET /trees/{from}/diff/{to}", s.diff)
	mux.HandleFunc("GET /trees/{ref}/snapshot/{key}", s.snapshot)
	return mux
}

type server struct {
	repo *tessera.Repository
	log  *zap.Logger
}

func (s *server) listRefs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.repo.Store.ListRefs(r.Context(), q.Get("filter"), q.Get("cursor"), intParam(q.Get("limit")))
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, toRefPageBody(page), nil)
}

func (s *server) getRef(w http.ResponseWriter, r *http.Request) {
	ref, err := s.repo.Store.GetRef(r.Context(), r.PathValue("name"))
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, toRefBody(ref), nil)
}

func (s *server) entries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var prefix object.Key
	if p := q.Get("prefix"); p != "" {
		prefix = strings.Split(p, ".")
	}
	page, err := s.repo.Store.Entries(r.Context(), r.PathValue("ref"), prefix, q.Get("cursor"), intParam(q.Get("limit")))
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, toEntryPageBody(page), nil)
}

func (s *server) commitLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.repo.Store.CommitLog(r.Context(), r.PathValue("ref"), q.Get("cursor"), intParam(q.Get("limit")))
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, toLogPageBody(page), nil)
}

func (s *server) getContent(w http.ResponseWriter, r *http.Request) {
	key := strings.Split(r.PathValue("key"), ".")
	content, err := s.repo.Store.GetContent(r.Context(), r.PathValue("ref"), key)
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, toContentBody(content), nil)
}

func (s *server) diff(w http.ResponseWriter, r *http.Request) {
	entries, err := s.repo.Store.Diff(r.Context(), r.PathValue("from"), r.PathValue("to"))
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	s.respond(w, toDiffBody(entries), nil)
}

func (s *server) snapshot(w http.ResponseWriter, r *http.Request) {
	key := strings.Split(r.PathValue("key"), ".")
	format := catalog.FormatNative
	if r.URL.Query().Get("format") == "iceberg" {
		format = catalog.FormatIceberg
	}
	result, err := s.repo.Catalog.RetrieveSnapshot(r.Context(), r.PathValue("ref"), key, format)
	if err != nil {
		s.respond(w, nil, err)
		return
	}
	if format == catalog.FormatIceberg {
		w.Header().Set("Content-Type", "application/json")
		w.Write(result.Metadata)
		return
	}
	s.respond(w, result, nil)
}

func (s *server) respond(w http.ResponseWriter, value any, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		body := toErrorBody(err)
		s.log.Debug("request failed",
			zap.String("code", body.ErrorCode),
			zap.String("message", body.Message))
		w.WriteHeader(body.Status)
		_ = json.NewEncoder(w).Encode(body)
		return
	}
	_ = json.NewEncoder(w).Encode(value)
}

func toErrorBody(err error) errorBody {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		return errorBody{
			ErrorCode: core.CodeInternal.String(),
			Status:    core.CodeInternal.Status(),
			Message:   err.Error(),
		}
	}
	body := errorBody{
		ErrorCode: coreErr.Code.String(),
		Reason:    coreErr.Reason,
		Status:    coreErr.Status(),
		Message:   coreErr.Message,
	}
	for _, c := range coreErr.Conflicts {
		body.Conflicts = append(body.Conflicts, conflictBody{
			Key:     c.Key.String(),
			Kind:    c.Kind.String(),
			Message: c.Message,
		})
	}
	return body
}

func intParam(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}
