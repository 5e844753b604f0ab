package petshop

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	apierrors "github.com/wudi/petshop/internal/errors"
	"github.com/wudi/petshop/internal/middleware"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// MaxBodySize limits request bodies accepted by the HTTP API.
const MaxBodySize = 1 << 20

// NewHTTPHandler returns the JSON HTTP API for svc. Each route is named after
// its gRPC method and the router itself after the service.
func NewHTTPHandler(svc *Service) http.Handler {
	h := &httpAPI{svc: svc}

	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierrors.ErrNotFound.WriteJSON(w)
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierrors.ErrMethodNotAllowed.WriteJSON(w)
	})

	route := func(method, path, name string, fn http.HandlerFunc) {
		router.Handler(method, path, middleware.WithName(fn, ServiceName+"/"+name))
	}
	route(http.MethodPost, "/v1/json", "Json", h.json)
	route(http.MethodPost, "/v1/csrf", "Csrf", h.csrf)
	route(http.MethodPost, "/v1/pet", "PetPost", h.petPost)
	route(http.MethodPut, "/v1/pet", "PetPut", h.petPut)
	route(http.MethodGet, "/v1/pet/findByStatus", "PetFindByStatus", h.findByStatus)
	route(http.MethodGet, "/v1/pet/findByTag", "PetFindByTag", h.findByTag)
	route(http.MethodGet, "/v1/readiness", "Readiness", h.readiness)

	return middleware.WithName(router, ServiceName)
}

type httpAPI struct {
	svc *Service
}

func (h *httpAPI) json(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	in := &structpb.Struct{}
	if err := protojson.Unmarshal(body, in); err != nil {
		writeError(w, r, h.svc.invalid("body must be a JSON object"))
		return
	}
	out, err := h.svc.JSON(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := protojson.Marshal(out)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (h *httpAPI) csrf(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CSRF(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *httpAPI) petPost(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	pet, err := h.svc.PetPost(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pet)
}

func (h *httpAPI) petPut(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	pet, err := h.svc.PetPut(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pet)
}

func (h *httpAPI) findByStatus(w http.ResponseWriter, r *http.Request) {
	pets, err := h.svc.PetFindByStatus(r.Context(), queryList(r, "status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, petList{Pets: pets})
}

func (h *httpAPI) findByTag(w http.ResponseWriter, r *http.Request) {
	pets, err := h.svc.PetFindByTag(r.Context(), queryList(r, "tags"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, petList{Pets: pets})
}

func (h *httpAPI) readiness(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Readiness(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *httpAPI) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodySize))
	if err != nil {
		writeError(w, r, apierrors.ErrBadRequest.WithDetails(err.Error()))
		return nil, false
	}
	return body, true
}

// queryList accepts both repeated and comma separated values.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if ae, ok := apierrors.AsAPIError(err); ok {
		if id := middleware.RequestIDFromContext(r.Context()); id != "" {
			ae = ae.WithRequestID(id)
		}
		ae.WriteJSON(w)
		return
	}
	apierrors.WriteError(w, err)
}
