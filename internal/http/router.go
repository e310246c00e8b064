package httpapi

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const apiPrefix = "/traffic/api/v1"

// Router uses the standard library http.ServeMux; methods are checked per route.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// ServeHTTP tags every request with an X-Request-ID and logs it on completion.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	requestID := req.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	r.mux.ServeHTTP(rec, req)

	r.logger.Info("HTTP request",
		zap.String("request_id", requestID),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("duration", time.Since(start)),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RegisterSystemRoutes root banner and health
func (r *Router) RegisterSystemRoutes(s *SystemHandler) {
	r.Handle("/", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
			return
		}
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.Root(w, req)
	})
	r.Handle("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		s.Health(w, req)
	})
}

// RegisterTrafficRoutes sensor, light and incident endpoints under /traffic/api/v1
func (r *Router) RegisterTrafficRoutes(h *TrafficHandler) {
	r.Handle(apiPrefix+"/sensor", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h.PostSensor(w, req)
	})
	r.Handle(apiPrefix+"/sensor/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		id, ok := pathID(req.URL, apiPrefix+"/sensor/")
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "sensor not found"})
			return
		}
		h.GetSensor(w, req, id)
	})
	r.Handle(apiPrefix+"/sensors", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.ListSensors(w, req)
	})
	r.Handle(apiPrefix+"/congestion", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.Congestion(w, req)
	})

	r.Handle(apiPrefix+"/light", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h.PostLight(w, req)
	})
	r.Handle(apiPrefix+"/light/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		id, ok := pathID(req.URL, apiPrefix+"/light/")
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "junction not found"})
			return
		}
		h.GetLight(w, req, id)
	})
	r.Handle(apiPrefix+"/lights", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.ListLights(w, req)
	})

	r.Handle(apiPrefix+"/incident", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		h.PostIncident(w, req)
	})
	r.Handle(apiPrefix+"/incidents", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.ListIncidents(w, req)
	})
	r.Handle(apiPrefix+"/incidents/export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.ExportIncidents(w, req)
	})
}

// pathID extracts the single path segment after prefix. It works on the
// escaped path so an id containing "/" can be addressed as %2F.
func pathID(u *url.URL, prefix string) (string, bool) {
	escaped := u.EscapedPath()
	if !strings.HasPrefix(escaped, prefix) {
		return "", false
	}
	seg := strings.TrimPrefix(escaped, prefix)
	if seg == "" || strings.Contains(seg, "/") {
		return "", false
	}
	id, err := url.PathUnescape(seg)
	if err != nil {
		return "", false
	}
	return id, true
}
