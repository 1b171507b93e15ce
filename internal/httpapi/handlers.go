package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/log"
	"github.com/zjrosen/deepwork/internal/pubsub"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.KindValidation, err.Error())
		return
	}
	writeResult(w, s.svc.GetTasks(r.Context(), filter), http.StatusOK)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	writeResult(w, s.svc.CreateTask(r.Context(), in), http.StatusCreated)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.GetTask(r.Context(), r.PathValue("id")), http.StatusOK)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var u domain.UpdateInput
	if !decodeBody(w, r, &u) {
		return
	}
	writeResult(w, s.svc.UpdateTask(r.Context(), r.PathValue("id"), u), http.StatusOK)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.DeleteTask(r.Context(), r.PathValue("id")), http.StatusOK)
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.StartTask(r.Context(), r.PathValue("id")), http.StatusOK)
}

type statusRequest struct {
	Completed *bool `json:"completed"`
}

func (s *Server) setTaskStatus(w http.ResponseWriter, r *http.Request) {
	completed, ok := decodeCompleted(w, r)
	if !ok {
		return
	}
	writeResult(w, s.svc.UpdateTaskStatus(r.Context(), r.PathValue("id"), completed), http.StatusOK)
}

func (s *Server) setSubtaskStatus(w http.ResponseWriter, r *http.Request) {
	completed, ok := decodeCompleted(w, r)
	if !ok {
		return
	}
	writeResult(w, s.svc.UpdateSubtaskStatus(r.Context(), r.PathValue("id"), completed), http.StatusOK)
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.svc.GetAnalytics(r.Context()), http.StatusOK)
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    s.svc.Sessions(),
	})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    s.svc.CacheStats(),
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// streamEvents writes task events as server-sent events until the client
// goes away.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errs.KindUnknown, "streaming unsupported")
		return
	}

	var types []pubsub.EventType
	for _, raw := range splitValues(r.URL.Query()["types"]) {
		t, ok := pubsub.ParseEventType(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, errs.KindValidation, fmt.Sprintf("unknown event type %q", raw))
			return
		}
		types = append(types, t)
	}

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss an event.
	events := s.events.Subscribe(r.Context(), types...)

	// The server write timeout would otherwise end the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				log.ErrorErr(log.CatHTTP, "Failed to encode event", err, "type", ev.Type)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, errs.KindValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func decodeCompleted(w http.ResponseWriter, r *http.Request) (bool, bool) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return false, false
	}
	if req.Completed == nil {
		writeError(w, http.StatusBadRequest, errs.KindValidation, "completed is required")
		return false, false
	}
	return *req.Completed, true
}

// ParseFilter reads a TaskFilter from the query string. List parameters
// accept repeated keys or comma-separated values; priority accepts names
// ("high") or numbers ("3").
func ParseFilter(r *http.Request) (domain.TaskFilter, error) {
	q := r.URL.Query()
	var f domain.TaskFilter

	for _, v := range splitValues(q["status"]) {
		st := domain.Status(v)
		if !st.IsValid() {
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, v := range splitValues(q["priority"]) {
		p, ok := domain.ParsePriority(v)
		if !ok {
			n, err := strconv.Atoi(v)
			if err != nil || !domain.Priority(n).IsValid() {
				return f, fmt.Errorf("unknown priority %q", v)
			}
			p = domain.Priority(n)
		}
		f.Priorities = append(f.Priorities, p)
	}
	for _, v := range splitValues(q["complexity"]) {
		c := domain.Complexity(v)
		if !c.IsValid() {
			return f, fmt.Errorf("unknown complexity %q", v)
		}
		f.Complexities = append(f.Complexities, c)
	}
	if v := q.Get("min_focus"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("min_focus must be a non-negative integer")
		}
		f.MinFocusIntensity = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	f.Search = q.Get("q")
	return f, nil
}

func splitValues(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, v := range strings.Split(r, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
