package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/intertalk/internal/dispatch"
	"github.com/mattjoyce/intertalk/internal/events"
)

// streamFilter narrows /events to some event types, one layer or one
// condition name. The zero value passes everything.
type streamFilter struct {
	types     map[string]bool
	depth     *int
	condition string
}

// eventScope is the part of every dispatcher payload a filter looks at.
type eventScope struct {
	Depth     int    `json:"depth"`
	Condition string `json:"condition"`
	Scope     string `json:"scope"`
}

func parseStreamFilter(r *http.Request) (streamFilter, error) {
	q := r.URL.Query()
	var f streamFilter

	known := dispatch.EventTypes()
	for _, v := range q["type"] {
		for t := range strings.SplitSeq(v, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if !slices.Contains(known, t) {
				return f, fmt.Errorf("unknown event type %q", t)
			}
			if f.types == nil {
				f.types = map[string]bool{}
			}
			f.types[t] = true
		}
	}

	if v := q.Get("depth"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil || depth < 0 {
			return f, fmt.Errorf("invalid depth %q", v)
		}
		f.depth = &depth
	}
	f.condition = q.Get("condition")
	return f, nil
}

func (f streamFilter) match(ev events.Event) bool {
	if f.types != nil && !f.types[ev.Type] {
		return false
	}
	if f.depth == nil && f.condition == "" {
		return true
	}

	var sc eventScope
	if err := json.Unmarshal(ev.Data, &sc); err != nil {
		return false
	}
	// A reset reaches every condition it covers.
	switch sc.Scope {
	case "all":
		return true
	case "layer":
		return f.depth == nil || sc.Depth == *f.depth
	}
	if f.depth != nil && sc.Depth != *f.depth {
		return false
	}
	return f.condition == "" || sc.Condition == f.condition
}

// handleEvents streams dispatcher events as SSE, replaying the buffer after Last-Event-ID.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseStreamFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lastID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	for _, ev := range s.events.SnapshotSince(lastID) {
		if !filter.match(ev) {
			continue
		}
		if err := writeSSE(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	ch, cancel := s.events.Subscribe()
	defer cancel()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !filter.match(ev) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames ev; payloads are single-line JSON so one data line is enough.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data); err != nil {
		return err
	}
	return nil
}
