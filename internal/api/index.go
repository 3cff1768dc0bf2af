package api

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"

	"github.com/nerrad567/homecore/internal/state"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type indexPage struct {
	Password  string
	Flash     string
	States    []stateRow
	Listeners []listenerRow
}

type stateRow struct {
	Category    string
	State       string
	LastChanged string
	Attributes  []string
}

type listenerRow struct {
	EventType string
	Count     int
}

// handleIndex renders the entity table and control forms. A missing or
// wrong api_password renders the password form instead.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	password := r.URL.Query().Get("api_password")
	if !s.passwordOK(password) {
		s.render(w, r, "password.html", nil)
		return
	}

	page := indexPage{
		Password: password,
		Flash:    s.flash.Take(),
	}

	for _, st := range s.machine.All() {
		page.States = append(page.States, newStateRow(st))
	}

	for eventType, count := range s.bus.Listeners() {
		page.Listeners = append(page.Listeners, listenerRow{EventType: eventType, Count: count})
	}
	sort.Slice(page.Listeners, func(i, j int) bool {
		return page.Listeners[i].EventType < page.Listeners[j].EventType
	})

	s.render(w, r, "index.html", page)
}

func newStateRow(st state.State) stateRow {
	row := stateRow{
		Category:    st.Category,
		State:       st.State,
		LastChanged: st.LastChanged.Format(state.TimeFormat),
	}
	keys := make([]string, 0, len(st.Attributes))
	for k := range st.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		row.Attributes = append(row.Attributes, fmt.Sprintf("%s: %v", k, st.Attributes[k]))
	}
	return row
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("rendering page", "template", name, "error", err, "request_id", requestID(r))
	}
}
