package api

import (
	"net/http"
	"net/url"
	"strconv"
)

// actionFunc performs one control action on an already authenticated request.
type actionFunc func(r *http.Request) reply

// control wraps a POST action with form parsing, the api_password check and
// mode specific rendering. JSON mode writes the envelope; HTML mode stores
// the message in the flash and redirects back to the index.
func (s *Server) control(jsonMode bool, action actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			s.logger.Warn("control request rejected",
				"path", r.URL.Path,
				"error", err,
				"request_id", requestID(r),
			)
			if jsonMode {
				writeReply(w, clientError(msgBadForm))
			} else {
				http.Redirect(w, r, "/", http.StatusMovedPermanently)
			}
			return
		}

		if !s.passwordOK(r.PostForm.Get("api_password")) {
			s.logger.Warn("control request unauthorized",
				"path", r.URL.Path,
				"request_id", requestID(r),
			)
			if jsonMode {
				writeUnauthorized(w)
			} else {
				http.Redirect(w, r, "/", http.StatusMovedPermanently)
			}
			return
		}

		s.respond(w, r, jsonMode, action(r))
	}
}

// respond logs rp and renders it for the request mode.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, jsonMode bool, rp reply) {
	if rp.status == StatusOK {
		s.logger.Info("control request", "path", r.URL.Path, "message", rp.message, "request_id", requestID(r))
	} else {
		s.logger.Warn("control request failed", "path", r.URL.Path, "message", rp.message, "request_id", requestID(r))
	}

	if jsonMode {
		writeReply(w, rp)
		return
	}

	s.flash.Set(rp.message)
	target := "/?api_password=" + url.QueryEscape(r.PostForm.Get("api_password"))
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// formInt parses an optional non-negative integer form field.
func formInt(r *http.Request, key string) (int, bool) {
	raw := r.PostForm.Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
