package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"agent-logger/internal/session"
)

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := time.Parse(session.DateLayout, date); err != nil {
		http.Error(w, `{"error":"date must be YYYY-MM-DD"}`, http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	md, err := session.NewMetadataFile(s.store.Path(date, id)).Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"metadata unreadable"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(md)
}
