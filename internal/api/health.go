package api

import "net/http"

type healthResponse struct {
	Status  string `json:"status"`
	Engines int    `json:"engines"`
}

// handleHealthz answers as long as the process serves HTTP. Engines is the
// number of registered launchers, which is zero only on a miswired binary.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Engines: len(s.registry.List()),
	})
}
