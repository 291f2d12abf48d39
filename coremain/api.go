package coremain

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/pkg/backend"
)

// The JSON API mirrors the backend's resource endpoints but serves
// reads from the cache layer and routes mutations through the
// optimistic stores, so a consumer sees exactly what a screen using the
// stores would see.
func (t *Teamtrack) registerAPIHandlers() {
	mux := t.httpAPIMux

	mux.HandleFunc("GET /api/players", t.handleListPlayers)
	mux.HandleFunc("POST /api/players", t.handleCreatePlayer)
	mux.HandleFunc("PUT /api/players/{id}", t.handleUpdatePlayer)
	mux.HandleFunc("DELETE /api/players/{id}", t.handleDeletePlayer)
	mux.HandleFunc("GET /api/players/{id}/stats", t.handlePlayerStats)

	mux.HandleFunc("GET /api/teams", t.handleListTeams)
	mux.HandleFunc("POST /api/teams", t.handleCreateTeam)
	mux.HandleFunc("PUT /api/teams/{id}", t.handleUpdateTeam)
	mux.HandleFunc("DELETE /api/teams/{id}", t.handleDeleteTeam)
	mux.HandleFunc("GET /api/teams/{id}/stats", t.handleTeamStats)

	mux.HandleFunc("GET /api/matches", t.handleListMatches)
	mux.HandleFunc("POST /api/matches", t.handleCreateMatch)
	mux.HandleFunc("PUT /api/matches/{id}", t.handleUpdateMatch)
	mux.HandleFunc("DELETE /api/matches/{id}", t.handleDeleteMatch)
	mux.HandleFunc("PUT /api/matches/{id}/score", t.handleMatchScore)
}

func (t *Teamtrack) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.logger.Warn("write response", zap.Error(err))
	}
}

func (t *Teamtrack) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var apiErr *backend.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	body := map[string]any{
		"error": map[string]string{"message": backend.ErrorMessage(err)},
	}
	t.writeJSON(w, status, body)
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (t *Teamtrack) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	s, err := t.playersStore(r.URL.Query().Get("team"), nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	var list []backend.Player
	if r.URL.Query().Get("refresh") == "true" {
		list, err = s.Refresh(r.Context())
	} else {
		list, err = s.Players(r.Context())
	}
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, list)
}

func (t *Teamtrack) handleCreatePlayer(w http.ResponseWriter, r *http.Request) {
	var in backend.PlayerInput
	if err := decodeBody(r, &in); err != nil {
		t.writeError(w, &backend.Error{StatusCode: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	s, err := t.playersStore(in.TeamID, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	p, err := s.Add(r.Context(), in)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusCreated, p)
}

func (t *Teamtrack) handleUpdatePlayer(w http.ResponseWriter, r *http.Request) {
	var p backend.Player
	if err := decodeBody(r, &p); err != nil {
		t.writeError(w, &backend.Error{StatusCode: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	p.ID = r.PathValue("id")
	s, err := t.playersStore(p.TeamID, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	out, err := s.Update(r.Context(), p)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, out)
}

func (t *Teamtrack) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	s, err := t.playersStore(r.URL.Query().Get("team"), nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	if err := s.Remove(r.Context(), r.PathValue("id")); err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusNoContent, nil)
}

func (t *Teamtrack) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	s, err := t.playersStore(r.URL.Query().Get("team"), nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	stats, err := s.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, stats)
}

func (t *Teamtrack) handleListTeams(w http.ResponseWriter, r *http.Request) {
	opts := backend.TeamListOptions{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
	}
	s, err := t.teamsStore(opts, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	var list []backend.Team
	if r.URL.Query().Get("refresh") == "true" {
		list, err = s.Refresh(r.Context())
	} else {
		list, err = s.Teams(r.Context())
	}
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, list)
}

func (t *Teamtrack) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var in backend.TeamInput
	if err := decodeBody(r, &in); err != nil {
		t.writeError(w, &backend.Error{StatusCode: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	s, err := t.teamsStore(backend.TeamListOptions{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	team, err := s.Add(r.Context(), in)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusCreated, team)
}

func (t *Teamtrack) handleUpdateTeam(w http.ResponseWriter, r *http.Request) {
	var team backend.Team
	if err := decodeBody(r, &team); err != nil {
		t.writeError(w, &backend.Error{StatusCode: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	team.ID = r.PathValue("id")
	s, err := t.teamsStore(backend.TeamListOptions{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	out, err := s.Update(r.Context(), team)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, out)
}

func (t *Teamtrack) handleDeleteTeam(w http.ResponseWriter, r *http.Request) {
	s, err := t.teamsStore(backend.TeamListOptions{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	if err := s.Remove(r.Context(), r.PathValue("id")); err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusNoContent, nil)
}

func (t *Teamtrack) handleTeamStats(w http.ResponseWriter, r *http.Request) {
	s, err := t.teamsStore(backend.TeamListOptions{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	stats, err := s.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, stats)
}

func (t *Teamtrack) handleListMatches(w http.ResponseWriter, r *http.Request) {
	filter := backend.MatchFilter{Status: r.URL.Query().Get("status")}
	s, err := t.matchesStore(r.URL.Query().Get("team"), filter, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	var list []backend.Match
	if r.URL.Query().Get("refresh") == "true" {
		list, err = s.Refresh(r.Context())
	} else {
		list, err = s.Matches(r.Context())
	}
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, list)
}

func (t *Teamtrack) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var in backend.MatchInput
	if err := decodeBody(r, &in); err != nil {
		t.writeError(w, &backend.Error{StatusCode: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	s, err := t.matchesStore(in.TeamID, backend.MatchFilter{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	m, err := s.Add(r.Context(), in)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusCreated, m)
}

func (t *Teamtrack) handleUpdateMatch(w http.ResponseWriter, r *http.Request) {
	var m backend.Match
	if err := decodeBody(r, &m); err != nil {
		t.writeError(w, &backend.Error{StatusCode: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	m.ID = r.PathValue("id")
	s, err := t.matchesStore(m.TeamID, backend.MatchFilter{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	out, err := s.Update(r.Context(), m)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, out)
}

func (t *Teamtrack) handleDeleteMatch(w http.ResponseWriter, r *http.Request) {
	s, err := t.matchesStore(r.URL.Query().Get("team"), backend.MatchFilter{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	if err := s.Remove(r.Context(), r.PathValue("id")); err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusNoContent, nil)
}

func (t *Teamtrack) handleMatchScore(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TeamID    string `json:"teamId"`
		HomeScore int    `json:"homeScore"`
		AwayScore int    `json:"awayScore"`
	}
	if err := decodeBody(r, &in); err != nil {
		t.writeError(w, &backend.Error{StatusCode: http.StatusBadRequest, Message: "invalid request body"})
		return
	}
	s, err := t.matchesStore(in.TeamID, backend.MatchFilter{}, nil)
	if err != nil {
		t.writeError(w, err)
		return
	}
	m, err := s.UpdateScore(r.Context(), r.PathValue("id"), in.HomeScore, in.AwayScore)
	if err != nil {
		t.writeError(w, err)
		return
	}
	t.writeJSON(w, http.StatusOK, m)
}
