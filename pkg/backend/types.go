package backend

import "time"

// Records returned by the backend always carry a server-assigned id.
// Optimistic placeholders reuse these shapes with a temporary id until
// the server confirms.

type Player struct {
	ID            string    `json:"id"`
	TeamID        string    `json:"teamId"`
	Name          string    `json:"name"`
	Number        int       `json:"number"`
	Position      string    `json:"position"`
	Goals         int       `json:"goals"`
	Assists       int       `json:"assists"`
	MatchesPlayed int       `json:"matchesPlayed"`
	CreatedAt     time.Time `json:"createdAt"`
}

type PlayerInput struct {
	TeamID   string `json:"teamId"`
	Name     string `json:"name"`
	Number   int    `json:"number"`
	Position string `json:"position"`
}

type Team struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	PlayerCount int       `json:"playerCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TeamInput struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// TeamListOptions narrows ListTeams. The zero value lists everything.
// Options are part of the cache key, so field order and omitempty
// matter for key stability.
type TeamListOptions struct {
	Category string `json:"category,omitempty"`
	Search   string `json:"search,omitempty"`
}

const (
	MatchScheduled = "scheduled"
	MatchLive      = "live"
	MatchFinished  = "finished"
)

type Match struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"teamId"`
	Opponent  string    `json:"opponent"`
	KickOff   time.Time `json:"kickOff"`
	Location  string    `json:"location"`
	HomeScore int       `json:"homeScore"`
	AwayScore int       `json:"awayScore"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type MatchInput struct {
	TeamID   string    `json:"teamId"`
	Opponent string    `json:"opponent"`
	KickOff  time.Time `json:"kickOff"`
	Location string    `json:"location"`
}

// MatchFilter narrows ListMatches. The zero value lists everything.
type MatchFilter struct {
	Status string     `json:"status,omitempty"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
}

type PlayerStats struct {
	PlayerID      string `json:"playerId"`
	Goals         int    `json:"goals"`
	Assists       int    `json:"assists"`
	MatchesPlayed int    `json:"matchesPlayed"`
	MinutesPlayed int    `json:"minutesPlayed"`
}

type TeamStats struct {
	TeamID       string `json:"teamId"`
	Played       int    `json:"played"`
	Wins         int    `json:"wins"`
	Draws        int    `json:"draws"`
	Losses       int    `json:"losses"`
	GoalsFor     int    `json:"goalsFor"`
	GoalsAgainst int    `json:"goalsAgainst"`
}
