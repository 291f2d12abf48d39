package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var nopLogger = zap.NewNop()

type Opts struct {
	// BaseURL of the backend API, e.g. "https://api.example.com/v1".
	// Cannot be empty.
	BaseURL string

	// Token is sent as a bearer token when set. Session management
	// itself lives with the external identity provider.
	Token string

	// Timeout bounds every request. Default is 15s.
	Timeout time.Duration

	// HTTPClient overrides the default client. Optional.
	HTTPClient *http.Client

	// Logger is the *zap.Logger for this client. A nil Logger will
	// disable logging.
	Logger *zap.Logger
}

func (opts *Opts) Init() error {
	if len(opts.BaseURL) == 0 {
		return errors.New("empty base url")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

// Client is a resource-oriented JSON client for the team-tracking
// backend. Mutations carry an X-Request-Id so a retried request stays
// safe against endpoints that are idempotent by request id.
type Client struct {
	opts Opts
}

func NewClient(opts Opts) (*Client, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Client{opts: opts}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.opts.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(c.opts.Token) > 0 {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-Request-Id", uuid.NewString())
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.opts.Logger.Warn("close response body", zap.Error(err))
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newError(resp.StatusCode, respBody)
		c.opts.Logger.Debug("backend error",
			zap.String("method", method), zap.String("path", path),
			zap.Int("status", resp.StatusCode), zap.String("message", apiErr.Message))
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ListPlayers returns the players of a team, or all players when teamID
// is empty.
func (c *Client) ListPlayers(ctx context.Context, teamID string) ([]Player, error) {
	q := url.Values{}
	if len(teamID) > 0 {
		q.Set("team", teamID)
	}
	var players []Player
	if err := c.do(ctx, http.MethodGet, "/players", q, nil, &players); err != nil {
		return nil, err
	}
	return players, nil
}

// CreatePlayer returns the full authoritative record, used to replace
// the optimistic placeholder.
func (c *Client) CreatePlayer(ctx context.Context, in PlayerInput) (Player, error) {
	var p Player
	err := c.do(ctx, http.MethodPost, "/players", nil, in, &p)
	return p, err
}

func (c *Client) UpdatePlayer(ctx context.Context, p Player) (Player, error) {
	var out Player
	err := c.do(ctx, http.MethodPut, "/players/"+url.PathEscape(p.ID), nil, p, &out)
	return out, err
}

func (c *Client) DeletePlayer(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/players/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) PlayerStats(ctx context.Context, id string) (PlayerStats, error) {
	var out PlayerStats
	err := c.do(ctx, http.MethodGet, "/players/"+url.PathEscape(id)+"/stats", nil, nil, &out)
	return out, err
}

func (c *Client) ListTeams(ctx context.Context, opts TeamListOptions) ([]Team, error) {
	q := url.Values{}
	if len(opts.Category) > 0 {
		q.Set("category", opts.Category)
	}
	if len(opts.Search) > 0 {
		q.Set("search", opts.Search)
	}
	var teams []Team
	if err := c.do(ctx, http.MethodGet, "/teams", q, nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (c *Client) CreateTeam(ctx context.Context, in TeamInput) (Team, error) {
	var t Team
	err := c.do(ctx, http.MethodPost, "/teams", nil, in, &t)
	return t, err
}

func (c *Client) UpdateTeam(ctx context.Context, t Team) (Team, error) {
	var out Team
	err := c.do(ctx, http.MethodPut, "/teams/"+url.PathEscape(t.ID), nil, t, &out)
	return out, err
}

func (c *Client) DeleteTeam(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/teams/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) TeamStats(ctx context.Context, id string) (TeamStats, error) {
	var out TeamStats
	err := c.do(ctx, http.MethodGet, "/teams/"+url.PathEscape(id)+"/stats", nil, nil, &out)
	return out, err
}

// ListMatches returns matches for a team (all teams when teamID is
// empty), narrowed by filter.
func (c *Client) ListMatches(ctx context.Context, teamID string, filter MatchFilter) ([]Match, error) {
	q := url.Values{}
	if len(teamID) > 0 {
		q.Set("team", teamID)
	}
	if len(filter.Status) > 0 {
		q.Set("status", filter.Status)
	}
	if filter.From != nil {
		q.Set("from", strconv.FormatInt(filter.From.Unix(), 10))
	}
	if filter.To != nil {
		q.Set("to", strconv.FormatInt(filter.To.Unix(), 10))
	}
	var matches []Match
	if err := c.do(ctx, http.MethodGet, "/matches", q, nil, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

func (c *Client) CreateMatch(ctx context.Context, in MatchInput) (Match, error) {
	var m Match
	err := c.do(ctx, http.MethodPost, "/matches", nil, in, &m)
	return m, err
}

func (c *Client) UpdateMatch(ctx context.Context, m Match) (Match, error) {
	var out Match
	err := c.do(ctx, http.MethodPut, "/matches/"+url.PathEscape(m.ID), nil, m, &out)
	return out, err
}

func (c *Client) DeleteMatch(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/matches/"+url.PathEscape(id), nil, nil, nil)
}

// UpdateMatchScore reports a score change, returning the authoritative
// match record.
func (c *Client) UpdateMatchScore(ctx context.Context, id string, home, away int) (Match, error) {
	in := struct {
		HomeScore int `json:"homeScore"`
		AwayScore int `json:"awayScore"`
	}{home, away}
	var out Match
	err := c.do(ctx, http.MethodPut, "/matches/"+url.PathEscape(id)+"/score", nil, in, &out)
	return out, err
}
