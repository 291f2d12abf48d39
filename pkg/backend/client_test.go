package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Opts{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)
	return c
}

func Test_client_listPlayers(t *testing.T) {
	r := require.New(t)

	var gotReq *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		gotReq = req.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"p1","teamId":"t1","name":"Ana"}]`))
	})

	players, err := c.ListPlayers(context.Background(), "t1")
	r.NoError(err)
	r.Len(players, 1)
	r.Equal("p1", players[0].ID)
	r.Equal("Ana", players[0].Name)

	r.Equal("/players", gotReq.URL.Path)
	r.Equal("t1", gotReq.URL.Query().Get("team"))
	r.Equal("Bearer tok", gotReq.Header.Get("Authorization"))
	r.Empty(gotReq.Header.Get("X-Request-Id"), "GET must not carry a request id")
}

func Test_client_createPlayer(t *testing.T) {
	r := require.New(t)

	var gotBody []byte
	var gotReq *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		gotReq = req.Clone(context.Background())
		gotBody, _ = io.ReadAll(req.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p9","teamId":"t1","name":"Leo","number":10}`))
	})

	p, err := c.CreatePlayer(context.Background(), PlayerInput{
		TeamID: "t1", Name: "Leo", Number: 10, Position: "FW",
	})
	r.NoError(err)
	r.Equal("p9", p.ID)

	r.Equal(http.MethodPost, gotReq.Method)
	r.Equal("application/json", gotReq.Header.Get("Content-Type"))
	r.NotEmpty(gotReq.Header.Get("X-Request-Id"), "mutation must carry a request id")

	var in PlayerInput
	r.NoError(json.Unmarshal(gotBody, &in))
	r.Equal("Leo", in.Name)
	r.Equal(10, in.Number)
}

func Test_client_errorExtraction(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"structured", http.StatusConflict, `{"error":{"message":"jersey number taken"}}`, "jersey number taken"},
		{"flat", http.StatusBadRequest, `{"message":"name required"}`, "name required"},
		{"opaque", http.StatusBadGateway, `<html>bad gateway</html>`, "Bad Gateway"},
		{"empty", http.StatusInternalServerError, ``, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.ListTeams(context.Background(), TeamListOptions{})
			r.Error(err)

			var apiErr *Error
			r.ErrorAs(err, &apiErr)
			r.Equal(tt.status, apiErr.StatusCode)
			r.Equal(tt.wantMsg, apiErr.Message)
			r.Equal(tt.wantMsg, ErrorMessage(err))
		})
	}
}

func Test_client_matchFilter(t *testing.T) {
	r := require.New(t)

	var gotQuery map[string][]string
	c := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		gotQuery = req.URL.Query()
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := c.ListMatches(context.Background(), "t1", MatchFilter{Status: MatchScheduled})
	r.NoError(err)
	r.Equal([]string{"t1"}, gotQuery["team"])
	r.Equal([]string{MatchScheduled}, gotQuery["status"])
	r.Empty(gotQuery["from"])
	r.Empty(gotQuery["to"])
}

func Test_errorMessage(t *testing.T) {
	if got := ErrorMessage(nil); got != "" {
		t.Fatalf("nil error yields %q", got)
	}
	if got := ErrorMessage(errors.New("plain")); got != "plain" {
		t.Fatalf("plain error yields %q", got)
	}
	if got := ErrorMessage(&Error{StatusCode: 404, Message: "no such team"}); got != "no such team" {
		t.Fatalf("api error yields %q", got)
	}
}
