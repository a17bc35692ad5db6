package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/crypto/bcrypt"

	"github.com/jensholdgaard/team-auction/internal/api"
	"github.com/jensholdgaard/team-auction/internal/auction"
	"github.com/jensholdgaard/team-auction/internal/auth"
	"github.com/jensholdgaard/team-auction/internal/clock"
	"github.com/jensholdgaard/team-auction/internal/config"
	"github.com/jensholdgaard/team-auction/internal/event"
	"github.com/jensholdgaard/team-auction/internal/health"
	"github.com/jensholdgaard/team-auction/internal/roster"
	"github.com/jensholdgaard/team-auction/internal/store/memory"
	"github.com/jensholdgaard/team-auction/internal/telemetry"
)

type testServer struct {
	*httptest.Server
	issuer *auth.Issuer
	token  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	admins := []config.AdminAccount{{Username: "ops", PasswordHash: string(hash)}}

	metrics, err := telemetry.NewMetrics(metricnoop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	clk := clock.NewMock(time.Now())
	st := memory.New()
	gate := auth.NewAdminGate(slog.Default(), auth.ConfigDirectory(admins), auth.StoreDirectory{Store: st})
	mgr := auction.NewManager(st, gate, config.Defaults().Auction, slog.Default(), noop.NewTracerProvider(), metrics, clk)
	if err := mgr.Bootstrap(context.Background(), nil); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	issuer := auth.NewIssuer("test-secret", time.Hour, clk)
	hh := health.NewHandler(clk, health.StoreChecker(st))
	hh.SetReady(true)

	srv := api.New(api.Options{
		Manager:  mgr,
		Accounts: auth.NewAccounts(admins),
		Issuer:   issuer,
		Health:   hh,
		Logger:   slog.Default(),
		Tracer:   noop.NewTracerProvider(),
	})
	ts := &testServer{Server: httptest.NewServer(srv.Handler()), issuer: issuer}
	t.Cleanup(ts.Close)

	token, _, err := issuer.Issue(auth.Principal{ID: "ops", Name: "ops", Source: "http"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ts.token = token
	return ts
}

// do sends body as JSON and decodes the response into out when non-nil.
func (ts *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type apiError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Limit  *int   `json:"limit"`
}

func (ts *testServer) addPlayer(t *testing.T, name string, base int) roster.Player {
	t.Helper()
	var p roster.Player
	in := roster.Input{Name: name, InterestedGames: []string{"chess"}, BasePrice: base}
	if code := ts.do(t, http.MethodPost, "/api/players", ts.token, in, &p); code != http.StatusCreated {
		t.Fatalf("add player: status %d", code)
	}
	return p
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)

	var e apiError
	code := ts.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "ops", "password": "wrong"}, &e)
	if code != http.StatusUnauthorized || e.Reason != "invalid_credentials" {
		t.Errorf("wrong password: status %d reason %q", code, e.Reason)
	}

	var resp struct {
		Token     string         `json:"token"`
		Principal auth.Principal `json:"principal"`
	}
	code = ts.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "OPS", "password": "hunter2"}, &resp)
	if code != http.StatusOK || resp.Token == "" || resp.Principal.ID != "ops" {
		t.Fatalf("login: status %d resp %+v", code, resp)
	}

	p := ts.addPlayerWith(t, resp.Token)
	if p.ID == "" {
		t.Error("token from login should be usable")
	}
}

func (ts *testServer) addPlayerWith(t *testing.T, token string) roster.Player {
	t.Helper()
	var p roster.Player
	in := roster.Input{Name: "Via Login", InterestedGames: []string{"go"}}
	if code := ts.do(t, http.MethodPost, "/api/players", token, in, &p); code != http.StatusCreated {
		t.Fatalf("add player: status %d", code)
	}
	return p
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]string{"playerId": "p1"}

	if code := ts.do(t, http.MethodPost, "/api/auction/start", "", body, nil); code != http.StatusUnauthorized {
		t.Errorf("anonymous: status %d, want 401", code)
	}
	if code := ts.do(t, http.MethodPost, "/api/auction/start", "garbage", body, nil); code != http.StatusUnauthorized {
		t.Errorf("bad token: status %d, want 401", code)
	}

	mallory, _, err := ts.issuer.Issue(auth.Principal{ID: "mallory"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if code := ts.do(t, http.MethodPost, "/api/auction/start", mallory, body, nil); code != http.StatusForbidden {
		t.Errorf("non-admin: status %d, want 403", code)
	}
	if code := ts.do(t, http.MethodGet, "/api/snapshot", "", nil, nil); code != http.StatusOK {
		t.Errorf("anonymous snapshot: status %d, want 200", code)
	}
}

func TestAuctionFlow(t *testing.T) {
	ts := newTestServer(t)
	p := ts.addPlayer(t, "Asha", 20)

	var res auction.Result
	if code := ts.do(t, http.MethodPost, "/api/auction/start", ts.token, map[string]string{"playerId": p.ID}, &res); code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}
	for _, bid := range []map[string]any{{"team": "A", "delta": 10}, {"team": "B", "delta": 15}} {
		if code := ts.do(t, http.MethodPost, "/api/auction/bid", ts.token, bid, &res); code != http.StatusOK {
			t.Fatalf("bid %v: status %d", bid, code)
		}
	}
	if res.Auction.CurrentPrice != 45 {
		t.Errorf("price = %d, want 45", res.Auction.CurrentPrice)
	}

	if code := ts.do(t, http.MethodPost, "/api/auction/finalize", ts.token, nil, &res); code != http.StatusOK {
		t.Fatalf("finalize: status %d", code)
	}
	if res.Player.Status != roster.StatusSold || res.Team == nil || res.Team.TotalSpent != 45 {
		t.Errorf("result = %+v", res)
	}

	var v auction.View
	if code := ts.do(t, http.MethodGet, "/api/snapshot", "", nil, &v); code != http.StatusOK {
		t.Fatalf("snapshot: status %d", code)
	}
	if v.TeamB.Spent != 45 || v.TeamB.Remaining != 955 || v.Auction.Active() {
		t.Errorf("view = %+v", v)
	}

	if code := ts.do(t, http.MethodPost, "/api/players/"+p.ID+"/reset", ts.token, nil, &res); code != http.StatusOK {
		t.Fatalf("reset: status %d", code)
	}
	if res.Player.Status != roster.StatusAvailable || res.Team.TotalSpent != 0 {
		t.Errorf("after reset = %+v", res)
	}

	var events []event.Event
	if code := ts.do(t, http.MethodGet, "/api/history?player="+p.ID, "", nil, &events); code != http.StatusOK {
		t.Fatalf("history: status %d", code)
	}
	if len(events) != 6 || events[len(events)-1].Type != event.PlayerReset {
		t.Errorf("history = %+v", events)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	p := ts.addPlayer(t, "Bo", 20)

	tests := []struct {
		name       string
		path       string
		body       any
		wantCode   int
		wantReason string
	}{
		{"no auction to bid on", "/api/auction/bid", map[string]any{"team": "A", "delta": 5}, http.StatusConflict, "no_active_auction"},
		{"no auction to finalize", "/api/auction/finalize", nil, http.StatusConflict, "no_active_auction"},
		{"unknown player", "/api/auction/start", map[string]string{"playerId": "ghost"}, http.StatusNotFound, "player_not_found"},
		{"malformed body", "/api/auction/start", map[string]int{"playerId": 7}, http.StatusBadRequest, "bad_request"},
		{"start", "/api/auction/start", map[string]string{"playerId": p.ID}, http.StatusOK, ""},
		{"busy", "/api/auction/start", map[string]string{"playerId": p.ID}, http.StatusConflict, "auction_busy"},
		{"finalize without bids", "/api/auction/finalize", nil, http.StatusConflict, "no_bids"},
		{"negative delta", "/api/auction/bid", map[string]any{"team": "A", "delta": -1}, http.StatusUnprocessableEntity, "invalid_delta"},
		{"unknown team", "/api/auction/bid", map[string]any{"team": "C", "delta": 1}, http.StatusNotFound, "team_not_found"},
		{"over budget", "/api/auction/bid", map[string]any{"team": "A", "delta": 2000}, http.StatusUnprocessableEntity, "budget_exceeded"},
		{"invalid player", "/api/players", roster.Input{Name: "No Games"}, http.StatusUnprocessableEntity, "invalid_player"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e apiError
			code := ts.do(t, http.MethodPost, tt.path, ts.token, tt.body, &e)
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%+v)", code, tt.wantCode, e)
			}
			if e.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", e.Reason, tt.wantReason)
			}
			if tt.wantReason == "budget_exceeded" && (e.Limit == nil || *e.Limit != 1000) {
				t.Errorf("limit = %v, want 1000", e.Limit)
			}
		})
	}
}

func TestRestore(t *testing.T) {
	ts := newTestServer(t)
	ts.addPlayer(t, "Old", 20)

	doc := map[string]any{
		"players": []map[string]any{
			{"id": "n1", "name": "New One", "interestedGames": []string{"go"}, "basePrice": 30, "status": "sold", "soldTo": "A", "currentPrice": 40, "finalPrice": 40},
		},
	}
	var resp struct {
		Revision int64 `json:"revision"`
	}
	if code := ts.do(t, http.MethodPost, "/api/restore", ts.token, doc, &resp); code != http.StatusOK {
		t.Fatalf("restore: status %d", code)
	}

	var v auction.View
	ts.do(t, http.MethodGet, "/api/snapshot", "", nil, &v)
	if v.Revision != resp.Revision || len(v.Players) != 1 {
		t.Fatalf("view = %+v", v)
	}
	if got := v.Players[0]; got.Status != roster.StatusAvailable || got.CurrentPrice != 30 {
		t.Errorf("restored player = %+v", got)
	}

	bad := map[string]any{
		"players": []map[string]any{{"id": "x", "name": "X", "interestedGames": []string{"go"}, "status": "sold", "soldTo": "A", "currentPrice": 40, "finalPrice": 40}},
		"teams":   []map[string]any{{"id": "A", "budget": 1000, "totalSpent": 0, "players": []string{}}},
	}
	var e apiError
	if code := ts.do(t, http.MethodPost, "/api/restore", ts.token, bad, &e); code != http.StatusUnprocessableEntity {
		t.Errorf("inconsistent restore: status %d (%+v)", code, e)
	}
}

func TestRestore_KeyedPlayers(t *testing.T) {
	ts := newTestServer(t)

	doc := map[string]any{
		"players": map[string]any{
			"p1": map[string]any{"id": "p1", "name": "Keyed One", "interestedGames": []string{"go"}, "basePrice": 20},
			"p2": map[string]any{"name": "Keyed Two", "interestedGames": []string{"chess"}, "basePrice": 20, "soldTo": nil, "finalPrice": nil},
		},
	}
	if code := ts.do(t, http.MethodPost, "/api/restore", ts.token, doc, nil); code != http.StatusOK {
		t.Fatalf("restore: status %d", code)
	}

	var v auction.View
	ts.do(t, http.MethodGet, "/api/snapshot", "", nil, &v)
	if len(v.Players) != 2 || v.Players[0].ID != "p1" || v.Players[1].ID != "p2" {
		t.Errorf("players = %+v", v.Players)
	}
}

func TestCurrentPlayer_ChunkedEmptyBody(t *testing.T) {
	ts := newTestServer(t)
	p := ts.addPlayer(t, "Chunk", 20)
	if code := ts.do(t, http.MethodPost, "/api/auction/start", ts.token, map[string]string{"playerId": p.ID}, nil); code != http.StatusOK {
		t.Fatalf("start: status %d", code)
	}
	if code := ts.do(t, http.MethodPost, "/api/auction/bid", ts.token, map[string]any{"team": "A", "delta": 10}, nil); code != http.StatusOK {
		t.Fatalf("bid: status %d", code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auction/finalize", strings.NewReader(""))
	req.ContentLength = -1
	req.TransferEncoding = []string{"chunked"}
	req.Header.Set("Authorization", "Bearer "+ts.token)
	rec := httptest.NewRecorder()
	ts.Config.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: status %d body %s", rec.Code, rec.Body.String())
	}
	var v auction.View
	ts.do(t, http.MethodGet, "/api/snapshot", "", nil, &v)
	if v.Players[0].Status != roster.StatusSold || v.TeamA.Spent != 30 {
		t.Errorf("after finalize: player %+v team A %+v", v.Players[0], v.TeamA)
	}
}

func TestWebSocket(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first auction.View
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("reading initial view: %v", err)
	}

	p := ts.addPlayer(t, "Cy", 20)
	for {
		var v auction.View
		if err := conn.ReadJSON(&v); err != nil {
			t.Fatalf("reading view: %v", err)
		}
		if len(v.Players) == 1 {
			if v.Players[0].ID != p.ID || v.Revision <= first.Revision {
				t.Errorf("view = %+v", v)
			}
			return
		}
	}
}

func TestHealthRoutes(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if code := ts.do(t, http.MethodGet, path, "", nil, nil); code != http.StatusOK {
			t.Errorf("%s: status %d", path, code)
		}
	}
}
