package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/vecarvs/internal/api"
)

func credit(t *testing.T, srv *Server, identity, amount string) {
	t.Helper()
	w := do(t, srv, "POST", "/api/accounts/"+identity+"/credit", `{"amount":"`+amount+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("credit %s: status = %d; body: %s", identity, w.Code, w.Body.String())
	}
}

func TestLockLifecycle(t *testing.T) {
	srv, clock := testServer(t)
	credit(t, srv, "alice", "1000")

	clock.ts.Store(1015)
	w := do(t, srv, "POST", "/api/locks", `{"identity":"alice","amount":"100","duration":20}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("lock: status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var pos api.Position
	decode(t, w, &pos)
	if pos.ID != 1 || pos.Begin != 1010 || pos.End != 1030 || pos.Amount != "100" {
		t.Errorf("position = %+v", pos)
	}

	w = do(t, srv, "GET", "/api/locks/1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get lock: status = %d", w.Code)
	}

	var bal api.Balance
	decode(t, do(t, srv, "GET", "/api/identities/alice/balance?at=1025", ""), &bal)
	if bal.Balance != "35" || bal.At != 1025 {
		t.Errorf("balance = %+v, want 35 at 1025", bal)
	}
	decode(t, do(t, srv, "GET", "/api/identities/alice/balance", ""), &bal)
	if bal.Balance != "145" || bal.At != 1015 {
		t.Errorf("balance now = %+v, want 145 at 1015", bal)
	}

	var supply api.Supply
	decode(t, do(t, srv, "GET", "/api/supply?at=1010", ""), &supply)
	if supply.Supply != "200" {
		t.Errorf("supply = %s, want 200", supply.Supply)
	}

	var locks []api.Position
	decode(t, do(t, srv, "GET", "/api/identities/alice/locks", ""), &locks)
	if len(locks) != 1 {
		t.Errorf("locks = %d, want 1", len(locks))
	}

	w = do(t, srv, "POST", "/api/locks/1/release", `{"identity":"alice"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("early release: status = %d, want %d", w.Code, http.StatusConflict)
	}
	var apiErr api.Error
	decode(t, w, &apiErr)
	if apiErr.Code != "StillLocked" {
		t.Errorf("code = %q, want StillLocked", apiErr.Code)
	}

	clock.ts.Store(1030)
	w = do(t, srv, "POST", "/api/locks/1/release", `{"identity":"bob"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign release: status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = do(t, srv, "POST", "/api/locks/1/release", `{"identity":"alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("release: status = %d; body: %s", w.Code, w.Body.String())
	}

	var acct api.Account
	decode(t, do(t, srv, "GET", "/api/accounts/alice", ""), &acct)
	if acct.Balance != "1000" {
		t.Errorf("account = %s, want 1000", acct.Balance)
	}

	w = do(t, srv, "GET", "/api/locks/1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("released lock: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestLockValidation(t *testing.T) {
	srv, _ := testServer(t)
	credit(t, srv, "alice", "50")

	tests := []struct {
		name string
		body string
		code string
	}{
		{"bad amount", `{"identity":"alice","amount":"ten","duration":20}`, "InvalidAmount"},
		{"zero amount", `{"identity":"alice","amount":"0","duration":20}`, "InvalidAmount"},
		{"partial epoch", `{"identity":"alice","amount":"10","duration":15}`, "InvalidDuration"},
		{"no identity", `{"amount":"10","duration":20}`, "InvalidIdentity"},
		{"too much", `{"identity":"alice","amount":"51","duration":20}`, "InsufficientBalance"},
		{"wrapping duration", `{"identity":"alice","amount":"10","duration":18446744073709551610}`, "InvalidDuration"},
	}
	for _, tt := range tests {
		w := do(t, srv, "POST", "/api/locks", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", tt.name, w.Code, http.StatusBadRequest)
			continue
		}
		var apiErr api.Error
		decode(t, w, &apiErr)
		if apiErr.Code != tt.code {
			t.Errorf("%s: code = %q, want %q", tt.name, apiErr.Code, tt.code)
		}
	}

	w := do(t, srv, "POST", "/api/locks", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid json: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var acct api.Account
	decode(t, do(t, srv, "GET", "/api/accounts/alice", ""), &acct)
	if acct.Balance != "50" {
		t.Errorf("account after rejected locks = %s, want 50", acct.Balance)
	}
}

func TestSupplyFarFuture(t *testing.T) {
	srv, clock := testServer(t)
	credit(t, srv, "alice", "1000")

	clock.ts.Store(1015)
	do(t, srv, "POST", "/api/locks", `{"identity":"alice","amount":"100","duration":20}`)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest("GET", "/api/supply?at=18446744073709551615", nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		done <- w
	}()
	select {
	case w := <-done:
		var supply api.Supply
		decode(t, w, &supply)
		if supply.Supply != "0" {
			t.Errorf("supply = %s, want 0", supply.Supply)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("far-future supply query did not return")
	}

	w := do(t, srv, "GET", "/api/accounts/alice", "")
	if w.Code != http.StatusOK {
		t.Errorf("account: status = %d", w.Code)
	}
}

func TestBadParams(t *testing.T) {
	srv, _ := testServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{"GET", "/api/locks/abc"},
		{"POST", "/api/locks/abc/release"},
		{"GET", "/api/supply?at=yesterday"},
		{"GET", "/api/identities/alice/balance?at=-1"},
		{"GET", "/api/events?limit=0"},
		{"GET", "/api/events?after=x"},
	}
	for _, p := range paths {
		w := do(t, srv, p.method, p.path, "{}")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s %s: status = %d, want %d", p.method, p.path, w.Code, http.StatusBadRequest)
		}
	}
}

func TestCheckpointRoutes(t *testing.T) {
	srv, clock := testServer(t)
	credit(t, srv, "alice", "1000")

	clock.ts.Store(1015)
	do(t, srv, "POST", "/api/locks", `{"identity":"alice","amount":"100","duration":20}`)

	clock.ts.Store(1065)
	var res api.CheckpointResult
	decode(t, do(t, srv, "POST", "/api/checkpoint", ""), &res)
	if res.Appended != 2 {
		t.Errorf("global appended = %d, want 2", res.Appended)
	}

	var points []api.Point
	decode(t, do(t, srv, "GET", "/api/checkpoints", ""), &points)
	if len(points) != 4 {
		t.Fatalf("global points = %d, want 4", len(points))
	}
	if points[1].Bias != "200" || points[1].Slope != "11" {
		t.Errorf("point[1] = %+v, want bias 200 slope 11", points[1])
	}

	decode(t, do(t, srv, "POST", "/api/identities/alice/checkpoint", ""), &res)
	if res.Appended != 2 || res.Identity != "alice" {
		t.Errorf("identity checkpoint = %+v", res)
	}

	decode(t, do(t, srv, "GET", "/api/identities/nobody/checkpoints", ""), &points)
	if len(points) != 0 {
		t.Errorf("unknown identity points = %d, want 0", len(points))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, clock := testServer(t)
	credit(t, srv, "alice", "1000")
	credit(t, srv, "bob", "1000")

	clock.ts.Store(1015)
	do(t, srv, "POST", "/api/locks", `{"identity":"alice","amount":"100","duration":20}`)
	do(t, srv, "POST", "/api/locks", `{"identity":"bob","amount":"100","duration":20}`)
	do(t, srv, "POST", "/api/checkpoint", "")

	var entries []api.EventEntry
	decode(t, do(t, srv, "GET", "/api/events", ""), &entries)
	if len(entries) != 3 {
		t.Fatalf("events = %d, want 3", len(entries))
	}
	if !strings.Contains(string(entries[0].Event), `"kind":"Deposit"`) {
		t.Errorf("first event = %s", entries[0].Event)
	}

	decode(t, do(t, srv, "GET", "/api/events?identity=bob", ""), &entries)
	if len(entries) != 1 {
		t.Errorf("bob events = %d, want 1", len(entries))
	}

	first := entries[0].Seq
	decode(t, do(t, srv, "GET", "/api/events?limit=1&after=0", ""), &entries)
	if len(entries) != 1 || entries[0].Seq >= first {
		t.Errorf("paged events = %+v", entries)
	}
}
