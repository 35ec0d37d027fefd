package web

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cocalc-hub/internal/config"
	"cocalc-hub/internal/logging"
	"cocalc-hub/internal/metrics"
	"cocalc-hub/internal/storage"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	p := filepath.Join(t.TempDir(), "smc.db")
	conn, err := storage.OpenDB(p)
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	db := storage.Wrap(conn, p, 0, logging.Discard())
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func newTestRouter(t *testing.T, db *storage.DB, opts Options) *Router {
	t.Helper()
	opts.DB = db
	opts.Log = logging.Discard()
	if opts.Cookies.Name == "" {
		opts.Cookies = CookiePolicy{Name: CookieName, Path: "/", Secure: true, TTL: time.Hour}
	}
	r, err := NewRouter(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return r
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestNewCookiePolicy(t *testing.T) {
	cases := []struct {
		name string
		opts config.Options
		ok   bool
	}{
		{"personal without tls", config.Options{Mode: config.ModeSingleUser, Personal: true, Port: 5000}, false},
		{"tls files", config.Options{HTTPSKey: "k.pem", HTTPSCert: "c.pem"}, true},
		{"behind proxy", config.Options{BehindTLSProxy: true}, true},
	}
	for _, tc := range cases {
		p, err := NewCookiePolicy(tc.opts)
		if tc.ok {
			if err != nil || !p.Secure {
				t.Fatalf("%s: policy=%+v err=%v", tc.name, p, err)
			}
			continue
		}
		if !errors.Is(err, ErrInsecureCookies) {
			t.Fatalf("%s: err = %v, want ErrInsecureCookies", tc.name, err)
		}
	}
}

func TestNeedsRedirect(t *testing.T) {
	tls := config.Options{HTTPSKey: "k.pem", HTTPSCert: "c.pem"}
	keyOnly := config.Options{HTTPSKey: "k.pem"}

	if !NeedsRedirect(tls, 443) {
		t.Fatalf("tls on 443 should redirect")
	}
	if NeedsRedirect(tls, 8443) {
		t.Fatalf("tls on 8443 should not redirect")
	}
	if NeedsRedirect(keyOnly, 443) {
		t.Fatalf("key without cert should not redirect")
	}
	if NeedsRedirect(config.Options{}, 443) {
		t.Fatalf("plain http should not redirect")
	}

	rr := do(RedirectHandler(), httptest.NewRequest(http.MethodGet, "http://hub.example.com:80/projects?x=1", nil))
	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Location"); got != "https://hub.example.com/projects?x=1" {
		t.Fatalf("location = %q", got)
	}
}

func TestRouter_AliveAndStats(t *testing.T) {
	db := newTestDB(t)
	r := newTestRouter(t, db, Options{})

	if rr := do(r, httptest.NewRequest(http.MethodGet, "/alive", nil)); rr.Code != http.StatusOK || rr.Body.String() != "alive" {
		t.Fatalf("alive: %d %q", rr.Code, rr.Body.String())
	}
	if rr := do(r, httptest.NewRequest(http.MethodGet, "/stats", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("stats before update = %d, want 404", rr.Code)
	}

	if _, err := storage.UpdateStats(context.Background(), db, time.Now()); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}
	rr := do(r, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"running_projects":0`) {
		t.Fatalf("stats: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouter_SignInFlow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if _, err := storage.CreateAccount(ctx, db, "ann@example.com", "correct-horse"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	r := newTestRouter(t, db, Options{})

	if rr := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("me without session = %d, want 401", rr.Code)
	}

	form := url.Values{"email": {"ann@example.com"}, "password": {"wrong-password"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/sign_in", strings.NewReader(form.Encode()))
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	if rr := do(r, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/sign_in", strings.NewReader(`{"email":"ann@example.com","password":"correct-horse"}`))
	req.Header.Set("content-type", "application/json")
	rr := do(r, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("sign in = %d: %s", rr.Code, rr.Body.String())
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName || !cookies[0].Secure || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(cookies[0])
	rr = do(r, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ann@example.com") {
		t.Fatalf("me = %d %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/sign_out", nil)
	req.AddCookie(cookies[0])
	if rr := do(r, req); rr.Code != http.StatusNoContent {
		t.Fatalf("sign out = %d", rr.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(cookies[0])
	if rr := do(r, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("me after sign out = %d, want 401", rr.Code)
	}
}

func TestRouter_PersonalModeSkipsAuth(t *testing.T) {
	db := newTestDB(t)
	r := newTestRouter(t, db, Options{Personal: true})

	rr := do(r, httptest.NewRequest(http.MethodGet, "/api/v1/me", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "user@localhost") {
		t.Fatalf("me = %d %s", rr.Code, rr.Body.String())
	}
	if id := r.AccountID(httptest.NewRequest(http.MethodGet, "/hub", nil)); id == "" {
		t.Fatalf("AccountID empty in personal mode")
	}
}

func TestRouter_BasePathAndRealtime(t *testing.T) {
	db := newTestDB(t)
	r := newTestRouter(t, db, Options{BasePath: "/app"})

	if rr := do(r, httptest.NewRequest(http.MethodGet, "/app/alive", nil)); rr.Code != http.StatusOK {
		t.Fatalf("/app/alive = %d", rr.Code)
	}
	if rr := do(r, httptest.NewRequest(http.MethodGet, "/alive", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("/alive outside base path = %d, want 404", rr.Code)
	}
	if rr := do(r, httptest.NewRequest(http.MethodGet, "/app/hub", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/app/hub before attach = %d, want 503", rr.Code)
	}

	r.AttachRealtime(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	if rr := do(r, httptest.NewRequest(http.MethodGet, "/app/hub", nil)); rr.Code != http.StatusTeapot {
		t.Fatalf("/app/hub after attach = %d", rr.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	db := newTestDB(t)
	reg := metrics.NewRegistry()
	reg.Counter(metrics.UncaughtExceptionTotal, "").Inc()
	r := newTestRouter(t, db, Options{Metrics: reg})

	rr := do(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "uncaught_exception_total 1") {
		t.Fatalf("metrics = %d %s", rr.Code, rr.Body.String())
	}
}

func TestRecoverer_ReportsPanic(t *testing.T) {
	db := newTestDB(t)
	var got any
	r := newTestRouter(t, db, Options{OnPanic: func(v any, _ []byte) { got = v }})

	h := r.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rr := do(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got != "boom" {
		t.Fatalf("OnPanic got %v", got)
	}
}

func TestAgentResponder(t *testing.T) {
	for _, tc := range []struct {
		healthy bool
		want    string
	}{
		{true, "up\n"},
		{false, "drain\n"},
	} {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		healthy := tc.healthy
		done := make(chan error, 1)
		go func() {
			done <- AgentResponder{Healthy: func(context.Context) bool { return healthy }}.Serve(ln)
		}()

		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(conn).ReadString('\n')
		_ = conn.Close()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line != tc.want {
			t.Fatalf("agent answered %q, want %q", line, tc.want)
		}

		_ = ln.Close()
		if err := <-done; err != nil {
			t.Fatalf("Serve: %v", err)
		}
	}
}

func TestRouter_TouchProject(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour).Truncate(time.Millisecond)
	if err := storage.CreateProject(ctx, db, storage.NewProject{ID: "p1", LastEdited: old}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	anon := newTestRouter(t, db, Options{})
	if rr := do(anon, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/touch", nil)); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous touch = %d, want 401", rr.Code)
	}

	r := newTestRouter(t, db, Options{Personal: true})
	if rr := do(r, httptest.NewRequest(http.MethodPost, "/api/v1/projects/missing/touch", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("touch missing = %d, want 404", rr.Code)
	}
	if rr := do(r, httptest.NewRequest(http.MethodPost, "/api/v1/projects/p1/touch", nil)); rr.Code != http.StatusNoContent {
		t.Fatalf("touch = %d %s", rr.Code, rr.Body.String())
	}

	p, err := storage.GetProject(ctx, db, "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if !p.LastEdited.After(old.Add(47 * time.Hour)) {
		t.Fatalf("last_edited = %v, want about now", p.LastEdited)
	}
}
