package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/memory/v2"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/config"
	"storefront/internal/credentials"
	"storefront/internal/http/handlers"
	"storefront/internal/metrics"
	"storefront/internal/repos"
)

const demoPassword = "Passw0rd!"

var (
	keyOnce  sync.Once
	keyCodec *credentials.Codec
	keyErr   error
)

// sharedCodec generates one key pair for the whole package run.
func sharedCodec(t *testing.T) *credentials.Codec {
	t.Helper()
	keyOnce.Do(func() {
		dir, err := os.MkdirTemp("", "storefront-keys")
		if err != nil {
			keyErr = err
			return
		}
		keyCodec = credentials.NewCodec(filepath.Join(dir, "private_key.pem"))
		keyErr = keyCodec.Init()
	})
	require.NoError(t, keyErr)
	return keyCodec
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.DBDSN = ":memory:"
	cfg.JWTSecret = "test-secret"
	cfg.BcryptCost = bcrypt.MinCost
	cfg.GlobalRatePerMin = 0
	return cfg
}

type testEnv struct {
	app  *fiber.App
	db   *sqlx.DB
	deps *handlers.Deps
	pub  string
}

// newTestEnv builds the full app over a seeded in-memory database.
// Products 1..4 and users alice(1), bob(2), admin(3, staff) exist.
func newTestEnv(t *testing.T, tweak ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, f := range tweak {
		f(&cfg)
	}
	db, err := repos.OpenDB(repos.DriverSQLite, cfg.DBDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, repos.SeedDemo(context.Background(), db, cfg.BcryptCost))

	codec := sharedCodec(t)
	pub, err := codec.PublicKeyPEM()
	require.NoError(t, err)

	store := memory.New(memory.Config{GCInterval: time.Minute})
	t.Cleanup(func() { _ = store.Close() })

	deps := handlers.NewDeps(db, cfg, codec, store, metrics.New())
	return &testEnv{app: handlers.NewApp(deps), db: db, deps: deps, pub: pub}
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func jsonReq(method, path string, body any, bearer string) *http.Request {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func (e *testEnv) encrypt(t *testing.T, password string) string {
	t.Helper()
	enc, err := credentials.EncryptPassword(e.pub, password)
	require.NoError(t, err)
	return enc
}

func (e *testEnv) loginResp(t *testing.T, email, password string) (*http.Response, []byte) {
	t.Helper()
	return e.do(t, jsonReq(http.MethodPost, "/api/users/token", map[string]string{
		"email":              email,
		"encrypted_password": e.encrypt(t, password),
	}, ""))
}

// login returns a valid access token for email.
func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	resp, body := e.loginResp(t, email, demoPassword)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out struct {
		Access string `json:"access"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Access)
	return out.Access
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func detailOf(t *testing.T, body []byte) string {
	t.Helper()
	var out struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out.Detail
}

type logEntry struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	ReqID  string         `json:"req_id"`
	UserID string         `json:"user_id"`
	Err    string         `json:"err"`
	Fields map[string]any `json:"fields"`
}

// captureLogs swaps the standard logger output while fn runs.
func captureLogs(t *testing.T, fn func()) ([]logEntry, string) {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedWriter{w: &buf, mu: &mu})
	log.SetFlags(0) // remove timestamps to make JSON parseable
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	raw := buf.String()
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, raw
}

func findLog(entries []logEntry, action string) (logEntry, bool) {
	for _, e := range entries {
		if e.Action == action {
			return e, true
		}
	}
	return logEntry{}, false
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
