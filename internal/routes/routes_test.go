package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpay/wallet-ledger/internal/config"
	"github.com/dpay/wallet-ledger/internal/ledger"
	"github.com/dpay/wallet-ledger/internal/logging"
	"github.com/dpay/wallet-ledger/internal/response"
	"github.com/dpay/wallet-ledger/internal/routes"
	"github.com/dpay/wallet-ledger/internal/server"
)

func newApp(t *testing.T, cache *redis.Client) *fiber.App {
	t.Helper()
	return newAppWithStore(t, cache, ledger.NewInMemory())
}

func newAppWithStore(t *testing.T, cache *redis.Client, store ledger.Store) *fiber.App {
	t.Helper()
	cfg := config.Config{AppName: "test", AppEnv: "test", StoreBackend: config.BackendMemory, MaxPageLimit: 500}
	logger := logging.Discard()
	app := server.NewApp(cfg, logger)
	err := routes.Setup(app, routes.Deps{
		Cfg:    cfg,
		Cache:  cache,
		Store:  store,
		Logger: logger,
	})
	require.NoError(t, err)
	return app
}

func doForm(t *testing.T, app *fiber.App, path string, form url.Values) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	status, raw := doRaw(t, app, method, path, body)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return status, out
}

func doRaw(t *testing.T, app *fiber.App, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func setup(t *testing.T, app *fiber.App, name string, balance string) string {
	t.Helper()
	status, body := do(t, app, http.MethodPost, "/setup", fmt.Sprintf(`{"name":%q,"balance":%s}`, name, balance))
	require.Equal(t, http.StatusOK, status, body)
	return body["id"].(string)
}

func TestWalletLifecycle(t *testing.T) {
	app := newApp(t, nil)

	status, created := do(t, app, http.MethodPost, "/setup", `{"name":"Alice","balance":100}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alice", created["name"])
	assert.Equal(t, float64(100), created["balance"])
	assert.NotEmpty(t, created["transactionId"])
	assert.NotEmpty(t, created["date"])
	id := created["id"].(string)

	status, body := do(t, app, http.MethodPost, "/transact/"+id, `{"amount":-30,"description":"groceries"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(70), body["balance"])
	assert.NotEmpty(t, body["transactionId"])

	status, body = do(t, app, http.MethodPost, "/transact/"+id, `{"amount":-80}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeInsufficientBalance, body["error"])

	status, body = do(t, app, http.MethodPost, "/transact/"+id, `{"amount":20}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(90), body["balance"])

	status, body = do(t, app, http.MethodGet, "/wallet/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, float64(90), body["balance"])
	assert.Equal(t, "Alice", body["name"])
	assert.Equal(t, created["date"], body["date"])

	status, raw := doRaw(t, app, http.MethodGet, "/transactions?walletId="+id, "")
	require.Equal(t, http.StatusOK, status)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 3)

	assert.Equal(t, "CREDIT", history[0]["type"])
	assert.Equal(t, ledger.OpeningDescription, history[0]["description"])
	assert.Equal(t, float64(100), history[0]["balance"])
	assert.Equal(t, "DEBIT", history[1]["type"])
	assert.Equal(t, float64(30), history[1]["amount"])
	assert.Equal(t, float64(70), history[1]["balance"])
	assert.Equal(t, "groceries", history[1]["description"])
	assert.Equal(t, "CREDIT", history[2]["type"])
	assert.Equal(t, float64(90), history[2]["balance"])
	for _, h := range history {
		assert.Equal(t, id, h["walletId"])
	}

	status, raw = doRaw(t, app, http.MethodGet, "/transactions?walletId="+id+"&skip=1&limit=1", "")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(raw, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "DEBIT", history[0]["type"])
}

func TestDecimalAmountsKeepPrecision(t *testing.T) {
	app := newApp(t, nil)
	id := setup(t, app, "precise", "0.1")

	status, raw := doRaw(t, app, http.MethodPost, "/transact/"+id, `{"amount":0.2}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"balance":0.3`)
}

func TestSetupErrors(t *testing.T) {
	app := newApp(t, nil)
	setup(t, app, "taken", "1")

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"duplicate name", `{"name":"taken","balance":5}`, http.StatusConflict, response.CodeConflict},
		{"negative balance", `{"name":"neg","balance":-1}`, http.StatusBadRequest, response.CodeValidation},
		{"missing name", `{"balance":1}`, http.StatusBadRequest, response.CodeValidation},
		{"malformed json", `name=x`, http.StatusBadRequest, response.CodeValidation},
		{"empty body", "", http.StatusBadRequest, response.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, app, http.MethodPost, "/setup", tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestTransactErrors(t *testing.T) {
	app := newApp(t, nil)
	id := setup(t, app, "errors", "10")

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"zero amount", "/transact/" + id, `{"amount":0}`, http.StatusBadRequest, response.CodeValidation},
		{"missing amount", "/transact/" + id, `{"description":"x"}`, http.StatusBadRequest, response.CodeValidation},
		{"string amount", "/transact/" + id, `{"amount":"ten"}`, http.StatusBadRequest, response.CodeValidation},
		{"malformed id", "/transact/not-a-uuid", `{"amount":1}`, http.StatusBadRequest, response.CodeValidation},
		{"unknown wallet", "/transact/" + uuid.NewString(), `{"amount":1}`, http.StatusNotFound, response.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, app, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestLookupNotFoundIsBadRequest(t *testing.T) {
	app := newApp(t, nil)
	unknown := uuid.NewString()

	status, body := do(t, app, http.MethodGet, "/wallet/"+unknown, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeNotFound, body["error"])

	status, body = do(t, app, http.MethodGet, "/transactions?walletId="+unknown, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeNotFound, body["error"])

	status, body = do(t, app, http.MethodGet, "/wallet/bad-id", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeValidation, body["error"])
}

func TestHistoryQueryValidation(t *testing.T) {
	app := newApp(t, nil)
	id := setup(t, app, "paging", "1")

	for _, q := range []string{"&skip=-1", "&limit=-5", "&skip=abc", "&limit=1.5"} {
		status, body := do(t, app, http.MethodGet, "/transactions?walletId="+id+q, "")
		assert.Equal(t, http.StatusBadRequest, status, q)
		assert.Equal(t, response.CodeValidation, body["error"], q)
	}

	status, raw := doRaw(t, app, http.MethodGet, "/transactions?walletId="+id+"&skip=10", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestConcurrentTransactOverHTTP(t *testing.T) {
	app := newApp(t, nil)
	id := setup(t, app, "concurrent", "100")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, postStatus(app, "/transact/"+id, `{"amount":-5}`))
		}()
	}
	wg.Wait()

	status, body := do(t, app, http.MethodGet, "/wallet/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["balance"])
}

func TestHealthAndPing(t *testing.T) {
	app := newApp(t, nil)

	status, body := do(t, app, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, config.BackendMemory, body["backend"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trace-1", resp.Header.Get("X-Request-ID"))
}

func TestIdempotentSetupWithRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	app := newApp(t, cache)

	send := func() (int, []byte) {
		req := httptest.NewRequest(http.MethodPost, "/setup", bytes.NewBufferString(`{"name":"idem","balance":3}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		req.Header.Set("Idempotency-Key", "setup-1")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, raw
	}

	status, first := send()
	require.Equal(t, http.StatusOK, status)
	status, second := send()
	require.Equal(t, http.StatusOK, status, string(second))
	assert.Equal(t, string(first), string(second))
}

func TestSetupRequiresStoreOutsideDev(t *testing.T) {
	cfg := config.Config{AppEnv: "production"}
	app := server.NewApp(cfg, logging.Discard())
	err := routes.Setup(app, routes.Deps{Cfg: cfg, Logger: logging.Discard()})
	assert.Error(t, err)
}

func TestFormEncodedBodies(t *testing.T) {
	app := newApp(t, nil)

	status, created := doForm(t, app, "/setup", url.Values{"name": {"x"}, "balance": {"20"}})
	require.Equal(t, http.StatusOK, status, created)
	assert.Equal(t, "x", created["name"])
	assert.Equal(t, float64(20), created["balance"])
	id := created["id"].(string)

	status, body := doForm(t, app, "/transact/"+id, url.Values{"amount": {"-7.5"}, "description": {"coffee"}})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, 12.5, body["balance"])

	status, body = doForm(t, app, "/transact/"+id, url.Values{"amount": {"lots"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, response.CodeValidation, body["error"])

	status, body = doForm(t, app, "/setup", url.Values{"name": {"no-balance"}})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, float64(0), body["balance"])
}

// holdingStore parks the unit of work that reads the held wallet until
// release is closed.
type holdingStore struct {
	ledger.Store
	held    atomic.Value
	entered chan struct{}
	release chan struct{}
}

func (s *holdingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, &holdingTx{Tx: tx, store: s})
	})
}

type holdingTx struct {
	ledger.Tx
	store *holdingStore
}

func (t *holdingTx) GetWalletForUpdate(ctx context.Context, id string) (ledger.Wallet, error) {
	if held, _ := t.store.held.Load().(string); held == id {
		t.store.held.Store("")
		close(t.store.entered)
		<-t.store.release
	}
	return t.Tx.GetWalletForUpdate(ctx, id)
}

// postStatus is safe to call from goroutines other than the test's own.
func postStatus(app *fiber.App, path, body string) int {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	if err != nil {
		return 0
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestTransactOtherWalletWhileOneIsHeld(t *testing.T) {
	store := &holdingStore{
		Store:   ledger.NewInMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	store.held.Store("")
	app := newAppWithStore(t, nil, store)

	walletA := setup(t, app, "held-a", "100")
	walletB := setup(t, app, "free-b", "100")

	status, _ := doRaw(t, app, http.MethodPost, "/transact/"+walletA, `{"amount":-1}`)
	require.Equal(t, http.StatusOK, status)

	store.held.Store(walletA)
	heldDone := make(chan int, 1)
	go func() {
		heldDone <- postStatus(app, "/transact/"+walletA, `{"amount":-1}`)
	}()
	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("wallet A transact never reached its unit of work")
	}

	freeDone := make(chan int, 1)
	go func() {
		freeDone <- postStatus(app, "/transact/"+walletB, `{"amount":-1}`)
	}()
	select {
	case status := <-freeDone:
		assert.Equal(t, http.StatusOK, status)
	case <-time.After(2 * time.Second):
		close(store.release)
		t.Fatal("wallet B transact waited behind wallet A")
	}

	close(store.release)
	assert.Equal(t, http.StatusOK, <-heldDone)

	status, body := do(t, app, http.MethodGet, "/wallet/"+walletA, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(98), body["balance"])
	status, body = do(t, app, http.MethodGet, "/wallet/"+walletB, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(99), body["balance"])
}
