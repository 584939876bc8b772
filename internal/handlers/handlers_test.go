package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"licensemarket/internal/accounts"
	"licensemarket/internal/csrf"
	"licensemarket/internal/fulfillment"
	"licensemarket/internal/license"
	"licensemarket/internal/mail"
	"licensemarket/internal/middleware"
	"licensemarket/internal/models"
	"licensemarket/internal/orders"
	"licensemarket/internal/payments"
	"licensemarket/internal/payments/paymentstest"
	"licensemarket/internal/storage"
	ws "licensemarket/internal/websocket"
)

const password = "correct horse"

// copyConverter stands in for pandoc.
type copyConverter struct{}

func (copyConverter) Convert(_ context.Context, source string) (string, error) {
	data, err := os.ReadFile(source)
	if err != nil {
		return "", err
	}
	target := strings.TrimSuffix(source, filepath.Ext(source)) + ".pdf"
	return target, os.WriteFile(target, data, 0o644)
}

type env struct {
	router    *gin.Engine
	records   *storage.Records
	processor *paymentstest.Processor
	mailbox   *mail.Recorder
	signer    *license.Signer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	records, err := storage.Open(t.TempDir(), storage.NewLocks())
	require.NoError(t, err)
	e := &env{
		records:   records,
		processor: paymentstest.New("whsec_test"),
		mailbox:   &mail.Recorder{},
	}
	notifier := mail.NewNotifier(e.mailbox, "https://market.example", "Market", "")

	accountSvc := accounts.NewService(records, e.processor, notifier, logger, 5)
	accountSvc.BcryptCost = bcrypt.MinCost
	orderSvc := orders.NewService(records, e.processor, notifier, logger)

	public, private, err := license.GenerateKeys()
	require.NoError(t, err)
	e.signer, err = license.NewSigner(public, private)
	require.NoError(t, err)
	renderer, err := license.NewRenderer("")
	require.NoError(t, err)

	hub := ws.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	fulfillmentSvc := &fulfillment.Service{
		Records:   records,
		Processor: e.processor,
		Renderer:  renderer,
		Converter: copyConverter{},
		Signer:    e.signer,
		Notifier:  notifier,
		Alerts:    hub,
		Agent:     license.Agent{Name: "Market LLC", Location: "US-CA", Website: "https://market.example"},
		Logger:    logger,
		Now:       time.Now,
	}

	key, err := csrf.RandomKey()
	require.NoError(t, err)
	sealer, err := csrf.NewSealer(key)
	require.NoError(t, err)
	tokens := middleware.NewSessionTokens("jwt-secret")

	server := &Server{
		Auth:          NewAuthHandler(accountSvc, tokens, sealer, false),
		Account:       NewAccountHandler(accountSvc, orderSvc, "/account"),
		Payments:      NewPaymentHandler(orderSvc, fulfillmentSvc, e.signer),
		WebSocket:     NewWebSocketHandler(hub, []string{"*"}),
		Tokens:        tokens,
		Authenticator: accountSvc,
		Sealer:        sealer,
		Logger:        logger,
		Origins:       []string{"*"},
	}
	e.router = server.Router()
	return e
}

type request struct {
	method string
	path   string
	body   any
	bearer string
	// csrf fetches a token for path before sending.
	csrf bool
}

func (e *env) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}
	if r.csrf {
		var issued struct{ Token, Nonce string }
		w := e.do(t, request{method: http.MethodGet, path: "/api/csrf?action=" + url.QueryEscape(strings.Split(r.path, "?")[0]), bearer: r.bearer})
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
		req.Header.Set(middleware.CSRFTokenHeader, issued.Token)
		req.Header.Set(middleware.CSRFNonceHeader, issued.Nonce)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *env) onlyToken(t *testing.T) string {
	t.Helper()
	ids, err := e.records.Tokens.List()
	require.NoError(t, err)
	require.Len(t, ids, 1)
	return ids[0]
}

// seller signs up, confirms and logs in handle, returning a bearer token.
func (e *env) seller(t *testing.T, handle string) string {
	t.Helper()
	w := e.do(t, request{method: http.MethodPost, path: "/api/auth/signup", body: gin.H{
		"handle": handle, "email": handle + "@example.com", "password": password, "repeat": password,
		"name": "Ana Developer", "location": "US-NY",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = e.do(t, request{method: http.MethodGet, path: "/api/auth/confirm?token=" + e.onlyToken(t)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, request{method: http.MethodPost, path: "/api/auth/login", body: gin.H{"handle": handle, "password": password}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	token, _ := decode(t, w)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (e *env) connect(t *testing.T, bearer, stripeUserID string) {
	t.Helper()
	w := e.do(t, request{method: http.MethodGet, path: "/api/account/connect", bearer: bearer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	authorize, err := url.Parse(decode(t, w)["url"].(string))
	require.NoError(t, err)
	state := authorize.Query().Get("state")
	require.NotEmpty(t, state)

	e.processor.On("ExchangeCode", mock.Anything, "ac_"+stripeUserID).
		Return(&payments.Connection{StripeUserID: stripeUserID, Scope: "read_write"}, nil).Once()
	w = e.do(t, request{
		method: http.MethodGet,
		path:   "/api/connected?" + url.Values{"scope": {"read_write"}, "code": {"ac_" + stripeUserID}, "state": {state}}.Encode(),
		bearer: bearer,
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, "/account", w.Header().Get("Location"))
}

func (e *env) webhook(t *testing.T, event map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, header := e.processor.Sign(event)
	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) snapshot(t *testing.T) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(e.records.Store.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		files[path] = string(data)
		return err
	})
	require.NoError(t, err)
	return files
}

func TestEndToEndPurchase(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ana := e.seller(t, "ana")
	e.connect(t, ana, "acct_ana")

	w := e.do(t, request{method: http.MethodPost, path: "/api/projects", bearer: ana, csrf: true, body: gin.H{
		"project": "widget", "url": "https://example.com/widget", "price": 100, "category": "library",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	e.processor.On("CreatePaymentIntent", mock.Anything, mock.MatchedBy(func(req payments.PaymentIntentRequest) bool {
		return req.AmountMinor == 10000 && req.FeeMinor == 500 && req.Payee == "acct_ana" && req.OrderID != ""
	})).Return("pi_1", nil).Once()

	w = e.do(t, request{method: http.MethodPost, path: "/api/buy", body: gin.H{
		"handle": "ana", "project": "widget", "name": "Bea Buyer", "email": "bea@example.com",
		"location": "US-CA", "token": "tok_visa",
	}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	orderID, _ := decode(t, w)["orderID"].(string)
	require.NotEmpty(t, orderID)

	event := paymentstest.PaymentSucceeded("evt_1", "pi_1", orderID)
	w = e.webhook(t, event)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "fulfilled", decode(t, w)["outcome"])

	w = e.webhook(t, event)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "duplicate", decode(t, w)["outcome"])

	order, err := e.records.Orders.Read(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, order.IsFulfilled())
	assert.Equal(t, "pi_1", order.PaymentIntentID)

	project, err := e.records.Projects.Read(ctx, "ana/widget")
	require.NoError(t, err)
	require.Len(t, project.Customers, 1)
	assert.Equal(t, orderID, project.Customers[0].OrderID)

	index, err := e.records.Emails.Read(ctx, "bea@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{orderID}, index.OrderIDs)

	var signatures []models.Signature
	for entry, err := range e.records.Ledger.ReadAll(ctx) {
		require.NoError(t, err)
		signatures = append(signatures, entry)
	}
	require.Len(t, signatures, 1)
	assert.Equal(t, orderID, signatures[0].OrderID)

	pdf, err := os.ReadFile(e.records.LicensePath(orderID, ".pdf"))
	require.NoError(t, err)
	w = e.do(t, request{method: http.MethodGet, path: "/public-key"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, license.Verify(w.Body.String(), pdf, signatures[0].Signature))

	w = e.do(t, request{method: http.MethodGet, path: "/api/projects/ana/widget"})
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.Equal(t, []any{"Bea Buyer"}, page["customers"])
	assert.Equal(t, true, page["forSale"])

	e.processor.AssertExpectations(t)
}

func TestWebhookRejectsTamperedSignature(t *testing.T) {
	e := newEnv(t)
	before := e.snapshot(t)

	payload, header := e.processor.Sign(paymentstest.PaymentSucceeded("evt_1", "pi_1", "order-1"))
	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", strings.Replace(header, "v1=", "v1=0", 1))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, before, e.snapshot(t))
}

func TestWebhookStatusCodes(t *testing.T) {
	e := newEnv(t)

	w := e.webhook(t, paymentstest.PaymentSucceeded("evt_1", "pi_1", "no-such-order"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = e.webhook(t, paymentstest.PaymentSucceeded("evt_2", "pi_2", ""))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = e.webhook(t, paymentstest.PaymentFailed("evt_3", "pi_3", "order-3"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.webhook(t, map[string]any{"id": "evt_4", "object": "event", "type": "charge.refunded",
		"data": map[string]any{"object": map[string]any{"id": "ch_1"}}})
	assert.Equal(t, http.StatusOK, w.Code)

	big := bytes.Repeat([]byte("x"), MaxWebhookBody+1)
	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook", bytes.NewReader(big))
	w = httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestBuyErrors(t *testing.T) {
	e := newEnv(t)
	ana := e.seller(t, "ana")

	buy := gin.H{"handle": "ana", "project": "widget", "name": "Bea Buyer", "email": "bea@example.com", "location": "US-CA", "token": "tok_visa"}
	w := e.do(t, request{method: http.MethodPost, path: "/api/buy", body: buy})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "handle", decode(t, w)["field"])

	e.connect(t, ana, "acct_ana")
	w = e.do(t, request{method: http.MethodPost, path: "/api/projects", bearer: ana, csrf: true, body: gin.H{
		"project": "widget", "url": "https://example.com/widget", "price": 100, "category": "library",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	e.processor.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return("", &payments.Error{Code: "card_declined", Message: "Your card was declined."}).Once()
	w = e.do(t, request{method: http.MethodPost, path: "/api/buy", body: buy})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "token", body["field"])
	assert.Equal(t, "Your card was declined.", body["error"])

	e.processor.On("CreatePaymentIntent", mock.Anything, mock.Anything).
		Return("", &payments.Error{Code: "api_key_expired", Message: "Expired API Key provided."}).Once()
	w = e.do(t, request{method: http.MethodPost, path: "/api/buy", body: buy})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = e.do(t, request{method: http.MethodPost, path: "/api/buy", body: gin.H{"handle": "ana"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginLockoutStatuses(t *testing.T) {
	e := newEnv(t)
	e.seller(t, "ana")

	login := func(pw string) int {
		return e.do(t, request{method: http.MethodPost, path: "/api/auth/login", body: gin.H{"handle": "ana", "password": pw}}).Code
	}
	for range accounts.MaxFailures {
		assert.Equal(t, http.StatusForbidden, login("wrong password"))
	}
	assert.Equal(t, http.StatusUnauthorized, login(password))
	assert.Equal(t, http.StatusUnauthorized, login("anything"), "unknown and locked look alike")
}

func TestProtectedRoutes(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, request{method: http.MethodGet, path: "/api/account"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ana := e.seller(t, "ana")
	w = e.do(t, request{method: http.MethodGet, path: "/api/account", bearer: ana})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ana@example.com", decode(t, w)["email"])
	assert.NotContains(t, w.Body.String(), "passwordHash")

	w = e.do(t, request{method: http.MethodPost, path: "/api/projects", bearer: ana, body: gin.H{
		"project": "widget", "url": "https://example.com/widget", "price": 100, "category": "library",
	}})
	assert.Equal(t, http.StatusForbidden, w.Code, "missing csrf token")

	w = e.do(t, request{method: http.MethodPost, path: "/api/auth/logout", bearer: ana, csrf: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, request{method: http.MethodGet, path: "/api/account", bearer: ana})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDisconnectWaitsForWebhook(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ana := e.seller(t, "ana")
	e.connect(t, ana, "acct_ana")

	e.processor.On("Deauthorize", mock.Anything, "acct_ana").Return(nil).Once()
	w := e.do(t, request{method: http.MethodPost, path: "/api/disconnect", bearer: ana, csrf: true})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	account, err := e.records.Accounts.Read(ctx, "ana")
	require.NoError(t, err)
	assert.True(t, account.Stripe.Connected)

	w = e.webhook(t, paymentstest.Deauthorized("evt_1", "acct_ana"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	account, err = e.records.Accounts.Read(ctx, "ana")
	require.NoError(t, err)
	assert.False(t, account.Stripe.Connected)
	e.processor.AssertExpectations(t)
}
