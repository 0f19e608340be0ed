package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melodia/internal/apperr"
	"melodia/internal/generation"
	"melodia/internal/logging"
	"melodia/internal/model"
	"melodia/internal/payload"
	"melodia/internal/payment"
)

const testSecret = "test-jwt-secret"

type fakePayments struct {
	lastUser   string
	createErr  error
	checkErr   error
	webhookErr error
}

func (f *fakePayments) CreateTransaction(_ context.Context, userID string, amount int64, _ string) (*payment.Created, error) {
	f.lastUser = userID
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &payment.Created{OrderID: "MELODIA-" + userID + "-1", Token: "snap-token"}, nil
}

func (f *fakePayments) CheckStatus(_ context.Context, userID, orderID string) (*payment.Outcome, *payment.TransactionStatus, error) {
	f.lastUser = userID
	if f.checkErr != nil {
		return nil, nil, f.checkErr
	}
	rec := &model.PaymentRecord{OrderID: orderID, UserID: userID, Status: model.PaymentCompleted}
	return &payment.Outcome{Record: rec, CreditsGranted: 5000}, &payment.TransactionStatus{OrderID: orderID, TransactionStatus: "settlement"}, nil
}

func (f *fakePayments) HandleNotification(_ context.Context, n payload.Notification) (*payment.Outcome, error) {
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return &payment.Outcome{Record: &model.PaymentRecord{OrderID: n.OrderID, Status: model.PaymentCompleted}}, nil
}

type fakeGeneration struct {
	generateErr error
	statusErr   error
	active      map[string]generation.JobHandle
}

func (f *fakeGeneration) Generate(_ context.Context, userID string, req generation.Request) (generation.JobHandle, error) {
	if f.generateErr != nil {
		return "", f.generateErr
	}
	if err := req.Normalize().Validate(); err != nil {
		return "", err
	}
	f.active[userID] = "job-1"
	return "job-1", nil
}

func (f *fakeGeneration) Extend(_ context.Context, userID string, _ generation.ExtendRequest) (generation.JobHandle, error) {
	f.active[userID] = "job-ext"
	return "job-ext", nil
}

func (f *fakeGeneration) Status(_ context.Context, handle generation.JobHandle) (*generation.JobStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &generation.JobStatus{Status: model.JobProcessing, Progress: "40%"}, nil
}

func (f *fakeGeneration) Cancel(userID string) bool {
	_, ok := f.active[userID]
	delete(f.active, userID)
	return ok
}

func (f *fakeGeneration) Active(userID string) (generation.JobHandle, bool) {
	h, ok := f.active[userID]
	return h, ok
}

type fakeTools struct{}

func (fakeTools) GenerateLyrics(_ context.Context, prompt string) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true,"lyrics":"la la"}`), nil
}

func (fakeTools) ConvertWav(_ context.Context, audioID string) (json.RawMessage, error) {
	return nil, apperr.New(apperr.KindSubmission, "failed to convert to wav: status 500")
}

type fakeAccounts struct {
	err error
}

func (f fakeAccounts) Get(_ context.Context, userID string) (*model.UserAccount, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.UserAccount{ID: userID, Credits: 5000}, nil
}

type fakeLists struct{}

func (fakeLists) ListByUser(context.Context, string, int) ([]*model.TrackRecord, error) {
	return nil, nil
}

type fakePaymentHistory struct{}

func (fakePaymentHistory) ListByUser(_ context.Context, userID string, limit int) ([]*model.PaymentRecord, error) {
	return []*model.PaymentRecord{{OrderID: "MELODIA-" + userID + "-1", UserID: userID, Amount: 50000}}, nil
}

type routerFixture struct {
	payments   *fakePayments
	generation *fakeGeneration
	accounts   *fakeAccounts
	router     *gin.Engine
}

func newRouterFixture() *routerFixture {
	gin.SetMode(gin.TestMode)

	f := &routerFixture{
		payments:   &fakePayments{},
		generation: &fakeGeneration{active: map[string]generation.JobHandle{}},
		accounts:   &fakeAccounts{},
	}
	f.router = NewRouter(Handlers{
		Payments:   f.payments,
		History:    fakePaymentHistory{},
		Generation: f.generation,
		Tools:      fakeTools{},
		Accounts:   f.accounts,
		Tracks:     fakeLists{},
		JWTSecret:  testSecret,
		Logger:     logging.Discard(),
	})
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var resp Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := IssueToken(userID, testSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func TestLiveness(t *testing.T) {
	f := newRouterFixture()

	w, _ := f.do(t, http.MethodGet, "/liveness", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newRouterFixture()
	f.do(t, http.MethodGet, "/liveness", nil, "")

	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestAuth(t *testing.T) {
	f := newRouterFixture()

	expired, err := IssueToken("user-1", testSecret, -time.Minute)
	require.NoError(t, err)
	foreign, err := IssueToken("user-1", "another-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "Missing", token: ""},
		{name: "Expired", token: expired},
		{name: "WrongSecret", token: foreign},
		{name: "Garbage", token: "not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := f.do(t, http.MethodGet, "/api/me", nil, tt.token)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, string(apperr.KindUnauthorized), resp.Kind)
		})
	}
}

func TestMe(t *testing.T) {
	f := newRouterFixture()
	f.generation.active["user-1"] = "job-7"

	w, resp := f.do(t, http.MethodGet, "/api/me", nil, tokenFor(t, "user-1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "user-1", data["id"])
	assert.EqualValues(t, 5000, data["credits"])
	assert.Equal(t, "job-7", data["activeJob"])
}

func TestMe_StoreErrorIsInternal(t *testing.T) {
	f := newRouterFixture()
	f.accounts.err = errors.New("connection refused")

	w, resp := f.do(t, http.MethodGet, "/api/me", nil, tokenFor(t, "user-1"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", resp.Error)
	assert.Equal(t, string(apperr.KindInternal), resp.Kind)
}

func TestCreateTransaction(t *testing.T) {
	f := newRouterFixture()

	w, resp := f.do(t, http.MethodPost, "/api/payment/create-transaction",
		map[string]any{"amount": 50000, "packageName": "Starter"}, tokenFor(t, "user-1"))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "user-1", f.payments.lastUser)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "MELODIA-user-1-1", data["orderId"])
	assert.Equal(t, "snap-token", data["snapToken"])
}

func TestCreateTransaction_Errors(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		err            error
		expectedStatus int
		expectedKind   apperr.Kind
	}{
		{
			name:           "MissingPackage",
			body:           map[string]any{"amount": 50000},
			expectedStatus: http.StatusBadRequest,
			expectedKind:   apperr.KindValidation,
		},
		{
			name:           "MalformedBody",
			body:           "{not json",
			expectedStatus: http.StatusBadRequest,
			expectedKind:   apperr.KindValidation,
		},
		{
			name:           "BelowMinimum",
			body:           map[string]any{"amount": 5000, "packageName": "Tiny"},
			err:            apperr.New(apperr.KindInvalidAmount, "amount must be at least 10000"),
			expectedStatus: http.StatusBadRequest,
			expectedKind:   apperr.KindInvalidAmount,
		},
		{
			name:           "NotConfigured",
			body:           map[string]any{"amount": 50000, "packageName": "Starter"},
			err:            apperr.New(apperr.KindConfiguration, "payment provider is not configured"),
			expectedStatus: http.StatusInternalServerError,
			expectedKind:   apperr.KindConfiguration,
		},
		{
			name:           "ProviderDown",
			body:           map[string]any{"amount": 50000, "packageName": "Starter"},
			err:            apperr.Wrap(apperr.KindPaymentCreation, errors.New("timeout"), "failed to create payment"),
			expectedStatus: http.StatusBadGateway,
			expectedKind:   apperr.KindPaymentCreation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture()
			f.payments.createErr = tt.err

			w, resp := f.do(t, http.MethodPost, "/api/payment/create-transaction", tt.body, tokenFor(t, "user-1"))

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, string(tt.expectedKind), resp.Kind)
		})
	}
}

func TestCheckStatus(t *testing.T) {
	f := newRouterFixture()

	w, resp := f.do(t, http.MethodPost, "/api/payment/check-status",
		map[string]string{"orderId": "MELODIA-user-1-1"}, tokenFor(t, "user-1"))

	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "settlement", data["transactionStatus"])
	assert.EqualValues(t, 5000, data["creditsGranted"])
}

func TestCheckStatus_NotFound(t *testing.T) {
	f := newRouterFixture()
	f.payments.checkErr = apperr.New(apperr.KindNotFound, "payment MELODIA-x not found")

	w, resp := f.do(t, http.MethodPost, "/api/payment/check-status",
		map[string]string{"orderId": "MELODIA-x"}, tokenFor(t, "user-1"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.KindNotFound), resp.Kind)
}

func TestWebhook(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		err            error
		expectedStatus int
	}{
		{
			name:           "Accepted",
			body:           map[string]string{"order_id": "MELODIA-user-1-1", "transaction_status": "settlement"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "BadSignature",
			body:           map[string]string{"order_id": "MELODIA-user-1-1", "signature_key": "forged"},
			err:            apperr.New(apperr.KindSignature, "invalid signature"),
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "UnknownOrder",
			body:           map[string]string{"order_id": "MELODIA-ghost-1"},
			err:            apperr.New(apperr.KindNotFound, "payment MELODIA-ghost-1 not found"),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "MissingOrderID",
			body:           map[string]string{"transaction_status": "settlement"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture()
			f.payments.webhookErr = tt.err

			w, _ := f.do(t, http.MethodPost, "/api/payment/webhook", tt.body, "")

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestListPayments(t *testing.T) {
	f := newRouterFixture()

	w, resp := f.do(t, http.MethodGet, "/api/payments?limit=10", nil, tokenFor(t, "user-1"))

	require.Equal(t, http.StatusOK, w.Code)
	items := resp.Data.([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "MELODIA-user-1-1", items[0].(map[string]any)["orderId"])
}

func TestGenerate(t *testing.T) {
	f := newRouterFixture()

	w, resp := f.do(t, http.MethodPost, "/api/suno/generate",
		map[string]any{"prompt": "a calm song about rain"}, tokenFor(t, "user-1"))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "job-1", resp.Data.(map[string]any)["jobId"])
}

func TestGenerate_ValidationListsEveryField(t *testing.T) {
	f := newRouterFixture()

	w, resp := f.do(t, http.MethodPost, "/api/suno/generate",
		map[string]any{"customMode": true, "model": "V9"}, tokenFor(t, "user-1"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.KindValidation), resp.Kind)
	require.Len(t, resp.Details, 2)
	assert.Contains(t, resp.Details[0], "prompt")
	assert.Contains(t, resp.Details[1], "model")
}

func TestGenerate_SubmissionError(t *testing.T) {
	f := newRouterFixture()
	f.generation.generateErr = apperr.New(apperr.KindSubmission, "provider rejected request: quota exceeded")

	w, resp := f.do(t, http.MethodPost, "/api/suno/generate",
		map[string]any{"prompt": "song"}, tokenFor(t, "user-1"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "provider rejected request: quota exceeded", resp.Error)
}

func TestTaskStatus(t *testing.T) {
	f := newRouterFixture()

	w, resp := f.do(t, http.MethodGet, "/api/suno/task/job-1", nil, tokenFor(t, "user-1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processing", resp.Data.(map[string]any)["status"])

	f.generation.statusErr = apperr.New(apperr.KindPoll, "failed to get task status: status 500")
	w, resp = f.do(t, http.MethodGet, "/api/suno/task/job-1", nil, tokenFor(t, "user-1"))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(apperr.KindPoll), resp.Kind)
}

func TestCancel(t *testing.T) {
	f := newRouterFixture()
	token := tokenFor(t, "user-1")

	f.do(t, http.MethodPost, "/api/suno/generate", map[string]any{"prompt": "song"}, token)

	_, resp := f.do(t, http.MethodPost, "/api/suno/cancel", nil, token)
	assert.Equal(t, true, resp.Data.(map[string]any)["cancelled"])

	_, resp = f.do(t, http.MethodPost, "/api/suno/cancel", nil, token)
	assert.Equal(t, false, resp.Data.(map[string]any)["cancelled"])
}

func TestPassthroughs(t *testing.T) {
	f := newRouterFixture()
	token := tokenFor(t, "user-1")

	w, resp := f.do(t, http.MethodPost, "/api/suno/generate-lyrics", map[string]string{"prompt": "love"}, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "la la", resp.Data.(map[string]any)["lyrics"])

	w, resp = f.do(t, http.MethodPost, "/api/suno/wav", map[string]string{"audio_id": "clip-1"}, token)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(apperr.KindSubmission), resp.Kind)
}

func TestListTracks_EmptyIsArray(t *testing.T) {
	f := newRouterFixture()

	w, _ := f.do(t, http.MethodGet, "/api/tracks", nil, tokenFor(t, "user-1"))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"data":[]}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := map[apperr.Kind]int{
		apperr.KindValidation:      http.StatusBadRequest,
		apperr.KindInvalidAmount:   http.StatusBadRequest,
		apperr.KindUnauthorized:    http.StatusUnauthorized,
		apperr.KindSignature:       http.StatusForbidden,
		apperr.KindNotFound:        http.StatusNotFound,
		apperr.KindConfiguration:   http.StatusInternalServerError,
		apperr.KindSubmission:      http.StatusBadGateway,
		apperr.KindPoll:            http.StatusBadGateway,
		apperr.KindPaymentCreation: http.StatusBadGateway,
		apperr.KindProvider:        http.StatusBadGateway,
		apperr.KindTimeout:         http.StatusGatewayTimeout,
		apperr.KindInternal:        http.StatusInternalServerError,
	}

	for kind, expected := range tests {
		assert.Equal(t, expected, statusFor(kind), kind)
	}
}
