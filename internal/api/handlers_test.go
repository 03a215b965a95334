package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subscribe/subscription-service/internal/app"
	"github.com/subscribe/subscription-service/internal/domain"
)

const testOwnerHeader = "X-Test-Owner"

type serviceStub struct {
	SubscriptionService

	sub  *domain.Subscription
	subs []domain.Subscription
	err  error

	calls       []string
	gotOwner    string
	gotID       string
	gotCreate   app.CreateInput
	gotPatch    domain.Patch
	gotPaidDate *time.Time
}

func (s *serviceStub) record(call, ownerID, id string) {
	s.calls = append(s.calls, call)
	s.gotOwner = ownerID
	s.gotID = id
}

func (s *serviceStub) Create(ctx context.Context, ownerID string, in app.CreateInput) (*domain.Subscription, error) {
	s.record("create", ownerID, "")
	s.gotCreate = in
	return s.sub, s.err
}

func (s *serviceStub) Get(ctx context.Context, ownerID, id string) (*domain.Subscription, error) {
	s.record("get", ownerID, id)
	return s.sub, s.err
}

func (s *serviceStub) List(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	s.record("list", ownerID, "")
	return s.subs, s.err
}

func (s *serviceStub) Update(ctx context.Context, ownerID, id string, patch domain.Patch) (*domain.Subscription, error) {
	s.record("update", ownerID, id)
	s.gotPatch = patch
	return s.sub, s.err
}

func (s *serviceStub) Delete(ctx context.Context, ownerID, id string) error {
	s.record("delete", ownerID, id)
	return s.err
}

func (s *serviceStub) MarkAsPaid(ctx context.Context, ownerID, id string, paidDate *time.Time) (*domain.Subscription, error) {
	s.record("paid", ownerID, id)
	s.gotPaidDate = paidDate
	return s.sub, s.err
}

// headerAuth trusts the owner id from a test header.
func headerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(testOwnerHeader)
		if ownerID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authorization required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerIDKey, ownerID)))
	})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(svc SubscriptionService) http.Handler {
	return NewRouter(NewHandler(svc, testLogger()), headerAuth, nil)
}

func doRequest(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set(testOwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func sampleSubscription() *domain.Subscription {
	return &domain.Subscription{
		ID:              "2f1d6a0e-6c3a-4b7e-9d2a-1b8c5e7f9a10",
		OwnerID:         "user_1",
		PlatformName:    "Netflix",
		Price:           domain.Price{Amount: decimal.RequireFromString("15.49"), Currency: domain.CurrencyUSD},
		BillingCycle:    domain.CycleMonthly,
		StartDate:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		NextBillingDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Status:          domain.StatusActive,
		Category:        "Streaming",
	}
}

func TestHealth(t *testing.T) {
	rec := doRequest(t, newTestRouter(&serviceStub{}), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestSubscriptionsRequireAuthentication(t *testing.T) {
	svc := &serviceStub{}
	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/subscriptions", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("expected no service calls, got %v", svc.calls)
	}
}

func TestHandleCreate(t *testing.T) {
	svc := &serviceStub{sub: sampleSubscription()}
	body := `{"platformName":"netflix","price":{"amount":15.49,"currency":"USD"},"billingCycle":"Monthly","startDate":"2024-05-01","ownerId":"someone-else"}`

	rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/subscriptions", "user_1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.gotOwner != "user_1" {
		t.Fatalf("expected owner from identity, got %q", svc.gotOwner)
	}
	in := svc.gotCreate
	if in.PlatformName != "netflix" || in.BillingCycle != domain.CycleMonthly || in.StartDate != "2024-05-01" {
		t.Fatalf("unexpected create input: %+v", in)
	}
	if in.Price == nil || in.Price.Amount == nil || !in.Price.Amount.Equal(decimal.RequireFromString("15.49")) {
		t.Fatalf("expected amount 15.49, got %+v", in.Price)
	}

	var got domain.Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.ID != svc.sub.ID || !got.NextBillingDate.Equal(svc.sub.NextBillingDate) {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHandleCreate_RejectsMalformedBody(t *testing.T) {
	svc := &serviceStub{}
	rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/subscriptions", "user_1", `{"platformName":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body := decodeErrorBody(t, rec); body["error"] != "validation_error" {
		t.Fatalf("expected validation_error, got %v", body)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("expected no service calls, got %v", svc.calls)
	}
}

func TestHandleList(t *testing.T) {
	svc := &serviceStub{subs: []domain.Subscription{*sampleSubscription()}}
	rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/subscriptions", "user_1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []domain.Subscription
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 1 || got[0].PlatformName != "Netflix" {
		t.Fatalf("unexpected list: %+v", got)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantKind    string
		wantMessage string
	}{
		{
			name:        "validation",
			err:         fmt.Errorf("%w: platformName is required", domain.ErrValidation),
			wantStatus:  http.StatusBadRequest,
			wantKind:    "validation_error",
			wantMessage: "platformName is required",
		},
		{
			name:        "not found",
			err:         fmt.Errorf("%w: subscription not found", domain.ErrNotFound),
			wantStatus:  http.StatusNotFound,
			wantKind:    "not_found",
			wantMessage: "subscription not found",
		},
		{
			name:        "forbidden",
			err:         fmt.Errorf("%w: you do not have permission to access this subscription", domain.ErrForbidden),
			wantStatus:  http.StatusForbidden,
			wantKind:    "forbidden",
			wantMessage: "you do not have permission to access this subscription",
		},
		{
			name:        "persistence hides store detail",
			err:         fmt.Errorf("%w: loading subscription: %w", domain.ErrPersistence, errors.New("dial tcp 10.0.0.1:5432")),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "persistence_error",
			wantMessage: "failed to access subscription storage",
		},
		{
			name:        "unexpected",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantKind:    "internal_error",
			wantMessage: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &serviceStub{err: tt.err}
			rec := doRequest(t, newTestRouter(svc), http.MethodGet, "/subscriptions/abc", "user_1", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			body := decodeErrorBody(t, rec)
			if body["error"] != tt.wantKind || body["message"] != tt.wantMessage {
				t.Fatalf("unexpected error body: %v", body)
			}
			if svc.gotID != "abc" {
				t.Fatalf("expected id from path, got %q", svc.gotID)
			}
		})
	}
}

func TestHandleUpdate(t *testing.T) {
	svc := &serviceStub{sub: sampleSubscription()}
	rec := doRequest(t, newTestRouter(svc), http.MethodPatch, "/subscriptions/sub-1", "user_1", `{"price":{"amount":50}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.gotID != "sub-1" || svc.gotPatch.Price == nil || svc.gotPatch.Price.Amount == nil {
		t.Fatalf("expected price patch for sub-1, got id=%q patch=%+v", svc.gotID, svc.gotPatch)
	}
	if !svc.gotPatch.Price.Amount.Equal(decimal.NewFromInt(50)) || svc.gotPatch.Price.Currency != nil {
		t.Fatalf("expected amount-only price patch, got %+v", svc.gotPatch.Price)
	}
}

func TestHandleUpdate_RejectsDisallowedFields(t *testing.T) {
	for _, body := range []string{
		`{"ownerId":"user_2"}`,
		`{"nextBillingDate":"2030-01-01"}`,
		`{"id":"other"}`,
		`[]`,
	} {
		t.Run(body, func(t *testing.T) {
			svc := &serviceStub{}
			rec := doRequest(t, newTestRouter(svc), http.MethodPatch, "/subscriptions/sub-1", "user_1", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if len(svc.calls) != 0 {
				t.Fatalf("expected no service calls, got %v", svc.calls)
			}
		})
	}
}

func TestHandleDelete(t *testing.T) {
	svc := &serviceStub{}
	rec := doRequest(t, newTestRouter(svc), http.MethodDelete, "/subscriptions/sub-1", "user_1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if svc.gotID != "sub-1" || svc.gotOwner != "user_1" {
		t.Fatalf("unexpected delete call: id=%q owner=%q", svc.gotID, svc.gotOwner)
	}
	var body messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Message == "" {
		t.Fatalf("expected confirmation message, got %q", rec.Body.String())
	}
}

func TestHandleMarkAsPaid(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDate   *time.Time
		wantCall   bool
	}{
		{name: "no body", body: "", wantStatus: http.StatusOK, wantCall: true},
		{name: "empty object", body: `{}`, wantStatus: http.StatusOK, wantCall: true},
		{
			name:       "explicit date",
			body:       `{"paidDate":"2024-05-01"}`,
			wantStatus: http.StatusOK,
			wantDate:   func() *time.Time { d := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC); return &d }(),
			wantCall:   true,
		},
		{name: "invalid date", body: `{"paidDate":"yesterday"}`, wantStatus: http.StatusBadRequest},
		{name: "malformed body", body: `{"paidDate":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &serviceStub{sub: sampleSubscription()}
			rec := doRequest(t, newTestRouter(svc), http.MethodPost, "/subscriptions/sub-1/paid", "user_1", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if !tt.wantCall {
				if len(svc.calls) != 0 {
					t.Fatalf("expected no service calls, got %v", svc.calls)
				}
				return
			}
			switch {
			case tt.wantDate == nil && svc.gotPaidDate != nil:
				t.Fatalf("expected no paid date, got %s", svc.gotPaidDate)
			case tt.wantDate != nil && (svc.gotPaidDate == nil || !svc.gotPaidDate.Equal(*tt.wantDate)):
				t.Fatalf("expected paid date %s, got %v", tt.wantDate, svc.gotPaidDate)
			}
		})
	}
}
