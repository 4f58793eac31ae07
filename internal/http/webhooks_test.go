package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/callback"
	"github.com/careloop/caring-relay/internal/fhir"
	"github.com/careloop/caring-relay/internal/notify"
	"github.com/careloop/caring-relay/internal/predictor"
	"github.com/careloop/caring-relay/internal/queue"
	"github.com/careloop/caring-relay/internal/tracking"
)

func testRecorder() *audit.Recorder {
	return audit.NewRecorder(zap.NewNop(), nil)
}

// emptyStoreProcessor backs a processor with a FHIR server that finds
// nothing, so lookups fall through to the not-found error paths.
func emptyStoreProcessor(t *testing.T) *callback.Processor {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		_ = json.NewEncoder(w).Encode(fhir.Bundle{ResourceType: "Bundle", Type: "searchset"})
	}))
	t.Cleanup(srv.Close)

	client := fhir.NewClient(srv.URL, time.Second)
	rec := testRecorder()
	tracker := tracking.New(client, rec)
	mailer := notify.NewMailer(notify.MailerOpts{Suppress: true}, rec)
	notifier := notify.NewNotifier(client, mailer, rec)
	return callback.New(client, tracker, notifier, predictor.NewClient("", 0), rec)
}

func postForm(t *testing.T, h echo.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if err := h(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec
}

func TestMessageStatusHandlerQueuesUnknownSID(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	retry := queue.New(rdb, 3)

	h := messageStatusHandler(emptyStoreProcessor(t), retry, testRecorder())
	rec := postForm(t, h, "/message-status", url.Values{
		"MessageSid":    {"SM404"},
		"MessageStatus": {"delivered"},
	})

	// Twilio must see 200 so it stops re-delivering; the event waits on
	// the retry queue instead.
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "SM404") {
		t.Errorf("body = %q, want sid mentioned", rec.Body.String())
	}

	ev, err := retry.Pop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil || ev.SID != "SM404" || ev.Status != "delivered" {
		t.Errorf("queued event = %+v", ev)
	}
}

func TestInboundSMSHandlerUnknownPhone(t *testing.T) {
	h := inboundSMSHandler(emptyStoreProcessor(t), testRecorder())
	rec := postForm(t, h, "/sms", url.Values{
		"From":   {"+19995550000"},
		"Body":   {"hello"},
		"SmsSid": {"SM1"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no active patient") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestAuditlogHandler(t *testing.T) {
	h := auditlogHandler(testRecorder())

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auditlog", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		if err := h(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		return rec
	}

	cases := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"missing message", `{"level":"info"}`, http.StatusBadRequest},
		{"unknown level", `{"message":"x","level":"verbose"}`, http.StatusBadRequest},
		{"default level", `{"message":"client event"}`, http.StatusOK},
		{"full entry", `{"message":"login","level":"warn","user":"u1","patient":"pt-1"}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := post(tc.body); rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.wantCode, rec.Body.String())
			}
		})
	}
}

func TestListAuditEventsHandler(t *testing.T) {
	h := listAuditEventsHandler(testRecorder())

	get := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		if err := h(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		return rec
	}

	if rec := get("/v1/audit-events?level=verbose"); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown level: status = %d, want 400", rec.Code)
	}

	rec := get("/v1/audit-events?limit=10&offset=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out struct {
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
		Count  int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Limit != 10 || out.Offset != 5 || out.Count != 0 {
		t.Errorf("response = %+v", out)
	}
}
