package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func (ts *testServer) linkPhone(t *testing.T, phone, deviceID string) {
	t.Helper()
	if err := ts.links.Link(context.Background(), phone, deviceID, "test"); err != nil {
		t.Fatalf("linking %s: %v", phone, err)
	}
}

func smsReply(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("sms status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding sms reply: %v", err)
	}
	return body.Reply
}

func TestInboundSMSUnlinkedNumber(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/sms/inbound", "", inboundSMS{
		From: "+447700900001",
		Body: "hello?",
	})
	if got := smsReply(t, rec); got != defaultUnlinkedMessage {
		t.Errorf("reply = %q", got)
	}
}

func TestInboundSMSDeviceAnswers(t *testing.T) {
	ts := newTestServer(t)
	ts.linkPhone(t, "+447700900002", "panel-1")
	ts.bridge.Connect("panel-1", &echoChannel{
		bridge: ts.bridge,
		reply:  json.RawMessage(`{"reply":"Dinner is at seven."}`),
	}, "")

	rec := ts.do(t, http.MethodPost, "/api/v1/sms/inbound", "", inboundSMS{
		From: "+447700900002",
		Body: "what time is dinner?",
	})
	if got := smsReply(t, rec); got != "Dinner is at seven." {
		t.Errorf("reply = %q", got)
	}
}

func TestInboundSMSOfflineDeviceQueuesAndApologises(t *testing.T) {
	ts := newTestServer(t)
	ts.linkPhone(t, "+447700900003", "away-panel")

	rec := ts.do(t, http.MethodPost, "/api/v1/sms/inbound", "", inboundSMS{
		From: "+447700900003",
		Body: "are you home?",
	})
	if got := smsReply(t, rec); got != defaultApologyMessage {
		t.Errorf("reply = %q", got)
	}

	pending, err := ts.links.PendingForDevice(context.Background(), "away-panel")
	if err != nil {
		t.Fatalf("loading pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Body != "are you home?" {
		t.Errorf("pending = %+v", pending)
	}
}

func TestInboundSMSFormEncoded(t *testing.T) {
	ts := newTestServer(t)

	form := "From=%2B447700900004&Body=hi"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sms/inbound", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	if got := smsReply(t, rec); got != defaultUnlinkedMessage {
		t.Errorf("reply = %q", got)
	}
}

func TestInboundSMSValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/sms/inbound", "", inboundSMS{From: "+447700900005"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing body status = %d, want 400", rec.Code)
	}
}

func TestInboundSMSWebhookSecret(t *testing.T) {
	ts := newTestServer(t)
	ts.server.smsCfg.WebhookSecret = "gateway-shared-secret"

	body, _ := json.Marshal(inboundSMS{From: "+447700900007", Body: "hi"})

	// Missing and wrong secrets are rejected.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sms/inbound", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing secret status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/sms/inbound", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookSecretHeader, "wrong")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret status = %d, want 401", rec.Code)
	}

	// The right secret reaches the handler.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sms/inbound", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhookSecretHeader, "gateway-shared-secret")
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	if got := smsReply(t, rec); got != defaultUnlinkedMessage {
		t.Errorf("reply = %q", got)
	}
}

func TestDeletePendingSMS(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)
	ts.linkPhone(t, "+447700900008", "away-panel")

	id, err := ts.links.QueuePending(context.Background(), "+447700900008", "away-panel", "are you there?")
	if err != nil {
		t.Fatalf("queueing pending sms: %v", err)
	}

	rec := ts.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/devices/away-panel/sms/pending/%d", id), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body.String())
	}

	pending, err := ts.links.PendingForDevice(context.Background(), "away-panel")
	if err != nil {
		t.Fatalf("loading pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after delete = %+v", pending)
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/devices/away-panel/sms/pending/abc", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id status = %d, want 400", rec.Code)
	}
}

func TestLinkManagement(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	rec := ts.do(t, http.MethodPut, "/api/v1/sms/links/+447700900006", token, linkRequest{
		DeviceID: "panel-1",
		Label:    "kitchen",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create link status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/sms/links", token, nil)
	if body := decodeBody(t, rec); body["count"] != float64(1) {
		t.Errorf("link count = %v", body["count"])
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/sms/links/+447700900006", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete link status = %d", rec.Code)
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/sms/links/+447700900006", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", rec.Code)
	}
}
