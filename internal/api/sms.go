package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openhalo/halo-bridge/internal/smslink"
)

// webhookSecretHeader carries the SMS gateway's shared secret.
const webhookSecretHeader = "X-Webhook-Secret"

// Default reply texts, used when config leaves them empty.
const (
	defaultApologyMessage  = "Sorry, your display is offline right now. Your message has been saved."
	defaultUnlinkedMessage = "This number is not linked to a display."
)

// inboundSMS is the normalised inbound message. The gateway may post
// JSON or form fields (From/Body, as SMS gateways commonly do).
type inboundSMS struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// smsRequestPayload is what a device receives for an inbound text.
type smsRequestPayload struct {
	Type string `json:"type"`
	From string `json:"from"`
	Body string `json:"body"`
}

// handleInboundSMS bridges one text message to the linked device and
// replies with whatever the device answered. A silent or absent device
// gets the apology path: the message is queued for review and the sender
// is told their display is away.
func (s *Server) handleInboundSMS(w http.ResponseWriter, r *http.Request) {
	if !s.smsCfg.Enabled || s.links == nil {
		writeNotFound(w, "sms bridging not enabled")
		return
	}

	// The gateway authenticates with a shared secret header; an empty
	// configured secret leaves the webhook open for local development.
	if secret := s.smsCfg.WebhookSecret; secret != "" {
		presented := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			s.logger.Warn("sms webhook rejected: bad shared secret")
			writeUnauthorized(w, "invalid webhook secret")
			return
		}
	}

	msg, err := decodeInboundSMS(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if msg.From == "" || msg.Body == "" {
		writeBadRequest(w, "from and body are required")
		return
	}

	link, err := s.links.Resolve(r.Context(), msg.From)
	if err != nil {
		if errors.Is(err, smslink.ErrNotLinked) {
			s.logger.Info("sms from unlinked number", "from", msg.From)
			writeSMSReply(w, s.unlinkedMessage())
			return
		}
		writeInternalError(w, "link lookup failed")
		return
	}

	payload, err := json.Marshal(smsRequestPayload{
		Type: "sms",
		From: msg.From,
		Body: msg.Body,
	})
	if err != nil {
		writeInternalError(w, "encoding request failed")
		return
	}

	timeout := time.Duration(s.smsCfg.RequestTimeoutMs) * time.Millisecond
	reply, err := s.bridge.SendRequest(r.Context(), link.DeviceID, payload, timeout)
	if err != nil {
		s.logger.Warn("sms delivery failed, queueing",
			"from", msg.From,
			"device_id", link.DeviceID,
			"error", err,
		)
		if _, qErr := s.links.QueuePending(r.Context(), msg.From, link.DeviceID, msg.Body); qErr != nil {
			s.logger.Error("queueing undelivered sms failed", "error", qErr)
		}
		writeSMSReply(w, s.apologyMessage())
		return
	}

	writeSMSReply(w, replyText(reply))
}

// decodeInboundSMS reads either a JSON body or gateway form fields.
func decodeInboundSMS(r *http.Request) (inboundSMS, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var msg inboundSMS
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			return inboundSMS{}, errors.New("invalid JSON body")
		}
		return msg, nil
	}

	if err := r.ParseForm(); err != nil {
		return inboundSMS{}, errors.New("invalid form body")
	}
	return inboundSMS{
		From: r.FormValue("From"),
		Body: r.FormValue("Body"),
	}, nil
}

// replyText extracts the device's reply text. Devices answer with
// {"reply": "..."} or plain text; anything else is passed through as-is.
func replyText(raw json.RawMessage) string {
	var structured struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(raw, &structured); err == nil && structured.Reply != "" {
		return structured.Reply
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	return string(raw)
}

// writeSMSReply answers the gateway with the text to send back.
func writeSMSReply(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusOK, map[string]string{"reply": text})
}

func (s *Server) apologyMessage() string {
	if s.smsCfg.ApologyMessage != "" {
		return s.smsCfg.ApologyMessage
	}
	return defaultApologyMessage
}

func (s *Server) unlinkedMessage() string {
	if s.smsCfg.UnlinkedMessage != "" {
		return s.smsCfg.UnlinkedMessage
	}
	return defaultUnlinkedMessage
}

// linkRequest is the body for PUT /sms/links/{phone}.
type linkRequest struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label"`
}

// handleListLinks returns all phone-to-device links.
func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		writeNotFound(w, "sms bridging not enabled")
		return
	}

	links, err := s.links.List(r.Context())
	if err != nil {
		writeInternalError(w, "listing links failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"links": links,
		"count": len(links),
	})
}

// handleCreateLink links a phone number to a device.
func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		writeNotFound(w, "sms bridging not enabled")
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	phone := chi.URLParam(r, "phone")
	if err := s.links.Link(r.Context(), phone, req.DeviceID, req.Label); err != nil {
		switch {
		case errors.Is(err, smslink.ErrEmptyPhoneNumber), errors.Is(err, smslink.ErrEmptyDeviceID):
			writeBadRequest(w, err.Error())
		default:
			writeInternalError(w, "creating link failed")
		}
		return
	}

	link, err := s.links.Resolve(r.Context(), phone)
	if err != nil {
		writeInternalError(w, "reading created link failed")
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// handleDeleteLink removes a phone link.
func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		writeNotFound(w, "sms bridging not enabled")
		return
	}

	phone := chi.URLParam(r, "phone")
	if err := s.links.Unlink(r.Context(), phone); err != nil {
		if errors.Is(err, smslink.ErrNotLinked) {
			writeNotFound(w, err.Error())
			return
		}
		writeInternalError(w, "removing link failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlinked": phone})
}

// handlePendingSMS returns texts that arrived while the device was away.
func (s *Server) handlePendingSMS(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		writeNotFound(w, "sms bridging not enabled")
		return
	}

	deviceID := chi.URLParam(r, "id")
	pending, err := s.links.PendingForDevice(r.Context(), deviceID)
	if err != nil {
		writeInternalError(w, "loading pending sms failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"pending":   pending,
		"count":     len(pending),
	})
}

// handleDeletePendingSMS acknowledges a queued text once it has been
// re-issued or otherwise dealt with.
func (s *Server) handleDeletePendingSMS(w http.ResponseWriter, r *http.Request) {
	if s.links == nil {
		writeNotFound(w, "sms bridging not enabled")
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "smsID"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid pending sms id")
		return
	}

	if err := s.links.DeletePending(r.Context(), id); err != nil {
		writeInternalError(w, "deleting pending sms failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
