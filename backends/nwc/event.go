package nwc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/feelancer21/lnunify"
	"github.com/nbd-wtf/go-nostr"
)

const (
	// KindInfo is the replaceable event listing the methods a wallet
	// service supports.
	KindInfo = 13194

	KindRequest      = 23194
	KindResponse     = 23195
	KindNotification = 23196

	MaxContentSize = 1 * 1024 * 1024 // 1 MB

	EventGracePeriodSeconds = 600 // 10 minutes
)

// Error codes of NIP-47 responses.
const (
	CodeRateLimited         = "RATE_LIMITED"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeRestricted          = "RESTRICTED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL"
	CodePaymentFailed       = "PAYMENT_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeOther               = "OTHER"
)

// request is the decrypted content of a kind 23194 event.
type request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// response is the decrypted content of a kind 23195 event.
type response struct {
	ResultType string          `json:"result_type"`
	Error      *ResponseError  `json:"error"`
	Result     json.RawMessage `json:"result"`
}

// ResponseError is the error object of a wallet service reply.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// asError maps a reply error to the lnunify error kinds. Methods the
// service does not offer or the connection may not use are unsupported.
func (e *ResponseError) asError(op lnunify.Operation) error {
	switch e.Code {
	case CodeNotImplemented, CodeRestricted:
		return fmt.Errorf("%w: %s", &lnunify.UnsupportedError{Kind: lnunify.KindNWC, Operation: op}, e.Message)
	default:
		return lnunify.NewBackendError(0, e.Error())
	}
}

// newRequestEvent builds the unsigned request event for the wallet with
// already encrypted content.
func newRequestEvent(clientPub, walletPub, content string, expiration nostr.Timestamp) *nostr.Event {
	ev := &nostr.Event{
		PubKey:    clientPub,
		CreatedAt: nostr.Now(),
		Kind:      KindRequest,
		Tags:      nostr.Tags{{"p", walletPub}},
		Content:   content,
	}
	if expiration > 0 {
		ev.Tags = append(ev.Tags, nostr.Tag{"expiration", strconv.FormatInt(int64(expiration), 10)})
	}
	return ev
}

// verifyEvent checks an event received from a relay before its content is
// trusted. author is the expected pubkey.
func verifyEvent(ev *nostr.Event, author string) error {
	if ev == nil {
		return errors.New("nil event")
	}
	if ev.CreatedAt > nostr.Now()+EventGracePeriodSeconds {
		return errors.New("event is too far in the future")
	}

	// See https://github.com/nbd-wtf/go-nostr/pull/119
	if ev.ID != ev.GetID() {
		return errors.New("event ID mismatch")
	}
	if len(ev.Content) > MaxContentSize {
		return fmt.Errorf("content size exceeds (%d bytes) maximum limit (%d bytes)",
			len(ev.Content), MaxContentSize)
	}
	if ev.PubKey != author {
		return fmt.Errorf("event author %s is not the wallet service", ev.PubKey)
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		if err == nil {
			err = errors.New("invalid signature")
		}
		return err
	}
	return nil
}

// tagValue returns the first value of the tag named key.
func tagValue(ev *nostr.Event, key string) string {
	t := ev.Tags.Find(key)
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// infoMethods parses the content of the info event, a space separated
// list of methods. Notification types follow in a "notifications" tag.
func infoMethods(ev *nostr.Event) (methods, notifications []string) {
	methods = strings.Fields(ev.Content)
	if n := tagValue(ev, "notifications"); n != "" {
		notifications = strings.Fields(n)
	}
	return methods, notifications
}
