package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/andrewhuhh/closet-try-on-sub000/internal/domain"
)

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
		Details []struct {
			Type   string `json:"@type,omitempty"`
			Reason string `json:"reason,omitempty"`
		} `json:"details,omitempty"`
	} `json:"error"`
}

const reasonAPIKeyInvalid = "API_KEY_INVALID"

// classify maps a rejected response onto the error taxonomy. The structured
// code and reason fields decide the kind; free text is only carried along.
func classify(status int, body []byte) *domain.GenerationError {
	var apiErr geminiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil || (apiErr.Error.Code == 0 && apiErr.Error.Message == "") {
		text := strings.TrimSpace(string(body))
		if len(text) > 512 {
			text = text[:512]
		}
		if text == "" {
			text = http.StatusText(status)
		}
		return &domain.GenerationError{
			Kind:       kindForStatus(status, false),
			StatusCode: status,
			Message:    text,
		}
	}

	code := apiErr.Error.Code
	if code == 0 {
		code = status
	}
	keyInvalid := false
	for _, d := range apiErr.Error.Details {
		if d.Reason == reasonAPIKeyInvalid {
			keyInvalid = true
		}
	}
	kind := kindForStatus(code, keyInvalid)
	if kind == domain.KindUnknown {
		switch apiErr.Error.Status {
		case "RESOURCE_EXHAUSTED":
			kind = domain.KindQuotaExceeded
		case "UNAUTHENTICATED", "PERMISSION_DENIED":
			kind = domain.KindAuth
		case "INVALID_ARGUMENT":
			kind = domain.KindMalformedRequest
		}
	}
	msg := apiErr.Error.Message
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &domain.GenerationError{Kind: kind, StatusCode: code, Message: msg}
}

func kindForStatus(code int, keyInvalid bool) domain.ErrorKind {
	switch code {
	case http.StatusTooManyRequests:
		return domain.KindQuotaExceeded
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.KindAuth
	case http.StatusRequestEntityTooLarge:
		return domain.KindPayloadTooLarge
	case http.StatusBadRequest:
		if keyInvalid {
			return domain.KindAuth
		}
		return domain.KindMalformedRequest
	default:
		return domain.KindUnknown
	}
}

func noImageError(resp *Response) *domain.GenerationError {
	msg := "response contained no image"
	if resp.BlockReason != "" {
		msg = fmt.Sprintf("%s (blocked: %s)", msg, resp.BlockReason)
	} else if resp.FinishReason != "" && resp.FinishReason != "STOP" {
		msg = fmt.Sprintf("%s (finish reason: %s)", msg, resp.FinishReason)
	}
	gerr := &domain.GenerationError{Kind: domain.KindNoImageInResponse, Message: msg}
	if text := strings.TrimSpace(resp.Text()); text != "" {
		gerr.UserMessage = domain.TruncateUserMessage(text)
	}
	return gerr
}

func transportError(ctx context.Context, err error) *domain.GenerationError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &domain.GenerationError{Kind: domain.KindTimeout, Message: "request deadline exceeded", Err: err}
	}
	return &domain.GenerationError{Kind: domain.KindNetwork, Message: "request failed", Err: err}
}
