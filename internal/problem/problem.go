// Package problem implements RFC 7807 style error reporting
// (https://www.rfc-editor.org/rfc/rfc7807) for the service.
package problem

import (
	"fmt"
	"net/http"
	"strings"
)

// ContentType is served on every problem response.
const ContentType = "application/problem+json"

const noDetail = "No detail provided"

// Problem is a typed application error with a stable wire identity.
// Each variant constructor fixes Status, Title and Kind; Detail and Context
// vary per instance.
type Problem struct {
	Status  int
	Title   string
	Kind    string
	Detail  string
	Context map[string]any
}

func (p *Problem) Error() string {
	return fmt.Sprintf("%s(status=%d, title=%q, detail=%q)", p.Kind, p.Status, p.Title, p.Detail)
}

// Document is the canonical wire representation of a Problem.
type Document struct {
	Status   int            `json:"status"`
	Title    string         `json:"title"`
	Detail   string         `json:"detail"`
	Instance string         `json:"instance"`
	Type     string         `json:"type"`
	Context  map[string]any `json:"context,omitempty"`
}

// Document renders the problem for the request identified by instance.
// The type field points at the documentation endpoint for the problem kind.
func (p *Problem) Document(instance, baseURL string) Document {
	detail := p.Detail
	if detail == "" {
		detail = noDetail
	}
	return Document{
		Status:   p.Status,
		Title:    p.Title,
		Detail:   detail,
		Instance: instance,
		Type:     strings.TrimRight(baseURL, "/") + "/problem/" + p.Kind,
		Context:  p.Context,
	}
}

// NewTokenRequired reports that no credential was found in any transport
// location. The detail names the credential that was looked for.
func NewTokenRequired(name string) *Problem {
	return &Problem{
		Status: http.StatusBadRequest,
		Title:  "A token was required, but not provided",
		Kind:   "token-required",
		Detail: name,
	}
}

// NewTokenNotFound reports a credential that does not resolve to a live,
// unexpired token. Expired and never-issued values are deliberately
// indistinguishable. The detail echoes the submitted value, which the caller
// already possesses.
func NewTokenNotFound(value string) *Problem {
	return &Problem{
		Status: http.StatusForbidden,
		Title:  "Token was not found",
		Kind:   "token-not-found",
		Detail: value,
	}
}

// NewConflict reports a write that collided with existing state.
func NewConflict(detail string, context map[string]any) *Problem {
	return &Problem{
		Status:  http.StatusConflict,
		Title:   "The request conflicts with existing state",
		Kind:    "conflict",
		Detail:  detail,
		Context: context,
	}
}

// NewPermissionMissing reports a principal lacking required permissions.
func NewPermissionMissing(detail string) *Problem {
	return &Problem{
		Status: http.StatusForbidden,
		Title:  "The request does not contain the correct permissions",
		Kind:   "permission-missing",
		Detail: detail,
	}
}

// NewUncaught wraps an error that does not belong to the taxonomy. The detail
// should be the error's type name, never its message.
func NewUncaught(detail string) *Problem {
	return &Problem{
		Status: http.StatusInternalServerError,
		Title:  "The server experienced an unexpected problem",
		Kind:   "uncaught-exception",
		Detail: detail,
	}
}
