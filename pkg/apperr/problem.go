package apperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Problem is the problem-details JSON body returned by every HTTP error
// response.
type Problem struct {
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// ProblemOf converts any error into a Problem. Errors without a Kind
// surface as internal so details of unexpected failures never leak.
func ProblemOf(err error) Problem {
	var e *Error
	if !errors.As(err, &e) {
		e = New(KindInternal, "unexpected error")
	}
	detail := e.Detail
	if e.Kind == KindInternal {
		detail = "unexpected error"
	}
	return Problem{
		Type:   e.TypeURI(),
		Status: e.Status(),
		Detail: detail,
	}
}

// WriteProblem writes err to w as problem-details JSON.
func WriteProblem(w http.ResponseWriter, err error) {
	p := ProblemOf(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
