package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/caffeineduck/actionproxy/executor"
)

type initRequest struct {
	Value *struct {
		Code *string `json:"code"`
	} `json:"value"`
}

type runRequest struct {
	Value *struct {
		Args any `json:"args"`
	} `json:"value"`
}

type createSessionRequest struct {
	Lang string `json:"lang,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// response is the body of every init and run answer. Result is omitted
// for init and for stub runs; a run whose entry point returned nothing
// carries an explicit null.
type response struct {
	OK     bool             `json:"OK"`
	Result *json.RawMessage `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

var (
	errMissingValue = errors.New(`request body has no "value" object`)
	errMissingCode  = errors.New(`request body has no "value.code" string`)
)

// decode reads one JSON document with numbers kept as json.Number so
// integers survive the trip into the engines unrounded.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("decode request: trailing data after JSON document")
	}
	return nil
}

func decodeInit(r *http.Request) (string, error) {
	var req initRequest
	if err := decode(r, &req); err != nil {
		return "", err
	}
	if req.Value == nil {
		return "", errMissingValue
	}
	if req.Value.Code == nil {
		return "", errMissingCode
	}
	return *req.Value.Code, nil
}

// decodeRun returns the args value; a missing args key reads as null.
func decodeRun(r *http.Request) (any, error) {
	var req runRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if req.Value == nil {
		return nil, errMissingValue
	}
	return req.Value.Args, nil
}

// encodeResult renders a run value. Void yields no result field.
func encodeResult(v any) (*json.RawMessage, error) {
	if v == executor.Void {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	raw := json.RawMessage(data)
	return &raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
