package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxRequestBody caps API request bodies. Nothing the API accepts is larger
// than a seller registration, so 1 MiB leaves plenty of headroom.
const maxRequestBody = 1 << 20

// errorBody is the wire shape of every API error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DecodeJSON parses the request body into dst, rejecting unknown fields and
// trailing garbage. On failure it writes a 400 and returns false, so handlers
// can simply bail out.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("request body must contain a single JSON value")
	}
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	return true
}

// WriteJSON encodes v and writes it with the given status. Encoding happens
// before the header goes out, so a marshal failure can still become a 500.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(payload); err != nil {
		// Client went away mid-response; nothing left to salvage.
		return
	}
	_, _ = io.WriteString(w, "\n")
}

// ErrorParams describes one API error: the HTTP status, a stable machine
// code for collaborators, and the underlying error for the message.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes the standard error envelope.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, errorBody{Error: p.ErrCode, Message: p.Err.Error()})
}
