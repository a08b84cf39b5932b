package api

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/valyala/fasthttp"

	"eduapp/pkg/access"
)

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}

func writeError(ctx *fasthttp.RequestCtx, status int, kind, reason string) {
	writeJSON(ctx, status, errorBody{Error: kind, Reason: reason})
}

// statusFor maps an access error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, access.ErrNotFound):
		return fasthttp.StatusNotFound
	case errors.Is(err, access.ErrWriteConflict):
		return fasthttp.StatusConflict
	case errors.Is(err, access.ErrInvalidRequest):
		return fasthttp.StatusBadRequest
	case errors.Is(err, access.ErrStoreUnavailable):
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeAccessError(ctx *fasthttp.RequestCtx, err error) {
	writeError(ctx, statusFor(err), access.KindName(err), err.Error())
}

// decodeBody reads a JSON request body into v.
func decodeBody(ctx *fasthttp.RequestCtx, v any) bool {
	body := ctx.PostBody()
	if len(body) == 0 {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_request", "empty body")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_request", "invalid json: "+err.Error())
		return false
	}
	return true
}
