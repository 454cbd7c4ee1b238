package superproxy

import (
	"encoding/json"
	"errors"
	"net/http"

	"proxybroker/internal/core/constants"
	"proxybroker/internal/core/domain"
)

// writeGatewayError converts err into the 500 JSON contract spec.md §4.7/§7
// describes: `[error_class, ...args]` plus an `X-Superproxy-Error` header
// naming the class, so a `SuperProxySession`-style client can re-raise the
// same error it would have seen calling the Pool/Session directly.
func writeGatewayError(w http.ResponseWriter, err error) {
	class, body := classifyError(err)

	w.Header().Set(constants.HeaderError, class)
	w.Header().Set(constants.ContentTypeHeader, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(body)
}

func classifyError(err error) (string, []interface{}) {
	var insufficient *domain.InsufficientProxiesError
	if errors.As(err, &insufficient) {
		return "InsufficientProxies", []interface{}{insufficient.Requested, insufficient.Available, insufficient.Strategy}
	}

	var maxRetries *domain.MaxRetriesExceededError
	if errors.As(err, &maxRetries) {
		reason := ""
		if maxRetries.Err != nil {
			reason = maxRetries.Err.Error()
		}
		return "ProxyMaxRetriesExceeded", []interface{}{reason, maxRetries.FailCount, maxRetries.RestCount}
	}

	var proxyErr *domain.ProxyError
	if errors.As(err, &proxyErr) {
		return "ProxyError", []interface{}{proxyErr.Error(), proxyErr.ProxyKey, proxyErr.StatusCode}
	}

	return "Error", []interface{}{err.Error()}
}
