package gateway

import (
	"fmt"
	"net/http"

	pkgerrors "github.com/nashtto/cart-engine/pkg/errors"
)

// transportError carries the raw backend reply for debugging. It satisfies
// pkgerrors.GatewayError so Dump can surface the response.
type transportError struct {
	status   int
	endpoint string
	body     string
}

func (e *transportError) Error() string {
	return fmt.Sprintf("gateway %s: status %d", e.endpoint, e.status)
}

func (e *transportError) StatusCode() int      { return e.status }
func (e *transportError) Endpoint() string     { return e.endpoint }
func (e *transportError) ResponseBody() string { return e.body }

func codeForStatus(status int) pkgerrors.Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}
