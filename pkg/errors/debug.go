package errors

import (
	"errors"
	"fmt"
)

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	GatewayStatus   int    `json:"gateway_status,omitempty"`
	GatewayEndpoint string `json:"gateway_endpoint,omitempty"`
	GatewayBody     string `json:"gateway_body,omitempty"`
}

// GatewayError is implemented by transport errors that carry the raw backend reply.
type GatewayError interface {
	error
	StatusCode() int
	Endpoint() string
	ResponseBody() string
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var gwErr GatewayError
	if errors.As(err, &gwErr) {
		d.GatewayStatus = gwErr.StatusCode()
		d.GatewayEndpoint = gwErr.Endpoint()
		d.GatewayBody = gwErr.ResponseBody()
	}

	return d
}
