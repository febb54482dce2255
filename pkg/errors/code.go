package errors

import (
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Error codes have the form AABBCCC: AA is the service, BB the category and
// CCC a sequence number within the category.

// Service codes (AA).
const (
	// ServiceCommon covers errors shared by every component.
	ServiceCommon = 0
	// ServiceDocAsk covers document ingestion and question answering.
	ServiceDocAsk = 20
)

// Category codes (BB).
const (
	CategoryRequest  = 1
	CategoryResource = 4
	CategoryConflict = 5
	CategoryInternal = 7
	CategoryStorage  = 8
	CategoryNetwork  = 10
	CategoryTimeout  = 11
	CategoryConfig   = 12
)

// categoryStatus is the default transport mapping of each category. An
// errno may override the HTTP status, for example 413 or 415 requests.
var categoryStatus = map[int]struct {
	http int
	grpc codes.Code
}{
	CategoryRequest:  {http.StatusBadRequest, codes.InvalidArgument},
	CategoryResource: {http.StatusNotFound, codes.NotFound},
	CategoryConflict: {http.StatusConflict, codes.AlreadyExists},
	CategoryInternal: {http.StatusInternalServerError, codes.Internal},
	CategoryStorage:  {http.StatusInternalServerError, codes.Internal},
	CategoryNetwork:  {http.StatusServiceUnavailable, codes.Unavailable},
	CategoryTimeout:  {http.StatusGatewayTimeout, codes.DeadlineExceeded},
	CategoryConfig:   {http.StatusInternalServerError, codes.Internal},
}

// MakeCode builds an AABBCCC code.
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode splits an AABBCCC code into its parts.
func ParseCode(code int) (service, category, sequence int) {
	return code / 100000, (code % 100000) / 1000, code % 1000
}

// define registers the errno identified by service, category and sequence
// with the category's default status mapping. A non-zero httpStatus
// overrides the HTTP status.
func define(service, category, sequence, httpStatus int, en, zh string) *Errno {
	status, ok := categoryStatus[category]
	if !ok {
		panic(fmt.Sprintf("errno: unknown category %d", category))
	}
	if httpStatus == 0 {
		httpStatus = status.http
	}
	return Register(&Errno{
		Code:      MakeCode(service, category, sequence),
		HTTP:      httpStatus,
		GRPCCode:  status.grpc,
		MessageEN: en,
		MessageZH: zh,
	})
}
