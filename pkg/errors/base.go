package errors

import "net/http"

// Errors shared by the HTTP surface and infrastructure packages.
var (
	// ErrRequestTooLarge rejects bodies above the configured limit.
	ErrRequestTooLarge = define(ServiceCommon, CategoryRequest, 5, http.StatusRequestEntityTooLarge,
		"Request entity too large", "请求体过大")

	// ErrRouteNotFound answers unknown routes and methods.
	ErrRouteNotFound = define(ServiceCommon, CategoryResource, 4, 0,
		"Route not found", "路由不存在")

	// ErrInternal wraps any error that carries no errno. Its detail is
	// never shown to clients.
	ErrInternal = define(ServiceCommon, CategoryInternal, 0, 0,
		"Internal server error", "服务器内部错误")

	// ErrPanic answers a request whose handler panicked.
	ErrPanic = define(ServiceCommon, CategoryInternal, 2, 0,
		"Service panic", "服务崩溃")

	// ErrDatabase reports a DocumentStore failure.
	ErrDatabase = define(ServiceCommon, CategoryStorage, 0, 0,
		"Database error", "数据库错误")

	// ErrStorage reports a blob or snapshot storage failure.
	ErrStorage = define(ServiceCommon, CategoryStorage, 5, 0,
		"Storage error", "存储错误")

	// ErrServiceUnavailable reports an open circuit breaker or a full queue.
	ErrServiceUnavailable = define(ServiceCommon, CategoryNetwork, 1, 0,
		"Service unavailable", "服务不可用")

	// ErrTimeout reports an operation that ran out of time.
	ErrTimeout = define(ServiceCommon, CategoryTimeout, 0, 0,
		"Operation timeout", "操作超时")

	// ErrConfigInvalid reports a configuration that cannot be used.
	ErrConfigInvalid = define(ServiceCommon, CategoryConfig, 2, 0,
		"Invalid configuration", "配置无效")
)
