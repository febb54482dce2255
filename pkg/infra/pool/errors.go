// Package pool provides named ants worker pools with submission counters.
package pool

import "errors"

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("pool is closed")
	// ErrPoolOverload 运行与排队的任务都已满
	ErrPoolOverload = errors.New("pool is overloaded")
	// ErrInvalidPoolConfig 配置无效
	ErrInvalidPoolConfig = errors.New("invalid pool config")
)
