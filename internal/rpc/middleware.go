package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/coreagent/runtime/internal/coreerr"
)

// TimingMiddleware logs the method name and elapsed time of every call,
// the way muxd's handlers would if wrapped rather than inlined.
func TimingMiddleware(logger Logger) Middleware {
	return func(ctx context.Context, req Request, next Next) Response {
		start := time.Now()
		resp := next(ctx, req)
		if logger != nil {
			logger.Printf("rpc: %s took %s", req.Method, time.Since(start))
		}
		return resp
	}
}

// LoggingMiddleware logs at debug level on request/success and warn/error
// on failure, matching hub.logf's severity split between routine traffic
// and faults.
func LoggingMiddleware(logger Logger) Middleware {
	return func(ctx context.Context, req Request, next Next) Response {
		if logger != nil {
			logger.Debugf("rpc: -> %s", req.Method)
		}
		resp := next(ctx, req)
		if logger != nil {
			switch {
			case resp.Error != nil && resp.Error.Code == coreerr.CodeInternalError:
				logger.Errorf("rpc: %s failed: %s", req.Method, resp.Error.Message)
			case resp.Error != nil:
				logger.Warnf("rpc: %s rejected: %s (%s)", req.Method, resp.Error.Message, resp.Error.Code)
			default:
				logger.Debugf("rpc: <- %s ok", req.Method)
			}
		}
		return resp
	}
}

// ErrorBoundaryMiddleware recovers from a panicking handler and formats it
// as an INTERNAL_ERROR response instead of taking the whole dispatcher
// down, coercing a non-error recovered value into an error-shaped message
// first.
func ErrorBoundaryMiddleware(logger Logger) Middleware {
	return func(ctx context.Context, req Request, next Next) (resp Response) {
		defer func() {
			if r := recover(); r != nil {
				err := toError(r)
				if logger != nil {
					logger.Errorf("rpc: %s panicked: %v", req.Method, err)
				}
				resp = errorResponse(req.ID, coreerr.CodeInternalError, err.Error())
			}
		}()
		return next(ctx, req)
	}
}

func toError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}
