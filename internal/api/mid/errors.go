package mid

import (
	"context"
	"net/http"

	"github.com/campusops/batchline/internal/api/errs"
	"github.com/campusops/batchline/pkg/common/logger"
	"github.com/campusops/batchline/pkg/web"
)

// Errors handles errors coming out of the call chain. It detects normal
// application errors which are used to respond to the client in a uniform
// way. Unexpected errors are logged and masked behind a 500.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)

			err, isError := resp.(error)
			if !isError {
				return resp
			}

			if errs.IsError(err) {
				appErr := errs.GetError(err)
				if appErr.HTTPStatus() >= http.StatusInternalServerError {
					log.Error(ctx, "handler error", "code", appErr.Code, "message", appErr.Message)
				} else {
					log.Info(ctx, "handler error", "code", appErr.Code, "message", appErr.Message)
				}
				return appErr
			}

			log.Error(ctx, "unexpected handler error", "err", err)
			return errs.Newf(errs.Internal, "internal error")
		}

		return h
	}

	return m
}
