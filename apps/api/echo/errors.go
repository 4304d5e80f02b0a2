package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/tigrofin/pmms/core"
	"github.com/tigrofin/pmms/core/contract"
	"github.com/tigrofin/pmms/core/customer"
	"github.com/tigrofin/pmms/core/item"
	"github.com/tigrofin/pmms/core/limit"
	"github.com/tigrofin/pmms/core/measurement"
	"github.com/tigrofin/pmms/core/notification"
	"github.com/tigrofin/pmms/core/organization"
	"github.com/tigrofin/pmms/core/stack"
	"github.com/tigrofin/pmms/core/staging"
	"github.com/tigrofin/pmms/core/user"
)

var (
	errUnauthorized         = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errAuthenticationFailed = echo.NewHTTPError(http.StatusBadRequest, "authentication failed")
	errAccountDeactivated   = echo.NewHTTPError(http.StatusForbidden, "account deactivated")
	errAccountNotApproved   = echo.NewHTTPError(http.StatusForbidden, "account is not approved yet")
	errRefreshExpired       = echo.NewHTTPError(http.StatusForbidden, "refresh has expired")
	errHttpForbidden        = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errHttpNotFound         = echo.NewHTTPError(http.StatusNotFound, "not found")

	notFoundErrs = []error{
		user.ErrNotFound,
		organization.ErrNotFound,
		customer.ErrNotFound,
		customer.ErrConnectionNotFound,
		contract.ErrNotFound,
		stack.ErrNotFound,
		stack.ErrRequestNotFound,
		item.ErrNotFound,
		limit.ErrNotFound,
		measurement.ErrNotFound,
		staging.ErrNotFound,
		notification.ErrNotFound,
	}

	// conflicts detected by the storage layer, past the service checks
	conflictErrs = []error{
		user.ErrEmailExists,
		organization.ErrBusinessNumberExists,
		customer.ErrConnectionExists,
		stack.ErrNameExists,
		stack.ErrSiteCodeExists,
		item.ErrKeyExists,
		measurement.ErrDuplicate,
		staging.ErrDuplicate,
	}
)

func isOneOf(err error, errs []error) bool {
	for _, e := range errs {
		if err == e {
			return true
		}
	}
	return false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if len(origErr.Fields) > 0 {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		case *core.PermissionError:
			code = http.StatusForbidden
			message = origErr.Error()
		default:
			switch {
			case isOneOf(cause, notFoundErrs):
				code = http.StatusNotFound
				message = cause.Error()
			case isOneOf(cause, conflictErrs):
				code = http.StatusConflict
				message = cause.Error()
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				if usr, uErr := getContextUser(ctx); uErr == nil {
					logger.Error(msg, errors.Wrap(err, msg), usr)
				} else {
					logger.Error(msg, errors.Wrap(err, msg))
				}

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
