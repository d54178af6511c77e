package orchestrator

import (
	"errors"
	"net/http"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/model"
)

// writeErr maps a structured internal error onto an HTTP status, per
// spec.md §6's error-kind-to-status mapping.
func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var ie *ierrors.Error
	if errors.As(err, &ie) {
		switch ie.Kind {
		case ierrors.KindValidation, ierrors.KindParseFailure, ierrors.KindUnknownTarget, ierrors.KindCompileConflict:
			status = http.StatusBadRequest
		case ierrors.KindNotFound:
			status = http.StatusNotFound
		case ierrors.KindConflict:
			status = http.StatusConflict
		case ierrors.KindUnavailable, ierrors.KindStoreUnavailable, ierrors.KindTransportUnavailable:
			status = http.StatusServiceUnavailable
		case ierrors.KindTimeout, ierrors.KindApplyTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	http.Error(w, err.Error(), status)
}

func statusFromQuery(s string) model.IntentStatus {
	return model.IntentStatus(s)
}

func planeFromQuery(s string) model.Plane {
	return model.Plane(s)
}
