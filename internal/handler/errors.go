package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"microhub-redistribution-api/internal/clock"
	"microhub-redistribution-api/internal/model"
	"microhub-redistribution-api/pkg/apierror"
	"microhub-redistribution-api/pkg/response"

	"github.com/rs/zerolog"
)

// maxBodyBytes caps request bodies; inline inventory batches are the largest payload.
const maxBodyBytes = 4 << 20

// apiError maps engine errors onto HTTP errors. Unknown errors pass through and are
// reported as internal errors by response.Error.
func apiError(err error) error {
	var apiErr *apierror.Error
	switch {
	case errors.As(err, &apiErr):
		return err
	case errors.Is(err, model.ErrRunNotFound):
		return apierror.NotFound("Run not found").WithCause(err)
	case errors.Is(err, model.ErrRecordNotFound):
		return apierror.NotFound(err.Error()).WithCause(err)
	case errors.Is(err, model.ErrEntryNotQueued):
		return apierror.NotFound("SKU is not in the retry queue").WithCause(err)
	case errors.Is(err, model.ErrRecordResolved):
		return apierror.Conflict("Record is already routed to a buyer").WithCause(err)
	case errors.Is(err, model.ErrInvalidEscalation):
		return apierror.BadRequest(err.Error()).WithCause(err)
	case errors.Is(err, model.ErrNoSnapshotSource):
		return apierror.UnprocessableEntity("No inventory snapshot source is configured; send inventory in the request body").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apierror.ServiceUnavailable("Request timed out").WithCause(err)
	}
	return err
}

// writeError logs unexpected failures and writes the mapped error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := apiError(err)
	var apiErr *apierror.Error
	if !errors.As(mapped, &apiErr) || apiErr.StatusCode >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	response.Error(w, mapped)
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apierror.BadRequest("invalid JSON body")
	}
	return nil
}

// parseDay parses an optional YYYY-MM-DD value, falling back to def.
func parseDay(field, value string, def time.Time) (time.Time, error) {
	if value == "" {
		return def, nil
	}
	d, err := clock.ParseDate(value)
	if err != nil {
		return time.Time{}, apierror.ValidationError("invalid date", apierror.FieldError{
			Field:   field,
			Message: "must be YYYY-MM-DD",
		})
	}
	return d, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierror.ValidationError("invalid query parameter", apierror.FieldError{
			Field:   name,
			Message: "must be an integer",
		})
	}
	return n, nil
}
