package common

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/labring/testreport/pkg/errors"
)

// ParseJSONBodyReturn decodes the request body into v, answering 400 with an
// error envelope when the body is not valid JSON for v.
func ParseJSONBodyReturn(w http.ResponseWriter, r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(v)
	if err != nil {
		apierrors.WriteErrorResponse(w, http.StatusBadRequest, apierrors.NewIncorrectRequestError("Invalid JSON body: %v", err))
		return err
	}
	return nil
}
