package launch

import (
	"errors"
	"net/http"

	apierrors "github.com/labring/testreport/pkg/errors"
	"github.com/labring/testreport/pkg/store"
)

// LaunchHandler handles launch and test item operations
type LaunchHandler struct {
	store *store.Store
}

// NewLaunchHandler creates a new launch handler
func NewLaunchHandler(s *store.Store) *LaunchHandler {
	return &LaunchHandler{store: s}
}

// writeStoreError answers with the envelope carried by err
func writeStoreError(w http.ResponseWriter, err error) {
	var env *apierrors.ErrorEnvelope
	if errors.As(err, &env) {
		apierrors.WriteError(w, env)
		return
	}
	apierrors.WriteError(w, apierrors.NewUnclassifiedError("%v", err))
}
