package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// getPathAccountID extracts the account id path parameter.
func getPathAccountID(r *http.Request) (string, error) {
	accountID := strings.TrimSpace(chi.URLParam(r, "accountID"))
	if accountID == "" {
		return "", fmt.Errorf("%w: account id is required", ErrInvalidRequest)
	}
	return accountID, nil
}
