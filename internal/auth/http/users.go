package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/watchlist/internal/auth/domain"
	"github.com/aussiebroadwan/watchlist/internal/auth/service"
	"github.com/aussiebroadwan/watchlist/pkg/authsdk"
	"github.com/aussiebroadwan/watchlist/pkg/httpx"
)

// UsersHandler serves the admin view of the user directory.
type UsersHandler struct {
	UserService *service.UserService
}

// HandleList godoc
//
//	@Summary		List users
//	@Description	Every user that has logged in, most recent login first. Requires admin.
//	@Tags			Users
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	authsdk.UsersResponse	"users"
//	@Failure		401	{object}	authsdk.APIError		"invalid_token"
//	@Failure		403	{object}	authsdk.APIError		"insufficient_scope"
//	@Router			/v1/users [get].
func (h *UsersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, "list users", err)
		return
	}

	out := authsdk.UsersResponse{Users: make([]authsdk.UserResponse, 0, len(users))}
	for _, u := range users {
		out.Users = append(out.Users, toUser(u))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleSetAdmin godoc
//
//	@Summary		Grant or revoke admin
//	@Description	Changes take effect on the user's next request. The last admin cannot be demoted. Requires admin.
//	@Tags			Users
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			subject	path		string					true	"Provider subject"
//	@Param			request	body		authsdk.SetAdminRequest	true	"New admin flag"
//	@Success		200		{object}	authsdk.UserResponse	"updated user"
//	@Failure		400		{object}	authsdk.APIError		"invalid_request"
//	@Failure		403		{object}	authsdk.APIError		"insufficient_scope"
//	@Failure		404		{object}	authsdk.APIError		"not_found"
//	@Failure		409		{object}	authsdk.APIError		"last_admin"
//	@Router			/v1/users/{subject}/admin [post].
func (h *UsersHandler) HandleSetAdmin(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.PathValue("subject"))
	if subject == "" {
		authsdk.ErrInvalidRequest.WithDescription("subject is required").WriteError(w)
		return
	}

	var req authsdk.SetAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		authsdk.ErrInvalidRequest.WithDescription("invalid JSON in request body").WriteError(w)
		return
	}

	actor, _ := httpx.PrincipalFromContext(r.Context())
	u, err := h.UserService.SetAdmin(r.Context(), fromPrincipal(actor), subject, req.Admin)
	if err != nil {
		writeServiceError(w, r, "set admin", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUser(u))
}

func toUser(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:            u.ID,
		Subject:       u.Subject,
		Email:         u.Email,
		GivenName:     u.GivenName,
		FamilyName:    u.FamilyName,
		IsAdmin:       u.IsAdmin,
		ProviderAdmin: u.ProviderAdmin,
		FirstSeenAt:   u.FirstSeenAt,
		LastLoginAt:   u.LastLoginAt,
	}
}
