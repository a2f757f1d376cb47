package api

import (
	"context"
	"net/http"
)

type updateUsernameRequest struct {
	NewUsername string `json:"new_username"`
}

type updateDisplayNameRequest struct {
	DisplayName string `json:"display_name"`
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) CurrentUser(ctx context.Context) (UserInfo, error) {
	return getJSON[UserInfo](ctx, a, "/auth/me")
}

func (a *API) UpdateUsername(ctx context.Context, newUsername string) (UserInfo, error) {
	return putJSON[UserInfo](ctx, a, "/auth/update-username", updateUsernameRequest{NewUsername: newUsername})
}

func (a *API) UpdateDisplayName(ctx context.Context, displayName string) (UserInfo, error) {
	return putJSON[UserInfo](ctx, a, "/auth/update-display-name", updateDisplayNameRequest{DisplayName: displayName})
}

func (a *API) UpdatePassword(ctx context.Context, currentPassword, newPassword string) error {
	_, err := a.session.Do(ctx, http.MethodPut, "/auth/update-password", updatePasswordRequest{
		CurrentPassword: currentPassword,
		NewPassword:     newPassword,
	})
	return err
}
