package authapi

import "duo/cmd/identity"

func toUserResponse(u identity.User, p identity.Presence) userResponse {
	return userResponse{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		CreatedAt:  u.CreatedAt,
		LastActive: u.LastActive,
		Presence:   p,
	}
}

// loginKey is the throttle key of a username, matching how usernames are compared.
func loginKey(username string) string {
	return identity.NormalizeUsername(username)
}
