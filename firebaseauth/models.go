package firebaseauth

import "time"

// UserSpec describes a user to create. At least one of Email and
// PhoneNumber must be set; PhoneNumber uses E.164 format. An empty UID
// lets Firebase generate one.
type UserSpec struct {
	UID           string `json:"uid,omitempty"`
	Email         string `json:"email,omitempty"`
	Password      string `json:"password,omitempty"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
	PhotoURL      string `json:"photo_url,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Disabled      bool   `json:"disabled,omitempty"`
}

// UserUpdate carries the mutable user fields. Nil pointers leave the
// current value untouched.
type UserUpdate struct {
	Email         *string `json:"email,omitempty"`
	Password      *string `json:"password,omitempty"`
	PhoneNumber   *string `json:"phone_number,omitempty"`
	DisplayName   *string `json:"display_name,omitempty"`
	PhotoURL      *string `json:"photo_url,omitempty"`
	EmailVerified *bool   `json:"email_verified,omitempty"`
	Disabled      *bool   `json:"disabled,omitempty"`
}

// UserInfo describes an existing Firebase user.
type UserInfo struct {
	UID           string         `json:"uid"`
	Email         string         `json:"email,omitempty"`
	PhoneNumber   string         `json:"phone_number,omitempty"`
	DisplayName   string         `json:"display_name,omitempty"`
	PhotoURL      string         `json:"photo_url,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	Disabled      bool           `json:"disabled"`
	CustomClaims  map[string]any `json:"custom_claims,omitempty"`
	CreateTime    time.Time      `json:"create_time,omitempty"`
	LastLoginTime time.Time      `json:"last_login_time,omitempty"`
}

// DeleteUsersResult reports the outcome of a bulk user deletion.
type DeleteUsersResult struct {
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	Errors       []DeleteUserError `json:"errors,omitempty"`
}

// DeleteUserError reports one failed deletion from a bulk request.
type DeleteUserError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Token carries the verified contents of a Firebase ID token.
type Token struct {
	UID      string         `json:"uid"`
	Issuer   string         `json:"issuer,omitempty"`
	Audience string         `json:"audience,omitempty"`
	IssuedAt time.Time      `json:"issued_at,omitempty"`
	Expires  time.Time      `json:"expires,omitempty"`
	Claims   map[string]any `json:"claims,omitempty"`
}
