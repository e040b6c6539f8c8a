package api

import "time"

// SignupRequest is the request to create an account.
type SignupRequest struct {
	Username string `json:"username" validate:"required,max=80"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest is the request to obtain a credential.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SignupResponse is returned after a successful signup.
type SignupResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// CreateRoomRequest is the API request to create a room.
type CreateRoomRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// RoomResponse is the API response for a created room.
type RoomResponse struct {
	Name string `json:"name"`
}

// DMRoomResponse names the DM room shared with another user.
type DMRoomResponse struct {
	Room string `json:"room"`
}

// MessageResponse is the API response for a stored message.
type MessageResponse struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Room      string    `json:"room"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
