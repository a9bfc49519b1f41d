package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar,omitempty"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// AsParticipant returns the public view of the user shown to conversation peers
func (u *User) AsParticipant() Participant {
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return Participant{ID: u.ID, Name: name, Avatar: u.Avatar, Role: u.Role}
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
}

type UserListItem struct {
	Participant
	Username string `json:"username"`
	Status   string `json:"status"`
}
