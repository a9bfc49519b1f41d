package services

import (
	"errors"

	"chatsync/internal/storage"
)

var (
	ErrNotFound           = storage.ErrNotFound
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrForbidden          = errors.New("not a participant of this conversation")
	ErrEmptyMessage       = errors.New("message must not be empty")
	ErrInvalidPeer        = errors.New("cannot start a conversation with yourself")
	ErrInvalidRequest     = errors.New("username and password are required")
)
