package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatsync/internal/models"
	"chatsync/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const defaultRole = "student"

type UserService struct {
	repo   storage.Repository
	tokens *TokenIssuer
	// cost is lowered in tests; bcrypt.DefaultCost otherwise
	cost int
}

func NewUserService(repo storage.Repository, tokens *TokenIssuer) *UserService {
	return &UserService{repo: repo, tokens: tokens, cost: bcrypt.DefaultCost}
}

func (s *UserService) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return nil, ErrInvalidRequest
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = defaultRole
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Name:         req.Name,
		Avatar:       req.Avatar,
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	user, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(user.ID, user.Username)
}

// Refresh trades a valid refresh token for a new token pair.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetUser(ctx, claims.UserID); err != nil {
		return nil, ErrInvalidToken
	}
	return s.issue(claims.UserID, claims.Username)
}

func (s *UserService) issue(userID, username string) (*models.AuthResponse, error) {
	access, err := s.tokens.GenerateJWT(userID, username)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(userID, username)
	if err != nil {
		return nil, err
	}
	return &models.AuthResponse{
		Token:        access,
		RefreshToken: refresh,
		UserID:       userID,
		Username:     username,
	}, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*models.User, error) {
	return s.repo.GetUser(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.repo.ListUsers(ctx)
}

// SetAvatar points the user's avatar at an uploaded file.
func (s *UserService) SetAvatar(ctx context.Context, userID, url string) (*models.User, error) {
	if err := s.repo.UpdateAvatar(ctx, userID, url); err != nil {
		return nil, err
	}
	return s.repo.GetUser(ctx, userID)
}
