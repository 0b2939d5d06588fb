package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"roomchat/internal/apperr"
	"roomchat/internal/auth"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

// Store is the persistence the service needs; *Repository implements it.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)
}

// PresenceReader reports which users currently hold a live connection.
type PresenceReader interface {
	Online(ctx context.Context) ([]int64, error)
}

type Service struct {
	repo      Store
	presence  PresenceReader
	jwtSecret string
	validate  *validator.Validate
	log       *slog.Logger
}

type MyJWTClaims struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

func NewService(repo Store, presence PresenceReader, secret string, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		presence:  presence,
		jwtSecret: secret,
		validate:  validator.New(),
		log:       log,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Password: string(hashedPwd),
	}
	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", u.ID, "is_admin", u.IsAdmin)
	return u, nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrUnauthenticated
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, apperr.ErrUnauthenticated
	}

	ss, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		IsAdmin:     u.IsAdmin,
	}, nil
}

// IssueToken signs an HS256 token carrying the user's id and admin flag.
func (s *Service) IssueToken(u *User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       u.ID,
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "roomchat",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateToken(tokenString string) (auth.Identity, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil || !token.Valid {
		return auth.Identity{}, fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
	}

	return auth.Identity{ID: claims.ID, IsAdmin: claims.IsAdmin}, nil
}

func (s *Service) Me(ctx context.Context, id auth.Identity) (*User, error) {
	return s.repo.GetUserByID(ctx, id.ID)
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}

// ListOnline returns the directory with each entry's presence flag.
func (s *Service) ListOnline(ctx context.Context) ([]OnlineUser, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	var online []int64
	if s.presence != nil {
		online, err = s.presence.Online(ctx)
		if err != nil {
			// presence is advisory; show everyone offline rather than fail
			s.log.Warn("presence lookup failed", "error", err)
		}
	}
	return lo.Map(users, func(u User, _ int) OnlineUser {
		return OnlineUser{ID: u.ID, Username: u.Username, IsOnline: lo.Contains(online, u.ID)}
	}), nil
}
