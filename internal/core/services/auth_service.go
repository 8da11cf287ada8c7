package services

import (
	"errors"
	"time"

	"peerboard/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// AuthService issues and checks bearer tokens for the local control API.
type AuthService interface {
	Enabled() bool
	GenerateToken(participantID domain.ParticipantID, client string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Client        string               `json:"client"`
	jwt.RegisteredClaims
}

type authService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAuthService returns a service that accepts every request when
// jwtSecret is empty.
func NewAuthService(jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *authService) Enabled() bool {
	return len(s.jwtSecret) > 0
}

func (s *authService) GenerateToken(participantID domain.ParticipantID, client string) (string, error) {
	if !s.Enabled() {
		return "", ErrInvalidToken
	}
	now := time.Now()
	claims := &Claims{
		ParticipantID: participantID,
		Client:        client,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "peerboard",
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
