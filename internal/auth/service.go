package auth

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/haulpoints/backend/internal/actor"
	"github.com/haulpoints/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned on a failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrImpersonationDenied is returned when the caller may not act as the
// requested account.
var ErrImpersonationDenied = errors.New("not authorized to impersonate this account")

type Service interface {
	Register(ctx context.Context, email, password, name, role string) (*models.Account, error)
	Login(ctx context.Context, email, password string) (string, error)
	// ValidateToken decodes a bearer token into the acting account, its
	// role claim, and the impersonation marker recorded when an admin or
	// sponsor started acting as a driver.
	ValidateToken(ctx context.Context, token string) (uuid.UUID, models.Role, actor.ImpersonationContext, error)
	// StartImpersonation issues a driver-scoped token stamped with the
	// original account as the impersonation marker.
	StartImpersonation(ctx context.Context, originalAccountID, targetDriverID uuid.UUID) (string, error)
}

type service struct {
	repo   *Repository
	secret []byte
}

func NewService(repo *Repository) *service {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "supersecretmvp"
	}
	return &service{repo: repo, secret: []byte(secret)}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`
	Imp         bool   `json:"imp,omitempty"`
	OrigAdmin   string `json:"orig_admin,omitempty"`
	OrigSponsor string `json:"orig_sponsor,omitempty"`
}

func (s *service) Register(ctx context.Context, email, password, name, role string) (*models.Account, error) {
	parsed := models.ParseRole(role)
	switch parsed {
	case models.RoleDriver, models.RoleSponsor, models.RoleAdmin:
	default:
		return nil, errors.New("invalid role")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc, err := s.repo.Create(ctx, email, string(hash), name, parsed)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return acc, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	acc, hash, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if acc == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.ID, acc.Role, claims{})
}

func (s *service) StartImpersonation(ctx context.Context, originalAccountID, targetDriverID uuid.UUID) (string, error) {
	origRole, err := s.repo.RoleOf(ctx, originalAccountID)
	if err != nil {
		return "", err
	}
	targetRole, err := s.repo.RoleOf(ctx, targetDriverID)
	if err != nil {
		return "", err
	}
	if targetRole != models.RoleDriver {
		return "", ErrImpersonationDenied
	}

	marked := claims{Imp: true}
	switch origRole {
	case models.RoleAdmin:
		marked.OrigAdmin = originalAccountID.String()
	case models.RoleSponsor:
		marked.OrigSponsor = originalAccountID.String()
	default:
		return "", ErrImpersonationDenied
	}
	return s.issueToken(targetDriverID, models.RoleDriver, marked)
}

func (s *service) issueToken(accountID uuid.UUID, role models.Role, extra claims) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role:        string(role),
		Imp:         extra.Imp,
		OrigAdmin:   extra.OrigAdmin,
		OrigSponsor: extra.OrigSponsor,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (uuid.UUID, models.Role, actor.ImpersonationContext, error) {
	var imp actor.ImpersonationContext
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, models.RoleUnknown, imp, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, models.RoleUnknown, imp, errors.New("invalid token")
	}
	accountID, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, models.RoleUnknown, imp, err
	}

	if c.Imp {
		imp.IsImpersonating = true
		if id, err := uuid.Parse(c.OrigAdmin); err == nil {
			imp.OriginalAdminAccountID = &id
		}
		if id, err := uuid.Parse(c.OrigSponsor); err == nil {
			imp.OriginalSponsorAccountID = &id
		}
	}
	return accountID, models.ParseRole(c.Role), imp, nil
}
