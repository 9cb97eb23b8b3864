package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/auth"
	"github.com/tkarlsen/mealcard/internal/models"
	"github.com/tkarlsen/mealcard/pkg/crypto"
)

// ErrInvalidCredentials is returned for a failed login without revealing
// whether the username exists.
var ErrInvalidCredentials = errors.New("invalid username or password")

// OperatorService manages dashboard accounts and authentication.
type OperatorService struct {
	db  *gorm.DB
	jwt *auth.JWTService
	now func() time.Time
}

// NewOperatorService constructs an OperatorService.
func NewOperatorService(db *gorm.DB, jwt *auth.JWTService) (*OperatorService, error) {
	if db == nil {
		return nil, errors.New("operator service: db is required")
	}
	if jwt == nil {
		return nil, errors.New("operator service: jwt service is required")
	}
	return &OperatorService{db: db, jwt: jwt, now: time.Now}, nil
}

// OperatorInput carries the fields of a new operator account.
type OperatorInput struct {
	Username string
	Email    string
	Password string
	Role     models.OperatorRole
}

// Create registers a new operator account.
func (s *OperatorService) Create(ctx context.Context, input OperatorInput) (*models.Operator, error) {
	ctx = ensureContext(ctx)

	username := strings.TrimSpace(strings.ToLower(input.Username))
	if username == "" {
		return nil, errors.New("operator service: username is required")
	}
	if len(input.Password) < 8 {
		return nil, errors.New("operator service: password must be at least 8 characters")
	}

	role := input.Role
	if role == "" {
		role = models.RoleOperator
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("operator service: hash password: %w", err)
	}

	operator := models.Operator{
		Username:     username,
		Email:        strings.TrimSpace(strings.ToLower(input.Email)),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}

	if err := s.db.WithContext(ctx).Create(&operator).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("operator service: username or email already taken")
		}
		return nil, fmt.Errorf("operator service: create: %w", err)
	}
	return &operator, nil
}

// LoginResult carries a successful authentication.
type LoginResult struct {
	Token    string           `json:"token"`
	Operator *models.Operator `json:"operator"`
}

// Login verifies credentials and issues an access token.
func (s *OperatorService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	ctx = ensureContext(ctx)

	username = strings.TrimSpace(strings.ToLower(username))
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var operator models.Operator
	err := s.db.WithContext(ctx).First(&operator, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("operator service: login lookup: %w", err)
	}

	if !operator.IsActive {
		return nil, ErrInvalidCredentials
	}
	if !crypto.VerifyPassword(operator.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(operator.ID, operator.Role)
	if err != nil {
		return nil, fmt.Errorf("operator service: issue token: %w", err)
	}

	now := s.now()
	operator.LastLoginAt = &now
	if err := s.db.WithContext(ctx).Model(&operator).Update("last_login_at", &now).Error; err != nil {
		return nil, fmt.Errorf("operator service: record login: %w", err)
	}

	return &LoginResult{Token: token, Operator: &operator}, nil
}

// Get returns an operator by id.
func (s *OperatorService) Get(ctx context.Context, id string) (*models.Operator, error) {
	ctx = ensureContext(ctx)

	var operator models.Operator
	err := s.db.WithContext(ctx).First(&operator, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("operator service: operator %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("operator service: get %s: %w", id, err)
	}
	return &operator, nil
}

// List returns all operator accounts.
func (s *OperatorService) List(ctx context.Context) ([]models.Operator, error) {
	ctx = ensureContext(ctx)

	var operators []models.Operator
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&operators).Error; err != nil {
		return nil, fmt.Errorf("operator service: list: %w", err)
	}
	return operators, nil
}

// ChangePassword verifies the current password before replacing it.
func (s *OperatorService) ChangePassword(ctx context.Context, id, current, next string) error {
	ctx = ensureContext(ctx)

	if len(next) < 8 {
		return errors.New("operator service: password must be at least 8 characters")
	}

	operator, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !crypto.VerifyPassword(operator.PasswordHash, current) {
		return ErrInvalidCredentials
	}

	hash, err := crypto.HashPassword(next)
	if err != nil {
		return fmt.Errorf("operator service: hash password: %w", err)
	}
	return s.db.WithContext(ctx).Model(operator).Update("password_hash", hash).Error
}

// SetActive enables or disables an account.
func (s *OperatorService) SetActive(ctx context.Context, id string, active bool) error {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("operator service: set active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("operator service: operator %s not found", id)
	}
	return nil
}
