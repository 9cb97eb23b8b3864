package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/models"
)

// StudentService manages student records and their card bindings.
type StudentService struct {
	db *gorm.DB
}

// NewStudentService constructs a StudentService.
func NewStudentService(db *gorm.DB) (*StudentService, error) {
	if db == nil {
		return nil, errors.New("student service: db is required")
	}
	return &StudentService{db: db}, nil
}

// StudentInput carries the mutable fields of a student record.
type StudentInput struct {
	StudentNumber       string
	FirstName           string
	LastName            string
	Grade               string
	Email               string
	ParentEmail         string
	ParentPhone         string
	LowBalanceThreshold *decimal.Decimal
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, input StudentInput) (*models.Student, error) {
	ctx = ensureContext(ctx)

	number := strings.TrimSpace(input.StudentNumber)
	if number == "" {
		return nil, errors.New("student service: student number is required")
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, errors.New("student service: first and last name are required")
	}

	student := models.Student{
		StudentNumber: number,
		FirstName:     strings.TrimSpace(input.FirstName),
		LastName:      strings.TrimSpace(input.LastName),
		Grade:         strings.TrimSpace(input.Grade),
		Email:         strings.TrimSpace(input.Email),
		ParentEmail:   strings.TrimSpace(input.ParentEmail),
		ParentPhone:   strings.TrimSpace(input.ParentPhone),
	}
	if input.LowBalanceThreshold != nil {
		student.LowBalanceThreshold = *input.LowBalanceThreshold
	}

	if err := s.db.WithContext(ctx).Create(&student).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("student service: student number %s already exists", number)
		}
		return nil, fmt.Errorf("student service: create: %w", err)
	}
	return &student, nil
}

// Get returns a student with their cards preloaded.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	ctx = ensureContext(ctx)

	var student models.Student
	err := s.db.WithContext(ctx).Preload("Cards").First(&student, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("student service: student %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("student service: get %s: %w", id, err)
	}
	return &student, nil
}

// GetByNumber looks a student up by their student number.
func (s *StudentService) GetByNumber(ctx context.Context, number string) (*models.Student, error) {
	ctx = ensureContext(ctx)

	var student models.Student
	err := s.db.WithContext(ctx).Preload("Cards").First(&student, "student_number = ?", number).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("student service: student number %s not found", number)
	}
	if err != nil {
		return nil, fmt.Errorf("student service: get by number %s: %w", number, err)
	}
	return &student, nil
}

// StudentListOptions controls pagination and search.
type StudentListOptions struct {
	Page     int
	PageSize int
	Search   string
	Grade    string
}

// List returns students ordered by last name, with optional name/number
// search and grade filter.
func (s *StudentService) List(ctx context.Context, opts StudentListOptions) ([]models.Student, int64, error) {
	ctx = ensureContext(ctx)

	page := opts.Page
	if page <= 0 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}

	query := s.db.WithContext(ctx).Model(&models.Student{})
	if search := strings.TrimSpace(opts.Search); search != "" {
		like := "%" + search + "%"
		query = query.Where(
			"first_name LIKE ? OR last_name LIKE ? OR student_number LIKE ?",
			like, like, like,
		)
	}
	if opts.Grade != "" {
		query = query.Where("grade = ?", opts.Grade)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("student service: count: %w", err)
	}

	var students []models.Student
	err := query.
		Preload("Cards").
		Order("last_name ASC, first_name ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&students).Error
	if err != nil {
		return nil, 0, fmt.Errorf("student service: list: %w", err)
	}

	return students, total, nil
}

// Update mutates a student record. Blank fields are left unchanged; the
// student number is immutable.
func (s *StudentService) Update(ctx context.Context, id string, input StudentInput) (*models.Student, error) {
	ctx = ensureContext(ctx)

	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if v := strings.TrimSpace(input.FirstName); v != "" {
		updates["first_name"] = v
	}
	if v := strings.TrimSpace(input.LastName); v != "" {
		updates["last_name"] = v
	}
	if v := strings.TrimSpace(input.Grade); v != "" {
		updates["grade"] = v
	}
	if v := strings.TrimSpace(input.Email); v != "" {
		updates["email"] = v
	}
	if v := strings.TrimSpace(input.ParentEmail); v != "" {
		updates["parent_email"] = v
	}
	if v := strings.TrimSpace(input.ParentPhone); v != "" {
		updates["parent_phone"] = v
	}
	if input.LowBalanceThreshold != nil {
		updates["low_balance_threshold"] = *input.LowBalanceThreshold
	}

	if len(updates) == 0 {
		return student, nil
	}
	if err := s.db.WithContext(ctx).Model(student).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("student service: update %s: %w", id, err)
	}
	return student, nil
}

// Delete removes a student. Cards bound to the student are unbound, not
// deleted; the physical card may still carry a balance.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Card{}).
			Where("student_id = ?", id).
			Update("student_id", nil).Error; err != nil {
			return fmt.Errorf("student service: unbind cards: %w", err)
		}

		result := tx.Delete(&models.Student{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("student service: delete %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("student service: student %s not found", id)
		}
		return nil
	})
}

// LowBalanceStudents returns students whose active card balance is below
// their configured threshold, for dashboard alerts.
func (s *StudentService) LowBalanceStudents(ctx context.Context) ([]models.Student, error) {
	ctx = ensureContext(ctx)

	var students []models.Student
	err := s.db.WithContext(ctx).
		Joins("JOIN cards ON cards.student_id = students.id AND cards.status = ?", models.CardActive).
		Where("cards.balance < students.low_balance_threshold").
		Preload("Cards").
		Find(&students).Error
	if err != nil {
		return nil, fmt.Errorf("student service: low balance query: %w", err)
	}
	return students, nil
}
