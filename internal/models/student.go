package models

import "github.com/shopspring/decimal"

// Student represents a student enrolled in the cafeteria programme.
type Student struct {
	BaseModel

	StudentNumber string `gorm:"uniqueIndex;not null" json:"student_number"`
	FirstName     string `gorm:"not null" json:"first_name"`
	LastName      string `gorm:"not null" json:"last_name"`
	Grade         string `json:"grade"`
	Email         string `json:"email"`
	ParentEmail   string `json:"parent_email"`
	ParentPhone   string `json:"parent_phone"`

	LowBalanceThreshold decimal.Decimal `gorm:"type:decimal(10,2);default:10.00" json:"low_balance_threshold"`

	Cards        []Card        `gorm:"foreignKey:StudentID" json:"cards,omitempty"`
	Transactions []Transaction `gorm:"foreignKey:StudentID" json:"-"`
}

// FullName returns the display name used by the dashboard.
func (s *Student) FullName() string {
	return s.FirstName + " " + s.LastName
}

// ActiveCard returns the first active card bound to the student, if any.
func (s *Student) ActiveCard() *Card {
	for i := range s.Cards {
		if s.Cards[i].Status == CardActive {
			return &s.Cards[i]
		}
	}
	return nil
}
