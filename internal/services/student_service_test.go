package services

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/database/testutil"
	"github.com/tkarlsen/mealcard/internal/models"
)

func newStudentService(t *testing.T) (*StudentService, *gorm.DB) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	svc, err := NewStudentService(db)
	require.NoError(t, err)
	return svc, db
}

func TestStudentCreate(t *testing.T) {
	svc, _ := newStudentService(t)
	ctx := context.Background()

	student, err := svc.Create(ctx, StudentInput{
		StudentNumber: " S10042 ",
		FirstName:     "Nora",
		LastName:      "Berg",
		Grade:         "7B",
	})
	require.NoError(t, err)
	assert.Equal(t, "S10042", student.StudentNumber)
	assert.Equal(t, "Nora Berg", student.FullName())

	_, err = svc.Create(ctx, StudentInput{
		StudentNumber: "S10042",
		FirstName:     "Other",
		LastName:      "Kid",
	})
	assert.Error(t, err, "duplicate student number")

	_, err = svc.Create(ctx, StudentInput{StudentNumber: "S2", FirstName: "", LastName: "Berg"})
	assert.Error(t, err, "missing first name")
}

func TestStudentListSearchAndGrade(t *testing.T) {
	svc, _ := newStudentService(t)
	ctx := context.Background()

	for _, in := range []StudentInput{
		{StudentNumber: "S1", FirstName: "Nora", LastName: "Berg", Grade: "7B"},
		{StudentNumber: "S2", FirstName: "Emil", LastName: "Hansen", Grade: "7B"},
		{StudentNumber: "S3", FirstName: "Ida", LastName: "Aas", Grade: "8A"},
	} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	students, total, err := svc.List(ctx, StudentListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, students, 3)
	assert.Equal(t, "Aas", students[0].LastName, "ordered by last name")

	students, total, err = svc.List(ctx, StudentListOptions{Grade: "7B"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	students, total, err = svc.List(ctx, StudentListOptions{Search: "Nora"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	assert.Equal(t, "S1", students[0].StudentNumber)

	_, total, err = svc.List(ctx, StudentListOptions{Search: "S3"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total, "search matches student numbers too")
}

func TestStudentUpdatePreservesBlankFields(t *testing.T) {
	svc, _ := newStudentService(t)
	ctx := context.Background()

	student, err := svc.Create(ctx, StudentInput{
		StudentNumber: "S1",
		FirstName:     "Nora",
		LastName:      "Berg",
		Grade:         "7B",
	})
	require.NoError(t, err)

	threshold := decimal.RequireFromString("25.00")
	_, err = svc.Update(ctx, student.ID, StudentInput{
		Grade:               "8B",
		LowBalanceThreshold: &threshold,
	})
	require.NoError(t, err)

	reloaded, err := svc.Get(ctx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nora", reloaded.FirstName, "blank fields stay untouched")
	assert.Equal(t, "8B", reloaded.Grade)
	assert.True(t, reloaded.LowBalanceThreshold.Equal(threshold))
}

func TestStudentDeleteUnbindsCards(t *testing.T) {
	svc, db := newStudentService(t)
	ctx := context.Background()

	student, err := svc.Create(ctx, StudentInput{
		StudentNumber: "S1",
		FirstName:     "Nora",
		LastName:      "Berg",
	})
	require.NoError(t, err)

	card := models.Card{
		CardUID:   "04AABBCC",
		StudentID: &student.ID,
		Balance:   decimal.RequireFromString("12.00"),
		Status:    models.CardActive,
		IssuedAt:  time.Now(),
	}
	require.NoError(t, db.Create(&card).Error)

	require.NoError(t, svc.Delete(ctx, student.ID))

	// The card record survives with its balance; only the binding is gone.
	var reloaded models.Card
	require.NoError(t, db.First(&reloaded, "card_uid = ?", "04AABBCC").Error)
	assert.Nil(t, reloaded.StudentID)
	assert.True(t, reloaded.Balance.Equal(decimal.RequireFromString("12.00")))

	assert.Error(t, svc.Delete(ctx, student.ID), "second delete finds nothing")
}

func TestLowBalanceStudents(t *testing.T) {
	svc, db := newStudentService(t)
	ctx := context.Background()

	low, err := svc.Create(ctx, StudentInput{
		StudentNumber: "S1", FirstName: "Nora", LastName: "Berg",
	})
	require.NoError(t, err)
	fine, err := svc.Create(ctx, StudentInput{
		StudentNumber: "S2", FirstName: "Emil", LastName: "Hansen",
	})
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.Card{
		CardUID: "04LOW", StudentID: &low.ID,
		Balance: decimal.RequireFromString("2.00"),
		Status:  models.CardActive, IssuedAt: time.Now(),
	}).Error)
	require.NoError(t, db.Create(&models.Card{
		CardUID: "04FINE", StudentID: &fine.ID,
		Balance: decimal.RequireFromString("50.00"),
		Status:  models.CardActive, IssuedAt: time.Now(),
	}).Error)

	students, err := svc.LowBalanceStudents(ctx)
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "S1", students[0].StudentNumber)
}
