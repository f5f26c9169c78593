package inmemdb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/calsync/core/consultation"
	"github.com/trezcool/calsync/core/student"
)

func newNC(key string) consultation.NewConsultation {
	return consultation.NewConsultation{
		StudentID:       "s1",
		ScheduledAt:     time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC),
		Duration:        30,
		ExternalEventID: key,
	}
}

func TestConsultationRepository_ConcurrentCreate(t *testing.T) {
	db, _ := Open()
	repo := NewConsultationRepository(db)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, dups := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Create(context.Background(), newNC("key-1"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if err == consultation.ErrDuplicateExternalID {
				dups++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, 19, dups)
	assert.Len(t, repo.All(), 1)
}

func TestConsultationRepository_UpdateKeepsAliases(t *testing.T) {
	ctx := context.Background()
	db, _ := Open()
	repo := NewConsultationRepository(db)

	c, err := repo.Create(ctx, newNC("old"))
	require.NoError(t, err)
	other, err := repo.Create(ctx, newNC("other"))
	require.NoError(t, err)

	newKey := "new"
	updated, err := repo.Update(ctx, c.ID, consultation.Patch{ExternalEventID: &newKey, AppendNote: "moved"})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.ExternalEventID.String)

	for _, key := range []string{"old", "new"} {
		found, err := repo.FindByExternalID(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, c.ID, found.ID, key)
	}

	// keys stay unique across rows, aliases included
	_, err = repo.Update(ctx, other.ID, consultation.Patch{ExternalEventID: &newKey})
	assert.Equal(t, consultation.ErrDuplicateExternalID, err)
	_, err = repo.Create(ctx, newNC("old"))
	assert.Equal(t, consultation.ErrDuplicateExternalID, err)

	_, err = repo.Update(ctx, "missing", consultation.Patch{AppendNote: "x"})
	assert.Equal(t, consultation.ErrNotFound, err)
}

func TestStudentRepository(t *testing.T) {
	ctx := context.Background()
	db, _ := Open()
	repo := NewStudentRepository(db)

	_, err := repo.FindByEmail(ctx, "jane@example.edu")
	assert.Equal(t, student.ErrNotFound, err)

	stu, err := repo.Create(ctx, student.NewStudent{Email: "Jane@Example.edu", FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.edu", stu.Email)
	assert.False(t, stu.Program.Valid)

	_, err = repo.Create(ctx, student.NewStudent{Email: "jane@example.edu"})
	assert.Equal(t, student.ErrEmailExists, err)

	found, err := repo.FindByEmail(ctx, "JANE@example.edu")
	require.NoError(t, err)
	assert.Equal(t, stu.ID, found.ID)
	assert.Equal(t, 1, repo.Count())
}
