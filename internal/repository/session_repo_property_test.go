package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/remote-agent-terminal/ipmbridge/internal/db"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

// A created record can be read back unchanged, and every recorded
// command is counted once.
func TestSessionRecordIntegrityProperty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db.ResetDB()
	testDB, err := db.InitDB(dbPath)
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	defer db.ResetDB()

	repo := NewSessionRepository(testDB)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	nonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})

	properties.Property("session record persists and counts commands", prop.ForAll(
		func(server, namespace string, commands []string) bool {
			id := uuid.New().String()
			now := time.Now()
			rec := &model.SessionRecord{
				ID:          id,
				Key:         model.SessionKey(server, namespace),
				Server:      server,
				Namespace:   namespace,
				Status:      model.SessionStatusOpen,
				LogFilePath: filepath.Join("logs", id+".cast"),
				CreatedAt:   now,
				UpdatedAt:   now,
			}

			if err := repo.Create(ctx, rec); err != nil {
				t.Logf("failed to create session: %v", err)
				return false
			}

			for _, c := range commands {
				if err := repo.RecordCommand(ctx, id, c); err != nil {
					t.Logf("failed to record command: %v", err)
					return false
				}
			}

			got, err := repo.GetByID(ctx, id)
			if err != nil {
				t.Logf("failed to retrieve session: %v", err)
				return false
			}

			if got.Key != rec.Key || got.Server != server || got.Namespace != namespace ||
				got.Status != model.SessionStatusOpen || got.LogFilePath != rec.LogFilePath {
				t.Logf("retrieved record does not match created record")
				return false
			}
			if got.CommandCount != len(commands) {
				return false
			}
			if len(commands) > 0 && got.LastCommand != commands[len(commands)-1] {
				return false
			}

			repo.Delete(ctx, id)
			return true
		},
		nonEmptyString,
		nonEmptyString,
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
