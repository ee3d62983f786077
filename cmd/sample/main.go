// Command sample wires the store against a local postgres and walks the
// entity engine through its paces: an owner-scoped task, an unscoped
// project, and a two-step transactional flow with a savepoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eastbridge/strata"
)

// Task is the owner-scoped demo entity.
type Task struct {
	ID        uuid.UUID `db:"id"`
	Title     string    `db:"title"`
	Done      bool      `db:"done"`
	OwnerID   uuid.UUID `db:"owner_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type TaskForCreate struct {
	Title string
}

func (p TaskForCreate) Fields() strata.Fields {
	return strata.Fields{"title": p.Title, "done": false}
}

type TaskForUpdate struct {
	Done bool
}

func (p TaskForUpdate) Fields() strata.Fields {
	return strata.Fields{"done": p.Done}
}

// Project has neither timestamps nor an owner, exercising the policy-off
// path.
type Project struct {
	ID   uuid.UUID `db:"id"`
	Name string    `db:"name"`
}

type ProjectForCreate struct {
	Name string
}

func (p ProjectForCreate) Fields() strata.Fields {
	return strata.Fields{"name": p.Name}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id uuid PRIMARY KEY,
		title text NOT NULL,
		done boolean NOT NULL DEFAULT false,
		owner_id uuid NOT NULL,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id uuid PRIMARY KEY,
		name text NOT NULL
	)`,
}

func main() {
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	cfg, err := strata.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := strata.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("sample failed", "error", err)
	}
}

func run(cfg *strata.Config, log *zap.SugaredLogger) error {
	ctx := context.Background()

	store, err := strata.NewStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	setupCtx := strata.WithRequestContext(ctx, strata.SystemContext())
	for _, stmt := range schema {
		if _, err := store.Exec(setupCtx, stmt); err != nil {
			return err
		}
	}

	tasks, err := strata.NewController[Task](strata.EntityPolicy{
		Table:         "tasks",
		HasTimestamps: true,
		HasOwnerID:    true,
	})
	if err != nil {
		return err
	}
	projects, err := strata.NewController[Project](strata.EntityPolicy{Table: "projects"})
	if err != nil {
		return err
	}

	userID := uuid.Must(uuid.NewV7())
	userCtx := strata.WithRequestContext(ctx, strata.NewRequestContext(userID))

	// One-shot operations, each on its own autocommit statement.
	taskID, err := tasks.Create(userCtx, store, TaskForCreate{Title: "ship the release"})
	if err != nil {
		return err
	}
	log.Infow("created task", "id", taskID, "user", userID)

	task, err := tasks.Get(userCtx, store, taskID)
	if err != nil {
		return err
	}
	log.Infow("loaded task", "title", task.Title, "owner", task.OwnerID, "createdAt", task.CreatedAt)

	// Multi-step transactional composition with a savepoint the engine
	// can fall back to.
	err = store.RunInTx(userCtx, func(txCtx context.Context) error {
		projectID, err := projects.Create(txCtx, store, ProjectForCreate{Name: "launch"})
		if err != nil {
			return err
		}
		log.Infow("created project inside transaction", "id", projectID)

		if err := store.RunInTx(txCtx, func(spCtx context.Context) error {
			_, err := tasks.Create(spCtx, store, TaskForCreate{Title: "speculative step"})
			if err != nil {
				return err
			}
			return fmt.Errorf("changed our mind, roll the savepoint back")
		}); err != nil {
			log.Infow("inner step rolled back to savepoint", "reason", err)
		}

		return tasks.Update(txCtx, store, taskID, TaskForUpdate{Done: true})
	})
	if err != nil {
		return err
	}

	remaining, err := tasks.List(userCtx, store, strata.ListOptions{
		OrderBy: []strata.OrderBy{{Column: "created_at", Order: strata.SortOrderDesc}},
	})
	if err != nil {
		return err
	}
	log.Infow("tasks after transaction", "count", len(remaining))

	// The speculative task died with the savepoint; the flag update survived.
	for _, item := range remaining {
		log.Infow("task", "title", item.Title, "done", item.Done, "updatedAt", item.UpdatedAt)
	}
	return nil
}
