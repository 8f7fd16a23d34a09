package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"gorm.io/gorm"

	"github.com/loomchat/loomchat/pkg/config"
	"github.com/loomchat/loomchat/pkg/db"
	"github.com/loomchat/loomchat/pkg/models"
)

func newProjectService(t *testing.T) (*ProjectService, *ChatService, *gorm.DB) {
	t.Helper()
	gdb := openTestDB(t)
	ps := NewProjectService(gdb, slog.Default())
	cs := NewChatService(gdb, &config.AppConfig{}, &fakeResolver{entry: testEntry(), chatModel: &fakeChatModel{reply: "hi"}}, nil, nil, slog.Default())
	return ps, cs, gdb
}

func TestProjectCRUD(t *testing.T) {
	ps, _, _ := newProjectService(t)

	created, err := ps.Create("user-1", &models.CreateProjectRequest{
		Name:         "Research",
		Instructions: "Always cite sources.",
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.Token == "" {
		t.Fatal("project has no public token")
	}

	got, err := ps.Get("user-1", created.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Research" || got.Instructions != "Always cite sources." {
		t.Fatalf("project = %+v", got)
	}

	newName := "Research v2"
	updated, err := ps.Update("user-1", created.Token, &models.UpdateProjectRequest{Name: &newName})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Research v2" {
		t.Fatalf("name = %q", updated.Name)
	}
	// Instructions untouched by a name-only update.
	if updated.Instructions != "Always cite sources." {
		t.Fatalf("instructions changed: %q", updated.Instructions)
	}
}

func TestProject_OwnershipIsolation(t *testing.T) {
	ps, _, _ := newProjectService(t)

	created, err := ps.Create("user-1", &models.CreateProjectRequest{Name: "Mine"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ps.Get("user-2", created.Token); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("foreign read: err = %v, want ErrProjectNotFound", err)
	}
	if err := ps.Delete("user-2", created.Token); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("foreign delete: err = %v, want ErrProjectNotFound", err)
	}
	if _, err := ps.Get("user-1", created.Token); err != nil {
		t.Fatalf("owner lost access: %v", err)
	}
}

func TestProjectDelete_DetachesThreads(t *testing.T) {
	ps, cs, gdb := newProjectService(t)

	project, err := ps.Create("user-1", &models.CreateProjectRequest{Name: "Group"})
	if err != nil {
		t.Fatal(err)
	}
	thread, err := cs.CreateThread(context.Background(), "user-1", &models.CreateThreadRequest{
		Model:        "openai:gpt-4o-mini",
		Prompt:       "hello",
		ProjectToken: &project.Token,
	})
	if err != nil {
		t.Fatal(err)
	}
	if thread.ProjectID == nil || *thread.ProjectID != project.ID {
		t.Fatal("thread not attached to project")
	}

	if err := ps.Delete("user-1", project.Token); err != nil {
		t.Fatal(err)
	}

	// Project gone, thread alive and detached.
	if _, err := ps.Get("user-1", project.Token); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("deleted project still readable: %v", err)
	}
	var reloaded db.Thread
	if err := gdb.First(&reloaded, "id = ?", thread.ID).Error; err != nil {
		t.Fatal(err)
	}
	if reloaded.Deleted {
		t.Fatal("thread was deleted along with its project")
	}
	if reloaded.ProjectID != nil {
		t.Fatal("thread still attached to deleted project")
	}
}

func TestProjectDelete_Idempotent(t *testing.T) {
	ps, _, _ := newProjectService(t)
	project, err := ps.Create("user-1", &models.CreateProjectRequest{Name: "Once"})
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Delete("user-1", project.Token); err != nil {
		t.Fatal(err)
	}
	if err := ps.Delete("user-1", project.Token); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("second delete: err = %v, want ErrProjectNotFound", err)
	}
}
