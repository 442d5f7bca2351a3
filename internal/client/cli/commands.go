package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/engine"
	"github.com/dmitrijs2005/notesync/internal/client/models"
)

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "..."
	}
	return s
}

func (a *App) printNotes(notes []*models.Note) {
	if len(notes) == 0 {
		fmt.Fprintln(a.out, "No notes.")
		return
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tVERSION\tSTATUS\tUPDATED")
	for _, n := range notes {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", n.ID, firstLine(n.Title), n.Version, n.SyncStatus, shortTime(n.UpdatedAt))
	}
	_ = w.Flush()
}

func (a *App) printNote(n *models.Note) {
	fmt.Fprintf(a.out, "ID:      %s\n", n.ID)
	fmt.Fprintf(a.out, "Title:   %s\n", n.Title)
	fmt.Fprintf(a.out, "Version: %d\n", n.Version)
	fmt.Fprintf(a.out, "Status:  %s\n", n.SyncStatus)
	fmt.Fprintf(a.out, "Updated: %s\n", shortTime(n.UpdatedAt))
	if n.Deleted() {
		fmt.Fprintf(a.out, "Deleted: %s\n", shortTime(*n.DeletedAt))
	}
	fmt.Fprintf(a.out, "\n%s\n", n.Body)
}

func (a *App) List(ctx context.Context) error {
	notes, err := a.notes.GetAllNotes(ctx)
	if err != nil {
		return err
	}
	a.printNotes(notes)
	return nil
}

func (a *App) Show(ctx context.Context, id string) error {
	n, err := a.notes.GetNoteByID(ctx, id)
	if err != nil {
		return err
	}
	a.printNote(n)
	if n.ConflictRemote != nil {
		fmt.Fprintln(a.out, "\n--- server copy ---")
		a.printNote(n.ConflictRemote)
	}
	return nil
}

func (a *App) readNoteData(current models.NoteData) (models.NoteData, error) {
	prompt := "Enter title"
	if current.Title != "" {
		prompt += fmt.Sprintf(" (empty keeps %q)", current.Title)
	}
	title, err := GetSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return models.NoteData{}, err
	}
	if title == "" {
		title = current.Title
	}

	prompt = "Enter note text"
	if current.Body != "" {
		prompt += " (empty keeps the current text)"
	}
	body, err := GetMultiline(a.reader, prompt, a.out)
	if err != nil {
		return models.NoteData{}, err
	}
	if body == "" {
		body = current.Body
	}
	return models.NoteData{Title: title, Body: body}, nil
}

func (a *App) Add(ctx context.Context) error {
	data, err := a.readNoteData(models.NoteData{})
	if err != nil {
		return err
	}
	n, err := a.notes.CreateNote(ctx, data)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created %s\n", n.ID)
	return nil
}

func (a *App) Edit(ctx context.Context, id string) error {
	n, err := a.notes.GetNoteByID(ctx, id)
	if err != nil {
		return err
	}
	data, err := a.readNoteData(n.Data())
	if err != nil {
		return err
	}
	if _, err := a.notes.UpdateNote(ctx, id, data); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated %s\n", id)
	return nil
}

func (a *App) Delete(ctx context.Context, id string) error {
	if err := a.notes.DeleteNote(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", id)
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	return a.notes.SyncNow(ctx)
}

func (a *App) Status(ctx context.Context) error {
	cp, err := a.notes.Checkpoint(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "State:      %s\n", a.notes.State())
	fmt.Fprintf(a.out, "Checkpoint: %s\n", shortTime(cp))
	return nil
}

func (a *App) Conflicts(ctx context.Context) error {
	notes, err := a.notes.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Fprintln(a.out, "No conflicts.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLOCAL\tSERVER\tSERVER VERSION")
	for _, n := range notes {
		remote := n.ConflictRemote
		if remote == nil {
			remote = &models.Note{}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", n.ID, describe(n), describe(remote), remote.Version)
	}
	_ = w.Flush()
	return nil
}

func describe(n *models.Note) string {
	if n.Deleted() {
		return "(deleted)"
	}
	return firstLine(n.Title)
}

func (a *App) Resolve(ctx context.Context, id, choice string) error {
	res, err := engine.ParseResolution(choice)
	if err != nil {
		return err
	}
	n, err := a.notes.ResolveConflict(ctx, id, res)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Resolved %s, keeping %s copy (%s)\n", id, res, n.SyncStatus)
	return nil
}

func (a *App) Failed(ctx context.Context) error {
	ops, err := a.notes.FailedOperations(ctx)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(a.out, "No failed operations.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OP\tKIND\tNOTE\tRETRIES\tERROR")
	for _, op := range ops {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", op.ID, op.Kind, op.NoteID, op.RetryCount, op.LastError)
	}
	_ = w.Flush()
	return nil
}

func (a *App) Retry(ctx context.Context) error {
	n, err := a.notes.RetryFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Requeued %d operation(s)\n", n)
	return nil
}
