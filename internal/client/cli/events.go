package cli

import (
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/events"
	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// formatEvent renders an engine event as a one-line notice. Local edits
// (still pending) are not echoed back.
func formatEvent(ev events.Event) string {
	switch ev.Kind {
	case events.NoteCreated, events.NoteUpdated, events.NoteDeleted:
		if ev.Note == nil || ev.Note.SyncStatus == models.StatusPending {
			return ""
		}
		title := ev.Note.Title
		return fmt.Sprintf("* %s %s %q", ev.Kind, ev.NoteID, title)
	case events.Conflict:
		return fmt.Sprintf("! conflict on %s, see 'conflicts'", ev.NoteID)
	case events.SyncCompleted:
		if ev.Applied == 0 && ev.Merged == 0 && ev.Conflicts == 0 && ev.Failed == 0 {
			return ""
		}
		return fmt.Sprintf("* synced: %d sent, %d received, %d conflicts, %d failed",
			ev.Applied, ev.Merged, ev.Conflicts, ev.Failed)
	case events.SyncError:
		if ev.NoteID != "" {
			return fmt.Sprintf("! sync error on %s: %v", ev.NoteID, ev.Err)
		}
		return fmt.Sprintf("! sync error: %v", ev.Err)
	case events.Network:
		if ev.Online {
			return "* online"
		}
		return "* offline"
	}
	return ""
}
