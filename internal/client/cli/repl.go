package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to.
type execIface interface {
	List(ctx context.Context) error
	Show(ctx context.Context, id string) error
	Add(ctx context.Context) error
	Edit(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Sync(ctx context.Context) error
	Status(ctx context.Context) error
	Conflicts(ctx context.Context) error
	Resolve(ctx context.Context, id, choice string) error
	Failed(ctx context.Context) error
	Retry(ctx context.Context) error
}

const helpText = `Available commands:
  list                       list notes
  show <id>                  show one note
  add                        create a note
  edit <id>                  edit a note
  delete <id>                delete a note
  sync                       sync now
  status                     connection state and checkpoint
  conflicts                  list notes in conflict
  resolve <id> local|remote  settle a conflict
  failed                     list failed operations
  retry                      requeue failed operations
  exit                       leave the program`

// runREPL reads commands from scanner and dispatches them to a until EOF
// or "exit". Handler errors are printed and the loop carries on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("notes (%s) > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(helpText)

		case "l", "list":
			err = a.List(ctx)

		case "show", "edit", "delete":
			if len(args) != 1 {
				printlnFn(fmt.Sprintf("Usage: %s <id>", cmd))
				continue
			}
			switch cmd {
			case "show":
				err = a.Show(ctx, args[0])
			case "edit":
				err = a.Edit(ctx, args[0])
			default:
				err = a.Delete(ctx, args[0])
			}

		case "add":
			err = a.Add(ctx)

		case "sync":
			err = a.Sync(ctx)

		case "status":
			err = a.Status(ctx)

		case "conflicts":
			err = a.Conflicts(ctx)

		case "resolve":
			if len(args) != 2 {
				printlnFn("Usage: resolve <id> local|remote")
				continue
			}
			err = a.Resolve(ctx, args[0], args[1])

		case "failed":
			err = a.Failed(ctx)

		case "retry":
			err = a.Retry(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
