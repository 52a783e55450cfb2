package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. *App satisfies
// it; tests use a recording stub.
type execIface interface {
	isLoggedIn(ctx context.Context) bool
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) error
	List(ctx context.Context, entity string) error
	Show(ctx context.Context, entity, id string) error
	Add(ctx context.Context, entity string, pairs []string) error
	Update(ctx context.Context, entity, id string, pairs []string) error
	Delete(ctx context.Context, entity, id string) error
	Sync(ctx context.Context) error
	Stats(ctx context.Context) error
	Backup(ctx context.Context, target string) error
	Restore(ctx context.Context, file, strategy string, clearExisting bool) error
	Migrate(ctx context.Context) error
}

const (
	helpAnonymous = "Available commands: login, status, stats, migrate, exit"
	helpLoggedIn  = "Available commands: list, show, add, update, delete, sync, status, stats, backup, restore, migrate, logout, exit"
)

// runREPL reads commands from reader until EOF, exit or quit. Handler
// errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("office %s> ", statusFn()))
		line, err := readLine(reader)
		if err != nil {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn(ctx) {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpAnonymous)
			}

		case "login":
			cmdErr = a.Login(ctx)

		case "logout":
			cmdErr = a.Logout(ctx)

		case "status":
			cmdErr = a.Status(ctx)

		case "l", "list":
			if len(args) < 1 {
				printlnFn("Usage: list <entity>")
				continue
			}
			cmdErr = a.List(ctx, args[0])

		case "show":
			if len(args) < 2 {
				printlnFn("Usage: show <entity> <id>")
				continue
			}
			cmdErr = a.Show(ctx, args[0], args[1])

		case "add":
			if len(args) < 2 {
				printlnFn("Usage: add <entity> name=value ...")
				continue
			}
			cmdErr = a.Add(ctx, args[0], args[1:])

		case "update":
			if len(args) < 3 {
				printlnFn("Usage: update <entity> <id> name=value ...")
				continue
			}
			cmdErr = a.Update(ctx, args[0], args[1], args[2:])

		case "delete":
			if len(args) < 2 {
				printlnFn("Usage: delete <entity> <id>")
				continue
			}
			cmdErr = a.Delete(ctx, args[0], args[1])

		case "sync":
			cmdErr = a.Sync(ctx)

		case "stats":
			cmdErr = a.Stats(ctx)

		case "backup":
			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			cmdErr = a.Backup(ctx, target)

		case "restore":
			file, strategy, clearExisting, ok := parseRestoreArgs(args)
			if !ok {
				printlnFn("Usage: restore <file> [latest_wins|backup_wins|keep_both] [--clear]")
				continue
			}
			cmdErr = a.Restore(ctx, file, strategy, clearExisting)

		case "migrate":
			cmdErr = a.Migrate(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if cmdErr != nil {
			printlnFn("Error:", cmdErr)
		}
	}
}

func parseRestoreArgs(args []string) (file, strategy string, clearExisting, ok bool) {
	for _, a := range args {
		switch {
		case a == "--clear":
			clearExisting = true
		case file == "":
			file = a
		case strategy == "":
			strategy = a
		default:
			return "", "", false, false
		}
	}
	return file, strategy, clearExisting, file != ""
}
