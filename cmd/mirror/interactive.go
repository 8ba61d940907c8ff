package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dahateb/rust-crm-sync/internal/bus"
	"github.com/dahateb/rust-crm-sync/internal/setup"
	"github.com/dahateb/rust-crm-sync/internal/syncengine"
)

// runInteractive drives a numeric-menu setup session over stdin/stdout,
// grounded on the original implementation's sync/mod.rs Sync state machine:
// that version matches single bytes read off stdin against a
// (level, command) pair to drive start/setup/sync sub-menus. Go has no
// need for an explicit byte-constant state machine to express the same
// thing, so this is a plain nested menu loop instead, but the menu
// structure (top level / setup submenu / sync submenu) is unchanged.
func runInteractive(su *setup.Setup, sup *syncengine.Supervisor) error {
	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		printMainMenu()
		line, ok := readLine(scanner)
		if !ok {
			return nil
		}
		switch line {
		case "1":
			if err := setupMenu(ctx, scanner, su); err != nil {
				fmt.Println("error:", err)
			}
		case "2":
			syncMenu(ctx, scanner, sup)
		case "0", "exit", "quit":
			fmt.Println("bye")
			return nil
		default:
			fmt.Println("unrecognized choice")
		}
	}
}

func printMainMenu() {
	fmt.Println()
	fmt.Println("=== sor-rdb-mirror ===")
	fmt.Println("1) setup")
	fmt.Println("2) sync")
	fmt.Println("0) exit")
	fmt.Print("> ")
}

func setupMenu(ctx context.Context, scanner *bufio.Scanner, su *setup.Setup) error {
	for {
		fmt.Println()
		fmt.Println("--- setup ---")
		fmt.Println("1) list remote objects")
		fmt.Println("2) list mirrored objects")
		fmt.Println("3) mirror an object")
		fmt.Println("4) delete a mirrored object")
		fmt.Println("0) back")
		fmt.Print("> ")

		line, ok := readLine(scanner)
		if !ok {
			return nil
		}
		switch line {
		case "1":
			if _, err := su.ListRemoteObjects(ctx, printRemoteObject); err != nil {
				return err
			}
		case "2":
			if _, err := su.ListDbObjects(ctx, printDbObject); err != nil {
				return err
			}
		case "3":
			index, ok := readIndex(scanner, "index to mirror")
			if !ok {
				continue
			}
			start := time.Now()
			err := su.SetupRemoteObject(ctx, index, true, func(m bus.Message) {
				fmt.Println("  ...", m.Text)
			})
			if err != nil {
				return err
			}
			fmt.Printf("mirrored in %s\n", time.Since(start).Round(time.Millisecond))
		case "4":
			index, ok := readIndex(scanner, "index to delete")
			if !ok {
				continue
			}
			name, err := su.DeleteDbObject(ctx, index)
			if err != nil {
				return err
			}
			fmt.Println("deleted", name)
		case "0":
			return nil
		default:
			fmt.Println("unrecognized choice")
		}
	}
}

func syncMenu(ctx context.Context, scanner *bufio.Scanner, sup *syncengine.Supervisor) {
	for {
		fmt.Println()
		fmt.Println("--- sync ---")
		status := "stopped"
		if sup.IsRunning() {
			status = "running"
		}
		fmt.Println("currently:", status)
		fmt.Println("1) start")
		fmt.Println("2) stop")
		fmt.Println("0) back")
		fmt.Print("> ")

		line, ok := readLine(scanner)
		if !ok {
			return
		}
		switch line {
		case "1":
			if err := sup.Start(ctx); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("sync started")
		case "2":
			if err := sup.Stop(ctx); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println("sync stopped")
		case "0":
			return
		default:
			fmt.Println("unrecognized choice")
		}
	}
}

func printRemoteObject(o setup.RemoteObjectSummary) {
	synced := ""
	if o.AlreadySynced {
		synced = " (already mirrored)"
	}
	fmt.Printf("  %2d) %-30s %s%s\n", o.Index, o.Name, o.Label, synced)
}

func printDbObject(o setup.DbObjectSummary) {
	fmt.Printf("  %2d) %-30s rows=%d fields=%d\n", o.Index, o.Name, o.RowCount, o.FieldCount)
}

func readLine(scanner *bufio.Scanner) (string, bool) {
	if !scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(scanner.Text()), true
}

func readIndex(scanner *bufio.Scanner, prompt string) (int, bool) {
	fmt.Printf("%s: ", prompt)
	line, ok := readLine(scanner)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 {
		fmt.Println("enter a positive integer")
		return 0, false
	}
	return n, true
}
