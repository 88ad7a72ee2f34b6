package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/GroveDB/grove/pkg/common/iterator"
	"github.com/GroveDB/grove/pkg/engine"
	"github.com/GroveDB/grove/pkg/transaction"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem("BEGIN",
		readline.PcItem("TRANSACTION"),
		readline.PcItem("READONLY"),
	),
	readline.PcItem("COMMIT"),
	readline.PcItem("ROLLBACK"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("SCAN",
		readline.PcItem("RANGE"),
	),
)

const helpText = `
Grove - an embedded transactional key-value storage engine.

Usage:
  grove [database_path]   - Start with an optional database path

Commands:
  .help                   - Show this help message
  .open PATH              - Open a database at PATH
  .close                  - Close the current database
  .exit                   - Exit the program
  .stats                  - Show database statistics

  BEGIN [TRANSACTION]     - Begin a transaction (default: read-write)
  BEGIN READONLY          - Begin a read-only transaction
  COMMIT                  - Commit the current transaction
  ROLLBACK                - Rollback the current transaction

  PUT key value           - Store a key-value pair
  GET key                 - Retrieve a value by key
  DELETE key              - Delete a key-value pair

  SCAN                    - Scan all key-value pairs
  SCAN prefix             - Scan key-value pairs with given prefix
  SCAN RANGE start end    - Scan key-value pairs in range [start, end)
`

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Grove - an embedded transactional key-value storage engine\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: grove [database_path]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Start grove and type .help for the list of commands.\n")
	}
	flag.Parse()

	var eng *engine.Engine
	var err error
	var dbPath string

	if flag.NArg() > 0 {
		dbPath = flag.Arg(0)
		fmt.Printf("Opening database at %s\n", dbPath)
		eng, err = engine.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err)
			os.Exit(1)
		}
		defer eng.Close()
	}

	runInteractive(eng, dbPath)
}

// runInteractive starts the interactive CLI mode
func runInteractive(eng *engine.Engine, dbPath string) {
	fmt.Printf("Grove version %s\n", engine.Version())
	fmt.Println("Enter .help for usage hints.")

	var tx *transaction.Transaction
	var err error

	historyFile := filepath.Join(os.TempDir(), ".grove_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "grove> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		rl.SetPrompt(prompt(dbPath, tx))

		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])

		// Special dot commands
		if strings.HasPrefix(cmd, ".") {
			switch strings.ToLower(cmd) {
			case ".help":
				fmt.Print(helpText)

			case ".open":
				if len(parts) < 2 {
					fmt.Println("Error: Missing path argument")
					continue
				}
				if tx != nil {
					tx.Rollback()
					tx = nil
				}
				if eng != nil {
					eng.Close()
				}

				dbPath = parts[1]
				eng, err = engine.Open(dbPath)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error opening database: %s\n", err)
					eng = nil
					dbPath = ""
					continue
				}
				fmt.Printf("Database opened at %s\n", dbPath)

			case ".close":
				if eng == nil {
					fmt.Println("No database open")
					continue
				}
				if tx != nil {
					tx.Rollback()
					tx = nil
				}

				if err = eng.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Error closing database: %s\n", err)
				} else {
					fmt.Printf("Database %s closed\n", dbPath)
					eng = nil
					dbPath = ""
				}

			case ".exit":
				if tx != nil {
					tx.Rollback()
				}
				if eng != nil {
					eng.Close()
				}
				fmt.Println("Goodbye!")
				return

			case ".stats":
				if eng == nil {
					fmt.Println("No database open")
					continue
				}
				printStats(eng)

			default:
				fmt.Printf("Unknown command: %s\n", cmd)
			}
			continue
		}

		// Regular commands
		switch cmd {
		case "BEGIN":
			if eng == nil {
				fmt.Println("Error: No database open")
				continue
			}
			if tx != nil {
				fmt.Println("Error: Transaction already in progress")
				continue
			}

			readOnly := len(parts) >= 2 && strings.ToUpper(parts[1]) == "READONLY"

			tx, err = eng.BeginTransaction(readOnly)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error beginning transaction: %s\n", err)
				continue
			}
			if readOnly {
				fmt.Println("Started read-only transaction")
			} else {
				fmt.Println("Started read-write transaction")
			}

		case "COMMIT":
			if tx == nil {
				fmt.Println("Error: No transaction in progress")
				continue
			}

			startTime := time.Now()
			if err = tx.Commit(); err != nil {
				fmt.Fprintf(os.Stderr, "Error committing transaction: %s\n", err)
			} else {
				fmt.Printf("Transaction committed (%.2f ms)\n", float64(time.Since(startTime).Microseconds())/1000.0)
			}
			tx = nil

		case "ROLLBACK":
			if tx == nil {
				fmt.Println("Error: No transaction in progress")
				continue
			}

			if err = tx.Rollback(); err != nil {
				fmt.Fprintf(os.Stderr, "Error rolling back transaction: %s\n", err)
			} else {
				fmt.Println("Transaction rolled back")
			}
			tx = nil

		case "PUT":
			if len(parts) < 3 {
				fmt.Println("Error: PUT requires key and value arguments")
				continue
			}
			key := []byte(parts[1])
			value := []byte(strings.Join(parts[2:], " "))

			if tx != nil {
				if tx.IsReadOnly() {
					fmt.Println("Error: Cannot PUT in a read-only transaction")
					continue
				}
				if err = tx.Put(key, value); err != nil {
					fmt.Fprintf(os.Stderr, "Error putting value: %s\n", err)
				} else {
					fmt.Println("Value stored in transaction (will be visible after commit)")
				}
			} else {
				if eng == nil {
					fmt.Println("Error: No database open")
					continue
				}
				if err = eng.Put(key, value); err != nil {
					fmt.Fprintf(os.Stderr, "Error putting value: %s\n", err)
				} else {
					fmt.Println("Value stored")
				}
			}

		case "GET":
			if len(parts) < 2 {
				fmt.Println("Error: GET requires a key argument")
				continue
			}

			var val []byte
			if tx != nil {
				val, err = tx.Get([]byte(parts[1]))
			} else {
				if eng == nil {
					fmt.Println("Error: No database open")
					continue
				}
				val, err = eng.Get([]byte(parts[1]))
			}

			if err != nil {
				if errors.Is(err, engine.ErrKeyNotFound) {
					fmt.Println("Key not found")
				} else {
					fmt.Fprintf(os.Stderr, "Error getting value: %s\n", err)
				}
			} else {
				fmt.Printf("%s\n", val)
			}

		case "DELETE":
			if len(parts) < 2 {
				fmt.Println("Error: DELETE requires a key argument")
				continue
			}

			if tx != nil {
				if tx.IsReadOnly() {
					fmt.Println("Error: Cannot DELETE in a read-only transaction")
					continue
				}
				if err = tx.Delete([]byte(parts[1])); err != nil {
					fmt.Fprintf(os.Stderr, "Error deleting key: %s\n", err)
				} else {
					fmt.Println("Key deleted in transaction (will be applied after commit)")
				}
			} else {
				if eng == nil {
					fmt.Println("Error: No database open")
					continue
				}
				if err = eng.Delete([]byte(parts[1])); err != nil {
					fmt.Fprintf(os.Stderr, "Error deleting key: %s\n", err)
				} else {
					fmt.Println("Key deleted")
				}
			}

		case "SCAN":
			var start, end []byte
			switch {
			case len(parts) == 1:
				// Full scan
			case len(parts) == 2:
				// Prefix scan
				start = []byte(parts[1])
				end = makeKeySuccessor(start)
			case len(parts) == 4 && strings.ToUpper(parts[1]) == "RANGE":
				start = []byte(parts[2])
				end = []byte(parts[3])
			case strings.ToUpper(parts[1]) == "RANGE":
				fmt.Println("Error: SCAN RANGE requires start and end keys")
				continue
			default:
				fmt.Println("Error: Invalid SCAN syntax. See .help for usage")
				continue
			}

			if tx != nil {
				it, iterErr := tx.NewRangeIterator(start, end)
				if iterErr != nil {
					fmt.Fprintf(os.Stderr, "Error creating iterator: %s\n", iterErr)
					continue
				}
				scanWithIterator(it)
			} else {
				if eng == nil {
					fmt.Println("Error: No database open")
					continue
				}
				it, iterErr := eng.Scan(start, end)
				if iterErr != nil {
					fmt.Fprintf(os.Stderr, "Error creating iterator: %s\n", iterErr)
					continue
				}
				scanEngine(it)
			}

		default:
			fmt.Printf("Unknown command: %s\n", cmd)
		}
	}
}

func prompt(dbPath string, tx *transaction.Transaction) string {
	suffix := "> "
	if tx != nil {
		if tx.IsReadOnly() {
			suffix = "[RO]> "
		} else {
			suffix = "[RW]> "
		}
	}
	if dbPath != "" {
		return fmt.Sprintf("grove:%s%s", dbPath, suffix)
	}
	return "grove" + suffix
}

// makeKeySuccessor returns the smallest key greater than every key carrying
// the given prefix: the prefix with its last non-0xFF byte incremented and
// the bytes after it dropped. Nil (unbounded) when the prefix is all 0xFF.
func makeKeySuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			successor := append([]byte(nil), prefix[:i+1]...)
			successor[i]++
			return successor
		}
	}
	return nil
}

// scanWithIterator prints the live entries of a transaction-level iterator,
// skipping the transaction's own pending deletes
func scanWithIterator(it iterator.Iterator) {
	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if it.IsTombstone() {
			continue
		}
		fmt.Printf("%s: %s\n", it.Key(), it.Value())
		count++
	}
	if err := iterator.FirstError(it); err != nil {
		fmt.Fprintf(os.Stderr, "Error during scan: %s\n", err)
		return
	}
	fmt.Printf("%d entries found\n", count)
}

// scanEngine drains and closes an engine-level iterator
func scanEngine(it *engine.Iterator) {
	defer it.Close()

	count := 0
	for {
		key, value, err := it.Next()
		if err != nil {
			if !errors.Is(err, engine.ErrIteratorExhausted) {
				fmt.Fprintf(os.Stderr, "Error during scan: %s\n", err)
				return
			}
			break
		}
		fmt.Printf("%s: %s\n", key, value)
		count++
	}
	fmt.Printf("%d entries found\n", count)
}

// printStats renders the engine statistics map in sections
func printStats(eng *engine.Engine) {
	stats := eng.Stats()

	getUint64 := func(key string) uint64 {
		switch v := stats[key].(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case int:
			return uint64(v)
		}
		return 0
	}

	fmt.Println("Database:")
	fmt.Printf("  ID: %s\n", eng.DatabaseID())
	fmt.Printf("  Path: %s\n", eng.Path())
	fmt.Printf("  Committed version: %d\n", getUint64("committed_version"))

	fmt.Println("Operations:")
	fmt.Printf("  Puts: %d\n", getUint64("ops_put"))
	fmt.Printf("  Gets: %d\n", getUint64("ops_get"))
	fmt.Printf("  Deletes: %d\n", getUint64("ops_delete"))
	fmt.Printf("  Scans: %d\n", getUint64("ops_scan"))

	fmt.Println("Transactions:")
	fmt.Printf("  Started: %d\n", getUint64("ops_tx_begin"))
	fmt.Printf("  Committed: %d\n", getUint64("ops_tx_commit"))
	fmt.Printf("  Rolled back: %d\n", getUint64("ops_tx_rollback"))
	fmt.Printf("  Active: %d\n", getUint64("active_transactions"))

	fmt.Println("Storage:")
	fmt.Printf("  Pages: %d\n", getUint64("storage_page_count"))
	fmt.Printf("  Free pages: %d\n", getUint64("storage_free_pages"))
	fmt.Printf("  Log size: %d bytes\n", getUint64("wal_size_bytes"))
	fmt.Printf("  Bytes read: %d\n", getUint64("total_bytes_read"))
	fmt.Printf("  Bytes written: %d\n", getUint64("total_bytes_written"))

	if replayed := getUint64("recovery_records_replayed"); replayed > 0 {
		fmt.Println("Recovery:")
		fmt.Printf("  Commits replayed: %d\n", replayed)
		fmt.Printf("  Torn records truncated: %d\n", getUint64("recovery_records_truncated"))
		fmt.Printf("  Duration: %.2f ms\n", float64(getUint64("recovery_duration_ns"))/1e6)
	}

	if avg := getUint64("latency_tx_commit_avg_ns"); avg > 0 {
		fmt.Println("Latency:")
		fmt.Printf("  Commit avg: %.3f ms (min %.3f, max %.3f)\n",
			float64(avg)/1e6,
			float64(getUint64("latency_tx_commit_min_ns"))/1e6,
			float64(getUint64("latency_tx_commit_max_ns"))/1e6)
	}
}
