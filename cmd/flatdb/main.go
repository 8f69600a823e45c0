// Command flatdb is a small shell around a flatdb store directory: listing
// tables, running selects and restricted queries, inserting and deleting
// records, and syncing one store into another.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flatdb/flatdb"
	"github.com/flatdb/flatdb/codec"
	"github.com/flatdb/flatdb/query"
	"github.com/flatdb/flatdb/record"
)

const version = "0.3.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flatdb: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flatdb",
		Short: "embedded file-backed structured data store",
		Long: fmt.Sprintf(`flatdb (v%s)

An embedded, file-backed structured data store: named tables of schema-light
records with soft deletion, equality querying, indexing, snapshot
transactions and cross-store sync. Each table is two files in the store
directory.`, version),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(viper.GetString("log-level"))
		},
	}

	root.PersistentFlags().String("dir", "./data", "Store directory")
	root.PersistentFlags().String("codec", "json", "On-disk encoding (json, yaml)")
	root.PersistentFlags().String("key", "id", "Primary-key field for tables opened by this command")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	// Environment variables win over defaults, flags win over environment:
	// FLATDB_DIR, FLATDB_CODEC, FLATDB_KEY, FLATDB_LOG_LEVEL.
	_ = godotenv.Load(".env")
	viper.SetEnvPrefix("flatdb")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(root.PersistentFlags())

	root.AddCommand(tablesCmd(), selectCmd(), insertCmd(), deleteCmd(), queryCmd(), syncCmd(), versionCmd())
	return root
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)
	return nil
}

// openStore opens the store directory and registers one table in it.
func openStore(tableName string) (*flatdb.DB, error) {
	c, err := codec.ByName(viper.GetString("codec"))
	if err != nil {
		return nil, err
	}
	db, err := flatdb.Open(viper.GetString("dir"), flatdb.Options{Codec: c})
	if err != nil {
		return nil, err
	}
	if tableName != "" {
		if _, err := db.CreateTable(tableName, nil, viper.GetString("key")); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables in the store directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := codec.ByName(viper.GetString("codec"))
			if err != nil {
				return err
			}
			entries, err := os.ReadDir(viper.GetString("dir"))
			if err != nil {
				return err
			}
			ext := "." + c.Ext()
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasSuffix(name, ".h"+c.Ext()) {
					continue
				}
				fmt.Println(strings.TrimSuffix(filepath.Base(name), ext))
			}
			return nil
		},
	}
}

func selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <table> [field=value ...]",
		Short: "Select live records by conjunctive equality",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(args[0])
			if err != nil {
				return err
			}
			pred, err := parsePredicate(args[1:])
			if err != nil {
				return err
			}
			rows, err := db.Select(args[0], pred)
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}
}

func insertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <table> <json-object>",
		Short: "Insert one record given as a JSON object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec record.Record
			if err := json.Unmarshal([]byte(args[1]), &rec); err != nil {
				return fmt.Errorf("invalid record: %w", err)
			}
			db, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Insert(args[0], rec)
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <field=value ...>",
		Short: "Soft-delete records by conjunctive equality",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore(args[0])
			if err != nil {
				return err
			}
			defer db.Close()
			pred, err := parsePredicate(args[1:])
			if err != nil {
				return err
			}
			n, err := db.Delete(args[0], pred)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d record(s)\n", n)
			return nil
		},
	}
}

func queryCmd() *cobra.Command {
	var tableName string
	cmd := &cobra.Command{
		Use:   "query <query-string>",
		Short: "Run a restricted SELECT query",
		Long: `Run a query of the form:

  SELECT <fields> FROM <table> [WHERE <field><op><number>]

with <op> one of = != < >. The field list is accepted but whole records are
always returned.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(args[0])
			if err != nil {
				return err
			}
			if tableName == "" {
				tableName = q.Table
			}
			db, err := openStore(tableName)
			if err != nil {
				return err
			}
			rows, err := db.Execute(args[0])
			if err != nil {
				return err
			}
			return printRows(rows)
		},
	}
	cmd.Flags().StringVar(&tableName, "table", "", "Table to register before running (defaults to the FROM table)")
	return cmd
}

func syncCmd() *cobra.Command {
	var fromKey, toKey string
	var fields []string
	cmd := &cobra.Command{
		Use:   "sync <table> <target-dir>",
		Short: "Sync a table one-way into another store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := openStore(args[0])
			if err != nil {
				return err
			}
			c, err := codec.ByName(viper.GetString("codec"))
			if err != nil {
				return err
			}
			dst, err := flatdb.Open(args[1], flatdb.Options{Codec: c})
			if err != nil {
				return err
			}
			if _, err := dst.CreateTable(args[0], nil, toKey); err != nil {
				return err
			}
			defer dst.Close()

			opts := flatdb.SyncOptions{FromKey: fromKey, ToKey: toKey, Fields: map[string]string{}}
			for _, f := range fields {
				from, to, ok := strings.Cut(f, "=")
				if !ok {
					to = from
				}
				opts.Fields[from] = to
			}
			return src.Sync(dst, args[0], args[0], opts)
		},
	}
	cmd.Flags().StringVar(&fromKey, "from-key", "id", "Source key field")
	cmd.Flags().StringVar(&toKey, "to-key", "id", "Target key field")
	cmd.Flags().StringSliceVar(&fields, "field", nil, "Field mapping source=target (repeatable)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("flatdb v%s\n", version)
		},
	}
}

// parsePredicate turns field=value arguments into an equality predicate.
// Values parse as numbers or booleans when they look like one, strings
// otherwise.
func parsePredicate(args []string) (map[string]any, error) {
	pred := map[string]any{}
	for _, arg := range args {
		field, raw, ok := strings.Cut(arg, "=")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid predicate %q, want field=value", arg)
		}
		pred[field] = parseValue(raw)
	}
	return pred, nil
}

func parseValue(raw string) any {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func printRows(rows []record.Record) error {
	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
