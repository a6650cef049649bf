package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/ipmbridge/internal/db"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/repository"
)

var (
	sessionsLimit int
	sessionsJSON  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := db.InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.CloseDB()

		records, err := repository.NewSessionRepository(database).List(cmd.Context(), sessionsLimit)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if sessionsJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}
		return printSessions(cmd.OutOrStdout(), records)
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "maximum number of sessions")
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "output JSON")
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(w io.Writer, records []*model.SessionRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No sessions recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSESSION\tSTATUS\tCOMMANDS\tLAST COMMAND\tDURATION\tCREATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Key, r.Status, r.CommandCount, r.LastCommand,
			r.Duration().Round(time.Second), r.CreatedAt.Format(time.DateTime))
	}
	return tw.Flush()
}
