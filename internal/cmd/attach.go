package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/remote-agent-terminal/ipmbridge/internal/bridge"
	"github.com/remote-agent-terminal/ipmbridge/internal/config"
	"github.com/remote-agent-terminal/ipmbridge/internal/db"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
	"github.com/remote-agent-terminal/ipmbridge/internal/relay"
	"github.com/remote-agent-terminal/ipmbridge/internal/repository"
	"github.com/remote-agent-terminal/ipmbridge/internal/session"
)

var attachNoHistory bool

var attachCmd = &cobra.Command{
	Use:   "attach <server> <namespace>",
	Short: "Open an IPM session and drive it from the console",
	Long: `Open an IPM session on a configured server and namespace.

Each line typed is submitted to the session: at the IPM prompt it runs as
an IPM command, while the evaluator waits for input it answers the read.
The session ends on EOF, Ctrl-C or when the evaluator closes it.`,
	Args: cobra.ExactArgs(2),
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().BoolVar(&attachNoHistory, "no-history", false, "do not record the session in the history database")
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	serverName, namespace := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := promptPassword(cfg, serverName, os.Stdin, cmd.ErrOrStderr()); err != nil {
		return err
	}

	var repo *repository.SessionRepository
	if !attachNoHistory {
		database, err := db.InitDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.CloseDB()
		repo = repository.NewSessionRepository(database)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console := newConsolePresenter(cmd.OutOrStdout(), namespace)
	service := bridge.New(bridge.Options{
		Config:    cfg,
		Repo:      repo,
		Presenter: func(string) relay.Presenter { return console },
	})
	defer service.Shutdown()

	live, _, err := service.Open(ctx, serverName, namespace)
	if err != nil {
		return err
	}

	return driveConsole(ctx, live.Session, cmd.InOrStdin(), cmd.ErrOrStderr(), console)
}

// driveConsole submits each input line to sess until the session closes,
// input ends or ctx is cancelled.
func driveConsole(ctx context.Context, sess *session.Session, in io.Reader, errOut io.Writer, console *consolePresenter) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-console.Done():
				return
			}
		}
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				sess.Dispose(nil)
				<-console.Done()
				return nil
			}
			if err := sess.Submit(line); err != nil {
				if errors.Is(err, model.ErrInvalidStateSubmission) {
					fmt.Fprintln(errOut, "The evaluator is busy; input ignored.")
					continue
				}
				return fmt.Errorf("failed to submit input: %w", err)
			}
		case <-console.Done():
			if msg := console.Err(); msg != "" {
				return errors.New(msg)
			}
			return nil
		case <-ctx.Done():
			sess.Dispose(nil)
			return nil
		}
	}
}

// promptPassword asks for the server password on the terminal when the
// config leaves it empty.
func promptPassword(cfg *config.Config, serverName string, in *os.File, out io.Writer) error {
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if s.Name != serverName || s.Username == "" || s.Password != "" {
			continue
		}
		if !term.IsTerminal(int(in.Fd())) {
			return nil
		}
		fmt.Fprintf(out, "Password for %s@%s: ", s.Username, s.Name)
		pw, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		s.Password = string(pw)
		return nil
	}
	return nil
}
