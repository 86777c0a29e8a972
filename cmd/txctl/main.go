// Command txctl runs the propagation scenarios and join variants from the
// command line.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"txprop/internal/bootstrap"
	"txprop/internal/config"
	"txprop/internal/core/apperror"
	appctx "txprop/internal/core/context"
	"txprop/internal/domain/member"
	"txprop/internal/domain/scenario"
	"txprop/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "txctl",
		Short:         "Transaction propagation playground",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log transaction events")

	root.AddCommand(newScenarioCmd(&verbose))
	root.AddCommand(newJoinCmd(&verbose))
	root.AddCommand(newFindCmd(&verbose))
	return root
}

func loadApp(ctx context.Context, verbose bool) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.NewNop()
	if verbose {
		log, err = logger.New(logger.Config{Level: "debug", Development: true, OutputPaths: []string{"stderr"}})
		if err != nil {
			return nil, err
		}
	}
	logger.SetDefault(log)

	return bootstrap.New(ctx, cfg, log)
}

func commandContext() context.Context {
	return appctx.WithTrace(context.Background(), appctx.NewTraceContext())
}

func newScenarioCmd(verbose *bool) *cobra.Command {
	sc := &cobra.Command{Use: "scenario", Short: "Propagation scenarios"}

	sc.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scenario names",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range scenario.Names() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	sc.AddCommand(&cobra.Command{
		Use:   "run <name|all>",
		Short: "Run one scenario or all of them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext()
			app, err := loadApp(ctx, *verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			var reports []*scenario.Report
			if args[0] == "all" {
				reports, err = app.Scenarios.RunAll(ctx)
			} else {
				var r *scenario.Report
				r, err = app.Scenarios.Run(ctx, args[0])
				if r != nil {
					reports = append(reports, r)
				}
			}
			if err != nil {
				return err
			}

			failed := 0
			for _, r := range reports {
				printReport(cmd.OutOrStdout(), r)
				if !r.OK {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d scenario(s) failed", failed)
			}
			return nil
		},
	})
	return sc
}

func printReport(w io.Writer, r *scenario.Report) {
	status := "ok"
	if !r.OK {
		status = "FAILED"
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", r.Name, status)
	for _, s := range r.Steps {
		_, _ = fmt.Fprintf(w, "  %-40s %s\n", s.Action, s.Result)
	}
	if r.Err != "" {
		_, _ = fmt.Fprintf(w, "  error: %s\n", r.Err)
	}
}

func newJoinCmd(verbose *bool) *cobra.Command {
	var mode string

	join := &cobra.Command{
		Use:   "join <username>",
		Short: "Join a member using one of the propagation variants",
		Long: "Modes: " + strings.Join([]string{
			string(member.JoinSingleTx),
			string(member.JoinIndependent),
			string(member.JoinRecoverRequired),
			string(member.JoinRecoverRequiresNew),
		}, ", ") + ". A username containing \"" + member.LogFailureMarker + "\" makes the log save fail.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := member.ParseJoinMode(mode)
			if err != nil {
				return err
			}

			ctx := commandContext()
			app, err := loadApp(ctx, *verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			username := args[0]
			joinErr := app.Members.Join(ctx, username, m)

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "mode:   %s\n", m)
			if joinErr != nil {
				_, _ = fmt.Fprintf(out, "error:  %v\n", joinErr)
			}
			if err := printPresence(ctx, out, app.Members, username); err != nil {
				return err
			}
			return joinErr
		},
	}
	join.Flags().StringVar(&mode, "mode", string(member.JoinSingleTx), "join variant")
	return join
}

func printPresence(ctx context.Context, w io.Writer, svc *member.Service, username string) error {
	_, err := svc.FindMember(ctx, username)
	if err != nil && !apperror.IsNotFound(err) {
		return err
	}
	_, _ = fmt.Fprintf(w, "member: %s\n", presence(err))

	_, err = svc.FindLog(ctx, username)
	if err != nil && !apperror.IsNotFound(err) {
		return err
	}
	_, _ = fmt.Fprintf(w, "log:    %s\n", presence(err))
	return nil
}

func presence(err error) string {
	if err == nil {
		return "saved"
	}
	return "absent"
}

func newFindCmd(verbose *bool) *cobra.Command {
	find := &cobra.Command{Use: "find", Short: "Look up stored rows"}

	find.AddCommand(&cobra.Command{
		Use:   "member <username>",
		Short: "Show a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext()
			app, err := loadApp(ctx, *verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			m, err := app.Members.FindMember(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", m.ID, m.Username, m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	})

	find.AddCommand(&cobra.Command{
		Use:   "log <message>",
		Short: "Show a log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext()
			app, err := loadApp(ctx, *verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			l, err := app.Members.FindLog(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", l.ID, l.Message, l.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	})
	return find
}
