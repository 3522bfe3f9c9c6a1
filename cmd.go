package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"qtrack/internal/tracker"
	"qtrack/internal/types"
)

func SetupCommands(a *App) *cobra.Command {
	var configPath, kindFlag string
	var kind types.Kind

	// root command
	rootCmd := &cobra.Command{
		Use:           "qtrack",
		Short:         "Quarter-scoped project, log and work order tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if kind, err = types.ParseKind(kindFlag); err != nil {
				return err
			}
			return a.Open(cmd.Context(), configPath)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.Close()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/qtrack/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&kindFlag, "kind", "k", string(types.KindProject), "entry kind: project, daily_log or work_order")

	// prints the quarter containing today or --at
	var at string
	quarterCmd := &cobra.Command{
		Use:   "quarter",
		Short: "Show the current quarter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ShowQuarter(at)
		},
	}
	quarterCmd.Flags().StringVar(&at, "at", "", "date or phrase, e.g. \"last friday\"")

	// add an entry, reusing the group's number in that quarter
	var (
		addQuarter, addStatus, addNotes, addStart, addEnd string
		addAssignees                                       []string
	)
	addCmd := &cobra.Command{
		Use:   "add [group]",
		Short: "Add an entry to a quarter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := types.ParseStatus(addStatus)
			if err != nil {
				return err
			}
			start, err := parseDateFlag(addStart, a.now())
			if err != nil {
				return err
			}
			end, err := parseDateFlag(addEnd, a.now())
			if err != nil {
				return err
			}
			return a.Add(cmd.Context(), tracker.AddRequest{
				Kind:         kind,
				GroupKey:     args[0],
				QuarterLabel: addQuarter,
				Status:       status,
				Assignees:    addAssignees,
				Notes:        addNotes,
				StartDate:    start,
				EndDate:      end,
			})
		},
	}
	addCmd.Flags().StringVarP(&addQuarter, "quarter", "q", "", "quarter label like Q1-2025 (default current)")
	addCmd.Flags().StringVarP(&addStatus, "status", "s", "", "Progress, Done, Hold or unset")
	addCmd.Flags().StringSliceVarP(&addAssignees, "assignee", "a", nil, "assignee, repeatable")
	addCmd.Flags().StringVarP(&addNotes, "notes", "n", "", "free text notes")
	addCmd.Flags().StringVar(&addStart, "start", "", "start date")
	addCmd.Flags().StringVar(&addEnd, "end", "", "end date")

	var listQuarter string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a quarter grouped by sequence number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.List(cmd.Context(), kind, listQuarter)
		},
	}
	listCmd.Flags().StringVarP(&listQuarter, "quarter", "q", "", "quarter label (default current)")

	var seqQuarter string
	seqCmd := &cobra.Command{
		Use:   "seq [group]",
		Short: "Show the sequence number a group has or would get",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Sequence(cmd.Context(), kind, seqQuarter, args[0])
		},
	}
	seqCmd.Flags().StringVarP(&seqQuarter, "quarter", "q", "", "quarter label (default current)")

	var carryFrom, carryTo string
	carryCmd := &cobra.Command{
		Use:   "carry",
		Short: "Carry unfinished groups into the next quarter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Carry(cmd.Context(), kind, carryFrom, carryTo)
		},
	}
	carryCmd.Flags().StringVar(&carryFrom, "from", "", "source quarter (default the one before --to)")
	carryCmd.Flags().StringVar(&carryTo, "to", "", "target quarter (default current)")

	// set status on several entries, prompting when --status is omitted
	var statusFlag string
	statusCmd := &cobra.Command{
		Use:   "status [id...]",
		Short: "Set the status of one or more entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status types.Status
			var err error
			if cmd.Flags().Changed("status") {
				status, err = types.ParseStatus(statusFlag)
			} else {
				status, err = pickStatus()
			}
			if err != nil {
				return err
			}
			return a.SetStatus(cmd.Context(), args, status)
		},
	}
	statusCmd.Flags().StringVarP(&statusFlag, "status", "s", "", "Progress, Done, Hold or unset")

	var logLimit int
	logCmd := &cobra.Command{
		Use:   "log [id]",
		Short: "Show the activity log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) > 0 {
				id = args[0]
			}
			return a.Log(cmd.Context(), id, logLimit)
		},
	}
	logCmd.Flags().IntVarP(&logLimit, "limit", "l", 20, "number of records")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tracker over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Serve(ctx)
		},
	}

	// add commands
	rootCmd.AddCommand(quarterCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(seqCmd)
	rootCmd.AddCommand(carryCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(serveCmd)

	return rootCmd
}
