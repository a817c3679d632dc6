package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dynpush/internal/app"
	"dynpush/internal/config"
	"dynpush/internal/delivery"
	"dynpush/internal/storage"
	kit "dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

var (
	pushGroups  []int64
	pushUsers   []int64
	pushThread  int
	stateFormat string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check every account once and deliver new posts",
	Args:  cobra.NoArgs,
	RunE:  checkAction,
}

var pushCmd = &cobra.Command{
	Use:   "push <post id>",
	Short: "Force-push one post to its account's targets or the given chats",
	Args:  cobra.ExactArgs(1),
	RunE:  pushAction,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show persisted account cursors",
	Args:  cobra.NoArgs,
	RunE:  stateAction,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config file and exit",
	Args:  cobra.NoArgs,
	RunE:  validateAction,
}

func init() {
	pushCmd.Flags().Int64SliceVar(&pushGroups, "group", nil, "group chat id (repeatable)")
	pushCmd.Flags().Int64SliceVar(&pushUsers, "user", nil, "user id for a direct message (repeatable)")
	pushCmd.Flags().IntVar(&pushThread, "thread", 0, "forum topic thread id for --group targets")
	stateCmd.Flags().StringVar(&stateFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(checkCmd, pushCmd, stateCmd, validateCmd)
}

func checkAction(cmd *cobra.Command, _ []string) error {
	a, err := app.New(configPath)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = a.Close() }()

	res := a.CheckOnce(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "checked %d accounts: %d new posts from %d accounts, %d failed (%s)\n",
		res.Checked, res.NewPosts, res.AccountsWithNew, res.Failed, res.Took.Round(time.Millisecond))
	if res.Failed > 0 {
		return fmt.Errorf("%d accounts failed", res.Failed)
	}
	return nil
}

func pushAction(cmd *cobra.Command, args []string) error {
	a, err := app.New(configPath)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer func() { _ = a.Close() }()

	res, err := a.PushOnce(cmd.Context(), strings.TrimSpace(args[0]), pushTargets(pushGroups, pushUsers, pushThread))
	if err != nil {
		return err
	}
	return printPushResults(cmd.OutOrStdout(), res)
}

func pushTargets(groups, users []int64, thread int) []kit.ChatTarget {
	var out []kit.ChatTarget
	for _, g := range groups {
		out = append(out, kit.ChatTarget{Kind: kit.TargetGroup, ChatID: g, ThreadID: thread})
	}
	for _, u := range users {
		out = append(out, kit.ChatTarget{Kind: kit.TargetDirect, ChatID: u})
	}
	return out
}

func printPushResults(w io.Writer, res []delivery.Result) error {
	failed := 0
	for _, r := range res {
		switch {
		case r.Err == nil:
			fmt.Fprintf(w, "%s ok\n", r.Target)
		case r.Delivered():
			fmt.Fprintf(w, "%s fallback (%v)\n", r.Target, r.Err)
		default:
			failed++
			err := r.Err
			if r.Fallback {
				err = r.FallbackErr
			}
			fmt.Fprintf(w, "%s failed: %v\n", r.Target, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d targets failed", failed, len(res))
	}
	return nil
}

func stateAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(configPath).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, ok, err := app.OpenStore(cfg, logx.Nop())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if !ok {
		return fmt.Errorf("storage is disabled in %s", configPath)
	}
	defer func() { _ = st.Close() }()

	states, err := st.ListStates(cmd.Context())
	if err != nil {
		return fmt.Errorf("list states: %w", err)
	}
	switch stateFormat {
	case "json":
		return printStatesJSON(cmd.OutOrStdout(), states)
	case "terminal", "":
		return printStates(cmd.OutOrStdout(), states)
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", stateFormat)
	}
}

func printStatesJSON(w io.Writer, states []storage.AccountState) error {
	if states == nil {
		states = []storage.AccountState{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"accounts": states})
}

func printStates(w io.Writer, states []storage.AccountState) error {
	if len(states) == 0 {
		_, err := fmt.Fprintln(w, "No accounts stored yet. Run 'dynpush run' or 'dynpush check' first.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tNAME\tCURSOR\tLAST CHECK")
	for _, s := range states {
		last := "-"
		if !s.LastCheck.IsZero() {
			last = s.LastCheck.Local().Format(time.DateTime)
		}
		cursor := s.Cursor
		if cursor == "" {
			cursor = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.UID, s.DisplayName, cursor, last)
	}
	return tw.Flush()
}

func validateAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(configPath).Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := app.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d accounts)\n", configPath, len(cfg.Monitor.Accounts))
	return nil
}
