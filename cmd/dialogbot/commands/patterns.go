package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/m3rciful/dialogbot/automation/patterns"
)

// patternFlags maps a flag name to the list it replaces.
var patternFlags = []struct {
	flag  string
	usage string
	list  func(*patterns.Set) *[]string
}{
	{"found", "text of the partner found message", func(s *patterns.Set) *[]string { return &s.PartnerFound }},
	{"skipped", "text of the partner left message", func(s *patterns.Set) *[]string { return &s.PartnerSkipped }},
	{"busy", "text of the already in dialog message", func(s *patterns.Set) *[]string { return &s.AlreadyInDialog }},
	{"system", "text of ads and other system messages", func(s *patterns.Set) *[]string { return &s.SystemMessage }},
}

func newPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Show or change the target bot message patterns",
	}
	cmd.AddCommand(newPatternsShowCmd(), newPatternsSetCmd())
	return cmd
}

func newPatternsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			set, err := st.LoadPatternSet(cmd.Context())
			if err != nil {
				return err
			}
			printPatterns(cmd.OutOrStdout(), set)
			return nil
		},
	}
}

func newPatternsSetCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Replace pattern lists, each flag may repeat",
		Example: `  dialogbot patterns set --found "Partner found" --found "Собеседник найден"
  dialogbot patterns set --reset`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			changes := map[string][]string{}
			for _, pf := range patternFlags {
				if cmd.Flags().Changed(pf.flag) {
					v, _ := cmd.Flags().GetStringArray(pf.flag)
					changes[pf.flag] = v
				}
			}
			if !reset && len(changes) == 0 {
				return fmt.Errorf("nothing to change: pass --reset or at least one of --found --skipped --busy --system")
			}

			st, closeFn, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			base := patterns.DefaultSet()
			if !reset {
				if base, err = st.LoadPatternSet(cmd.Context()); err != nil {
					return err
				}
			}
			set, err := mergePatterns(base, changes)
			if err != nil {
				return err
			}
			if err := st.SavePatternSet(cmd.Context(), set); err != nil {
				return err
			}
			printPatterns(cmd.OutOrStdout(), set)
			return nil
		},
	}
	for _, pf := range patternFlags {
		cmd.Flags().StringArray(pf.flag, nil, pf.usage)
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "start from the built-in patterns")
	return cmd
}

// mergePatterns replaces the lists named in changes. Blank entries are dropped
// and a list may not end up empty.
func mergePatterns(base patterns.Set, changes map[string][]string) (patterns.Set, error) {
	out := patterns.Set{
		PartnerFound:    append([]string(nil), base.PartnerFound...),
		PartnerSkipped:  append([]string(nil), base.PartnerSkipped...),
		AlreadyInDialog: append([]string(nil), base.AlreadyInDialog...),
		SystemMessage:   append([]string(nil), base.SystemMessage...),
	}
	for _, pf := range patternFlags {
		values, ok := changes[pf.flag]
		if !ok {
			continue
		}
		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			return patterns.Set{}, fmt.Errorf("--%s needs at least one non-empty pattern", pf.flag)
		}
		*pf.list(&out) = kept
	}
	return out, nil
}

func printPatterns(w io.Writer, set patterns.Set) {
	for _, pf := range patternFlags {
		fmt.Fprintln(w, color.New(color.Bold).Sprint(pf.flag))
		for _, p := range *pf.list(&set) {
			fmt.Fprintln(w, "  "+strconv.Quote(p))
		}
	}
}
