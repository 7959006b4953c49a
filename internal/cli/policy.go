package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/psbthsm/internal/catalog"
	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
)

// PolicyInfo describes one policy in command output.
type PolicyInfo struct {
	ID     string        `json:"id"`
	CID    string        `json:"cid"`
	Kind   model.SigType `json:"kind"`
	Script string        `json:"script"`
	Added  *bool         `json:"added,omitempty"`
}

func newPolicyInfo(p policy.Policy) PolicyInfo {
	id := p.ID()
	return PolicyInfo{ID: id.String(), CID: id.CID(), Kind: p.Kind, Script: p.Script}
}

// PolicyList is the result of policy id, check, add and ls.
type PolicyList struct {
	Policies []PolicyInfo `json:"policies"`
}

func (l PolicyList) String() string {
	if len(l.Policies) == 0 {
		return "no policies"
	}
	var b strings.Builder
	for i, p := range l.Policies {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s  %-11s  %s", p.ID, p.Kind, p.Script)
		if p.Added != nil && !*p.Added {
			b.WriteString("  (already present)")
		}
	}
	return b.String()
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the policy catalog",
		Long: `Policies are YAML documents with a kind (transaction or message) and
a CUE script evaluated against each signing request:

  kind: transaction
  script: request.tx.output_total <= 100000

A file may hold several documents separated by "---".`,
	}

	cmd.AddCommand(newPolicyIDCommand(rootOpts))
	cmd.AddCommand(newPolicyCheckCommand(rootOpts))
	cmd.AddCommand(newPolicyAddCommand(rootOpts))
	cmd.AddCommand(newPolicyRemoveCommand(rootOpts))
	cmd.AddCommand(newPolicyListCommand(rootOpts))
	return cmd
}

func newPolicyIDCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "id <file>",
		Short: "Print the identifiers of the policies in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyFile(cmd, rootOpts, args[0], nil)
		},
	}
}

func newPolicyCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a policy file without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyFile(cmd, rootOpts, args[0], nil)
		},
	}
}

func newPolicyAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Validate a policy file and store its policies in the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := openCatalog(rootOpts)
			if err != nil {
				return err
			}
			defer cat.Close()

			return runPolicyFile(cmd, rootOpts, args[0], func(ctx context.Context, p policy.Policy, info *PolicyInfo) error {
				_, inserted, err := cat.Put(ctx, p)
				if err != nil {
					return err
				}
				info.Added = &inserted
				rootOpts.Logger.Debug().Str("policy", p.ID().Short()).Bool("inserted", inserted).Msg("stored policy")
				return nil
			})
		},
	}
}

// runPolicyFile loads path, applies store to each policy if non-nil, and
// reports the result.
func runPolicyFile(cmd *cobra.Command, rootOpts *RootOptions, path string, store func(context.Context, policy.Policy, *PolicyInfo) error) error {
	out := rootOpts.Formatter(cmd)

	policies, err := policy.LoadFile(path)
	if err != nil {
		return out.Fail(failureCode(err), "load policies", err)
	}

	list := PolicyList{Policies: make([]PolicyInfo, 0, len(policies))}
	for _, p := range policies {
		info := newPolicyInfo(p)
		if store != nil {
			if err := store(cmd.Context(), p, &info); err != nil {
				return out.Fail(failureCode(err), "store policy", err)
			}
		}
		list.Policies = append(list.Policies, info)
	}
	return out.Success(list)
}

func newPolicyRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"remove"},
		Short:   "Remove policies from the catalog by identifier",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.Formatter(cmd)

			ids := make([]policy.ID, 0, len(args))
			for _, arg := range args {
				id, err := policy.ParseID(arg)
				if err != nil {
					return WrapExitError(ExitCommandError, "parse policy id", err)
				}
				ids = append(ids, id)
			}

			cat, err := openCatalog(rootOpts)
			if err != nil {
				return err
			}
			defer cat.Close()

			removed := make([]string, 0, len(ids))
			for _, id := range ids {
				if err := cat.Delete(cmd.Context(), id); err != nil {
					return out.Fail(failureCode(err), "remove policy "+id.Short(), err)
				}
				removed = append(removed, id.String())
			}
			return out.Success(removedList{Removed: removed})
		},
	}
}

type removedList struct {
	Removed []string `json:"removed"`
}

func (r removedList) String() string {
	return "removed " + strings.Join(r.Removed, "\nremoved ")
}

func newPolicyListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List the policies in the catalog in the order they were added",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.Formatter(cmd)

			cat, err := openCatalog(rootOpts)
			if err != nil {
				return err
			}
			defer cat.Close()

			entries, err := cat.List(cmd.Context())
			if err != nil {
				return out.Fail(failureCode(err), "list policies", err)
			}

			list := PolicyList{Policies: make([]PolicyInfo, 0, len(entries))}
			for _, e := range entries {
				list.Policies = append(list.Policies, newPolicyInfo(e.Policy))
			}
			return out.Success(list)
		},
	}
}

func openCatalog(rootOpts *RootOptions) (*catalog.Catalog, error) {
	cat, err := catalog.Open(rootOpts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open catalog "+rootOpts.Database, err)
	}
	return cat, nil
}

// failureCode maps a module error to an exit code: refusals and invalid
// input are ExitFailure, everything else is a command error.
func failureCode(err error) int {
	switch model.CodeOf(err) {
	case model.CodeUnknown:
		return ExitCommandError
	default:
		return ExitFailure
	}
}
