package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/baludesk/baludesk-core/internal/model"
)

func init() {
	conflictsCmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Inspect and resolve sync conflicts",
	}
	conflictsCmd.AddCommand(newConflictsListCmd(), newConflictsResolveCmd())
	rootCmd.AddCommand(conflictsCmd)
}

func newConflictsListCmd() *cobra.Command {
	var folderID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			var folderIDs []string
			if folderID != "" {
				folderIDs = []string{folderID}
			} else {
				folders, err := st.ListFolders()
				if err != nil {
					return err
				}
				for _, f := range folders {
					folderIDs = append(folderIDs, f.ID)
				}
			}

			var any bool
			for _, id := range folderIDs {
				conflicts, err := st.ListPendingConflicts(id)
				if err != nil {
					return err
				}
				for _, c := range conflicts {
					any = true
					fmt.Printf("%s  %-28s %-9s %s\n", c.ID, c.RelPath, cyan(string(c.Kind)), c.DetectedAt.Format("2006-01-02T15:04:05Z07:00"))
				}
			}
			if !any {
				fmt.Println("no pending conflicts")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&folderID, "folder", "f", "", "restrict to a single folder ID")
	return cmd
}

func newConflictsResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id> <resolution>",
		Short: "Resolve a conflict (kept-local | kept-remote | kept-both-renamed | ignored)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			resolution := model.ConflictResolution(args[1])
			switch resolution {
			case model.ResolutionKeptLocal, model.ResolutionKeptRemote, model.ResolutionKeptBothRename, model.ResolutionIgnored:
			default:
				return fmt.Errorf("invalid resolution %q", args[1])
			}

			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.ResolveConflict(args[0], resolution); err != nil {
				return err
			}
			fmt.Println(green("resolved"), args[0], "as", string(resolution))
			return nil
		},
	}
	return cmd
}
