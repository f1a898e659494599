package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/baludesk/baludesk-core/internal/model"
	"github.com/baludesk/baludesk-core/internal/store"
)

// conflictPolicyFlag adapts model.ConflictPolicy to pflag.Value so
// --conflict-policy rejects an unrecognized value at parse time instead
// of after the store round-trip.
type conflictPolicyFlag struct {
	policy *model.ConflictPolicy
}

func (f conflictPolicyFlag) String() string {
	if f.policy == nil || *f.policy == "" {
		return string(model.PolicyAskUser)
	}
	return string(*f.policy)
}

func (f conflictPolicyFlag) Set(v string) error {
	p := model.ConflictPolicy(v)
	if !p.Valid() {
		return fmt.Errorf("must be one of ask-user, keep-local, keep-remote, keep-newest")
	}
	*f.policy = p
	return nil
}

func (f conflictPolicyFlag) Type() string { return "conflict-policy" }

var _ pflag.Value = conflictPolicyFlag{}

func init() {
	folderCmd := &cobra.Command{
		Use:   "folder",
		Short: "Manage configured sync folders",
	}
	folderCmd.AddCommand(newFolderAddCmd(), newFolderRemoveCmd(), newFolderListCmd())
	rootCmd.AddCommand(folderCmd)
}

// openConfiguredStore opens the same metadata database the daemon uses,
// so folder/conflict subcommands reflect the daemon's view even when it
// isn't currently running.
func openConfiguredStore() (*store.Store, error) {
	cfg, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(databasePath(cfg))
}

func newFolderAddCmd() *cobra.Command {
	var remotePath string
	cp := model.PolicyAskUser

	cmd := &cobra.Command{
		Use:   "add <local-path>",
		Short: "Register a new folder to sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", args[0])
			}

			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			folder := &model.SyncFolder{
				LocalPath:      args[0],
				RemotePath:     remotePath,
				Enabled:        true,
				ConflictPolicy: cp,
			}
			if err := st.AddFolder(folder); err != nil {
				return err
			}
			fmt.Println(green("added"), folder.ID, folder.LocalPath, "->", folder.RemotePath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&remotePath, "remote", "r", "", "remote path this folder maps to")
	cmd.Flags().VarP(conflictPolicyFlag{policy: &cp}, "conflict-policy", "p", "ask-user | keep-local | keep-remote | keep-newest")
	cmd.MarkFlagRequired("remote")

	return cmd
}

func newFolderRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <folder-id>",
		Short: "Stop syncing and delete a configured folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RemoveFolder(args[0]); err != nil {
				return err
			}
			fmt.Println(green("removed"), args[0])
			return nil
		},
	}
	return cmd
}

func newFolderListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			st, err := openConfiguredStore()
			if err != nil {
				return err
			}
			defer st.Close()

			folders, err := st.ListFolders()
			if err != nil {
				return err
			}
			if len(folders) == 0 {
				fmt.Println("no folders configured")
				return nil
			}
			for _, f := range folders {
				status := green("enabled")
				if !f.Enabled {
					status = red("disabled")
				}
				fmt.Printf("%s  %-8s %s -> %s  [%s]\n", f.ID, status, f.LocalPath, f.RemotePath, cyan(string(f.ConflictPolicy)))
			}
			return nil
		},
	}
	return cmd
}
