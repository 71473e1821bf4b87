package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/TheMichaelB/ofsync/internal/models"
)

var addCmd = &cobra.Command{
	Use:   "add <name> <local-path> <remote-path>",
	Short: "Start tracking a folder pair",
	Long: `Add registers a local/remote folder pair, creates a tracking store in
each folder and records the result of a first scan.

A path that is not a directory is replaced by its parent directory.`,
	Example: `  ofsync add Docs ~/Documents /media/usb/Documents`,
	Args:    cobra.ExactArgs(3),
	RunE:    runAdd,
}

var removeCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Stop tracking a folder pair",
	Long: `Remove deletes the tracking store on both sides and the registry entry.
The folders and their files are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tracked folder pairs",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show one tracked folder pair",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var updateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Rename a pair or move one of its sides",
	Example: `  ofsync update Docs --name Papers
  ofsync update Docs --remote /media/other-usb/Documents`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var (
	removeYes    bool
	updateName   string
	updateLocal  string
	updateRemote string
)

func init() {
	rootCmd.AddCommand(addCmd, removeCmd, listCmd, showCmd, updateCmd)

	removeCmd.Flags().BoolVarP(&removeYes, "yes", "y", false,
		"Do not ask for confirmation")

	updateCmd.Flags().StringVar(&updateName, "name", "", "New name")
	updateCmd.Flags().StringVar(&updateLocal, "local", "", "New local path")
	updateCmd.Flags().StringVar(&updateRemote, "remote", "", "New remote path")
}

func runAdd(cmd *cobra.Command, args []string) error {
	r, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	folder, err := r.AddFolder(cmd.Context(), args[0], args[1], args[2])
	if err != nil {
		return err
	}

	return render(folder, func() {
		printSuccess("Tracking %q", folder.Name)
		printFolder(folder)
	})
}

func runRemove(cmd *cobra.Command, args []string) error {
	name := args[0]

	if !removeYes && term.IsTerminal(int(os.Stdin.Fd())) {
		ok, err := confirm(os.Stdin, fmt.Sprintf("Stop tracking %q and delete its tracking stores? [y/N]: ", name))
		if err != nil {
			return err
		}
		if !ok {
			printWarning("Aborted")
			return nil
		}
	}

	r, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	if err := r.RemoveFolder(cmd.Context(), name); err != nil {
		return err
	}

	return render(map[string]interface{}{"removed": name}, func() {
		printSuccess("Stopped tracking %q", name)
	})
}

func runList(cmd *cobra.Command, args []string) error {
	r, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	folders, err := r.GetAllFoldersData(cmd.Context())
	if err != nil {
		return err
	}
	if folders == nil {
		folders = []*models.TrackedFolder{}
	}

	return render(folders, func() {
		printFolderTable(folders)
	})
}

func runShow(cmd *cobra.Command, args []string) error {
	r, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	folder, err := r.GetFolderData(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return render(folder, func() {
		printFolder(folder)
	})
}

func runUpdate(cmd *cobra.Command, args []string) error {
	patch := models.FolderPatch{
		Name:       updateName,
		LocalPath:  updateLocal,
		RemotePath: updateRemote,
	}
	if patch.IsEmpty() {
		return fmt.Errorf("nothing to update: pass --name, --local or --remote")
	}

	r, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	folder, err := r.SetFolderData(cmd.Context(), args[0], patch)
	if err != nil {
		return err
	}

	return render(folder, func() {
		printSuccess("Updated %q", folder.Name)
		printFolder(folder)
	})
}

// confirm prints prompt to stderr and reads a yes/no answer from in.
func confirm(in io.Reader, prompt string) (bool, error) {
	fmt.Fprint(os.Stderr, prompt)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
