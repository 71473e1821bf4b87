package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/ofsync/internal/events"
	"github.com/TheMichaelB/ofsync/internal/models"
	"github.com/TheMichaelB/ofsync/internal/registry"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [name]",
	Short: "Rescan folder pairs and update their status",
	Long: `Refresh rescans both sides of a pair and reclassifies it as synced,
local_modified, remote_modified or conflict. Without a name every tracked
pair is refreshed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRefresh,
}

var filesCmd = &cobra.Command{
	Use:   "files <name>",
	Short: "Rescan one side of a pair and list its files",
	Args:  cobra.ExactArgs(1),
	RunE:  runFiles,
}

var filesSide string

func init() {
	rootCmd.AddCommand(refreshCmd, filesCmd)

	filesCmd.Flags().StringVarP(&filesSide, "side", "s", string(models.SideLocal),
		"Side to scan: local or remote")
}

// refreshResult is one line of a refresh-all report.
type refreshResult struct {
	Name   string              `json:"name" yaml:"name"`
	Status models.FolderStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Error  string              `json:"error,omitempty" yaml:"error,omitempty"`
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	r, err := openRegistry(ctx)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		folder, err := r.RefreshFolder(ctx, args[0])
		if err != nil {
			return err
		}
		return render(folder, func() {
			printFolder(folder)
		})
	}

	results, err := refreshAll(ctx, r)
	if err != nil {
		return err
	}

	return render(results, func() {
		w := newTable()
		for _, res := range results {
			if res.Error != "" {
				printError("%s: %s", res.Name, res.Error)
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", res.Name, folderStatusColor(res.Status).Sprint(res.Status))
		}
		_ = w.Flush()
	})
}

// refreshAll refreshes every pair in name order. One failing pair does not
// stop the others. The progress bar advances on each refreshed event.
func refreshAll(ctx context.Context, r *registry.Registry) ([]refreshResult, error) {
	names, err := r.ListFolderNames(ctx)
	if err != nil {
		return nil, err
	}

	bar := pb.New(len(names))
	bar.SetTemplate(`{{counters . }} {{bar . }} {{percent . }}`)
	showBar := outputFormat == outputText && len(names) > 0
	if showBar {
		bar.Start()
	}

	ch, unsubscribe := r.Subscribe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			if ev.Kind != events.FolderRefreshed {
				continue
			}
			logger.WithField("folder", ev.Name).Debug("Folder refreshed")
			bar.Increment()
		}
	}()

	results := make([]refreshResult, 0, len(names))
	for _, name := range names {
		folder, err := r.RefreshFolder(ctx, name)
		if err != nil {
			logger.WithError(err).WithField("folder", name).Warn("Refresh failed")
			results = append(results, refreshResult{Name: name, Error: err.Error()})
			bar.Increment()
			continue
		}
		results = append(results, refreshResult{Name: name, Status: folder.Status})
	}

	unsubscribe()
	wg.Wait()
	if showBar {
		bar.Finish()
	}

	return results, nil
}

func runFiles(cmd *cobra.Command, args []string) error {
	side, err := models.ParseSide(filesSide)
	if err != nil {
		return err
	}

	r, err := openRegistry(cmd.Context())
	if err != nil {
		return err
	}

	records, err := r.ScanSide(cmd.Context(), args[0], side)
	if err != nil {
		return err
	}

	return render(records.Sorted(), func() {
		printFileTable(records)
	})
}
