package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/TheMichaelB/ofsync/internal/models"
)

// Output formats.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var stdout io.Writer = os.Stdout

func printSuccess(format string, args ...interface{}) {
	color.New(color.FgGreen).Fprintf(stdout, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	color.New(color.FgRed).Fprintf(os.Stderr, format+"\n", args...)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

// render prints v as json or yaml, or calls text for the text format.
func render(v interface{}, text func()) error {
	switch outputFormat {
	case outputJSON:
		return printJSON(v)
	case outputYAML:
		return printYAML(v)
	default:
		text()
		return nil
	}
}

func folderStatusColor(s models.FolderStatus) *color.Color {
	switch s {
	case models.FolderSynced:
		return color.New(color.FgGreen)
	case models.FolderLocalModified, models.FolderRemoteModified:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func fileStatusColor(s models.FileStatus) *color.Color {
	switch s {
	case models.FileSynced:
		return color.New(color.FgGreen)
	case models.FileNew:
		return color.New(color.FgCyan)
	case models.FileModified:
		return color.New(color.FgYellow)
	case models.FileDeleted:
		return color.New(color.FgHiBlack)
	default:
		return color.New(color.FgRed)
	}
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
}

func printFolderTable(folders []*models.TrackedFolder) {
	if len(folders) == 0 {
		fmt.Fprintln(stdout, "No tracked folders.")
		return
	}

	w := newTable()
	fmt.Fprintln(w, "NAME\tSTATUS\tLOCAL\tREMOTE\tLAST SYNC")
	for _, f := range folders {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			f.Name,
			folderStatusColor(f.Status).Sprint(f.Status),
			f.LocalPath,
			f.RemotePath,
			formatTime(f.LastSync))
	}
	_ = w.Flush()
}

func printFolder(f *models.TrackedFolder) {
	w := newTable()
	fmt.Fprintf(w, "Name:\t%s\n", f.Name)
	fmt.Fprintf(w, "Status:\t%s\n", folderStatusColor(f.Status).Sprint(f.Status))
	fmt.Fprintf(w, "Local:\t%s\n", f.LocalPath)
	fmt.Fprintf(w, "Remote:\t%s\n", f.RemotePath)
	fmt.Fprintf(w, "Local hash:\t%s\n", f.LocalHash)
	fmt.Fprintf(w, "Remote hash:\t%s\n", f.RemoteHash)
	fmt.Fprintf(w, "Last sync:\t%s\n", formatTime(f.LastSync))
	_ = w.Flush()
}

func printFileTable(records models.FileRecords) {
	if len(records) == 0 {
		fmt.Fprintln(stdout, "No files.")
		return
	}

	w := newTable()
	fmt.Fprintln(w, "FILE\tSTATUS\tLAST SYNC\tHASH")
	for _, rec := range records.Sorted() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.Filename,
			fileStatusColor(rec.Status).Sprint(rec.Status),
			formatTime(rec.LastSync),
			shortHash(rec.Hash))
	}
	_ = w.Flush()

	counts := records.CountByStatus()
	fmt.Fprintf(stdout, "\n%d files: %d synced, %d new, %d modified, %d deleted, %d errors\n",
		len(records),
		counts[models.FileSynced],
		counts[models.FileNew],
		counts[models.FileModified],
		counts[models.FileDeleted],
		counts[models.FileError])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func shortHash(h string) string {
	if h == "" {
		return "-"
	}
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
