package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmsylvan/corrigo/internal/archive"
	"github.com/tmsylvan/corrigo/internal/blob"
	"github.com/tmsylvan/corrigo/internal/config"
	"github.com/tmsylvan/corrigo/internal/model"
	"github.com/tmsylvan/corrigo/internal/store"
)

var (
	exportCourse  string
	exportTask    string
	exportOwner   string
	exportGroupBy []string
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export submissions to a tar.gz archive",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportCourse, "course", "", "course id (required)")
	exportCmd.Flags().StringVar(&exportTask, "task", "", "task id (required)")
	exportCmd.Flags().StringVar(&exportOwner, "owner", "", "restrict to one owner")
	exportCmd.Flags().StringSliceVar(&exportGroupBy, "group-by", nil, "directory nesting: task, owner")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "submissions.tgz", "output file")
	_ = exportCmd.MarkFlagRequired("course")
	_ = exportCmd.MarkFlagRequired("task")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	ctx := cmd.Context()

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	blobs, err := blob.NewFSStore(cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	subs, err := collectSubmissions(ctx, db)
	if err != nil {
		return err
	}

	var grouping []archive.Group
	for _, g := range exportGroupBy {
		grouping = append(grouping, archive.Group(g))
	}

	bundles := make([]archive.Bundle, 0, len(subs))
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, sub := range subs {
		b := archive.Bundle{Submission: sub}
		if input, err := readInput(ctx, blobs, sub.InputRef); err == nil {
			b.Input = input
		}
		if sub.ArchiveRef != "" {
			if rc, err := blobs.Get(ctx, sub.ArchiveRef); err == nil {
				closers = append(closers, rc)
				b.Archive = rc
			}
		}
		bundles = append(bundles, b)
	}

	out, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if err := archive.Export(out, bundles, grouping); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d submissions to %s\n", len(bundles), exportOut)
	return nil
}

func collectSubmissions(ctx context.Context, db store.Store) ([]*model.Submission, error) {
	if exportOwner != "" {
		subs, err := db.ListForTask(ctx, exportOwner, exportCourse, exportTask)
		if err != nil {
			return nil, fmt.Errorf("list submissions: %w", err)
		}
		return subs, nil
	}
	subs, err := db.ListAllForTask(ctx, exportCourse, exportTask)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

func readInput(ctx context.Context, blobs blob.Store, ref string) (model.Input, error) {
	rc, err := blobs.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var input model.Input
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}
