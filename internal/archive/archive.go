// Package archive builds compressed exports of submissions for offline
// inspection: one structured-data file and one raw-files folder per
// submission, nested by an arbitrary combination of task and owner-group
// directories.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/tmsylvan/corrigo/internal/model"
)

// Group selects one level of directory nesting in the export.
type Group string

const (
	// ByTask nests submissions under their task id.
	ByTask Group = "task"
	// ByOwner nests submissions under their joined owner set.
	ByOwner Group = "owner"
)

// Bundle pairs a submission with its decoded input and, when present, a
// reader over its result archive (itself a tar.gz).
type Bundle struct {
	Submission *model.Submission
	Input      model.Input
	Archive    io.Reader
}

// doubleExtensions are filename suffixes treated as one extension when
// deriving the exported name of an uploaded file.
var doubleExtensions = []string{".tar.gz", ".tar.bz2", ".tar.bz", ".tar.xz"}

// Export writes a tar.gz archive of the bundles to w, nested per grouping.
// Duplicate destination paths are written once.
func Export(w io.Writer, bundles []Bundle, grouping []Group) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	written := make(map[string]bool)

	for _, b := range bundles {
		if err := exportOne(tw, b, grouping, written); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

func exportOne(tw *tar.Writer, b Bundle, grouping []Group, written map[string]bool) error {
	sub := b.Submission
	base := basePath(sub, grouping) + sub.ID + "/"

	metaName := base + "submission.json"
	if written[metaName] {
		return nil
	}
	written[metaName] = true

	meta, err := json.MarshalIndent(struct {
		*model.Submission
		Input model.Input `json:"input,omitempty"`
	}{sub, b.Input}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode submission %s: %w", sub.ID, err)
	}
	if err := writeFile(tw, metaName, meta, sub); err != nil {
		return err
	}

	if b.Archive != nil {
		if err := copyArchive(tw, base+"archive/", b.Archive, written); err != nil {
			return fmt.Errorf("copy archive of %s: %w", sub.ID, err)
		}
	}

	for pid := range b.Input {
		f, ok := b.Input.FileAnswer(pid)
		if !ok {
			continue
		}
		name := base + "uploaded_files/" + pid + fileExt(f.Filename)
		if written[name] {
			continue
		}
		written[name] = true
		if err := writeFile(tw, name, f.Value, sub); err != nil {
			return err
		}
	}
	return nil
}

// basePath composes the directory prefix for a submission from the grouping
// levels, innermost level last.
func basePath(sub *model.Submission, grouping []Group) string {
	base := ""
	for _, g := range grouping {
		switch g {
		case ByTask:
			base += sub.TaskID + "/"
		case ByOwner:
			base += strings.Join(sub.Owners, "-") + "/"
		}
	}
	return base
}

func writeFile(tw *tar.Writer, name string, data []byte, sub *model.Submission) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: sub.SubmittedAt,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// copyArchive re-roots every member of the submission's result archive under
// prefix.
func copyArchive(tw *tar.Writer, prefix string, r io.Reader, written map[string]bool) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read member: %w", err)
		}
		name := prefix + path.Clean(strings.TrimPrefix(hdr.Name, "/"))
		if written[name] {
			continue
		}
		written[name] = true

		hdr.Name = name
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write member header %s: %w", name, err)
		}
		if _, err := io.Copy(tw, tr); err != nil {
			return fmt.Errorf("copy member %s: %w", name, err)
		}
	}
}

// fileExt returns the extension of an uploaded filename, honoring the
// double-extension suffixes.
func fileExt(filename string) string {
	for _, ext := range doubleExtensions {
		if strings.HasSuffix(filename, ext) {
			return ext
		}
	}
	return path.Ext(filename)
}
