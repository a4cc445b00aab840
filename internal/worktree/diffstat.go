package worktree

import (
	"context"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// commitStats computes the files-changed list and insertion/deletion
// counts for a commit by diffing each changed file's pre- and
// post-image text with diffmatchpatch's line-level Myers diff, the
// same algorithm muxd's diff viewer uses for message-content diffs.
func commitStats(ctx context.Context, dir, commitHash string, timeout time.Duration) (files []string, insertions, deletions int, err error) {
	files, err = diffNameOnly(ctx, dir, commitHash, timeout)
	if err != nil {
		return nil, 0, 0, err
	}

	dmp := diffmatchpatch.New()
	for _, f := range files {
		before, _ := showFile(ctx, dir, commitHash+"^", f, timeout)
		after, _ := showFile(ctx, dir, commitHash, f, timeout)

		aChars, bChars, lines := dmp.DiffLinesToChars(before, after)
		diffs := dmp.DiffMain(aChars, bChars, false)
		diffs = dmp.DiffCharsToLines(diffs, lines)

		for _, d := range diffs {
			lineCount := countLines(d.Text)
			switch d.Type {
			case diffmatchpatch.DiffInsert:
				insertions += lineCount
			case diffmatchpatch.DiffDelete:
				deletions += lineCount
			}
		}
	}
	return files, insertions, deletions, nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := 1
	for _, r := range s {
		if r == '\n' {
			n++
		}
	}
	if len(s) > 0 && s[len(s)-1] == '\n' {
		n--
	}
	return n
}
