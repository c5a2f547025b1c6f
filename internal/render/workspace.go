package render

import (
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Workspace owns the directories scripts are written to and rendered in.
// Each job gets its own directory under Root; the empty job id means Root
// itself.
type Workspace struct {
	Root string
}

// Dir returns the directory of a job.
func (w *Workspace) Dir(jobID string) (string, error) {
	if jobID == "" {
		return w.Root, nil
	}
	if !jobIDPattern.MatchString(jobID) {
		return "", errors.Errorf("invalid job id %q", jobID)
	}
	return filepath.Join(w.Root, jobID), nil
}

// Write prepares the job directory and writes the script. The script and
// video of a previous render with the same command are deleted first.
func (w *Workspace) Write(jobID string, cmd Command, content string) (string, error) {
	dir, err := w.Dir(jobID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create job directory")
	}
	cmd = cmd.withDefaults()
	for _, stale := range []string{cmd.Script, cmd.OutputName(), cmd.VideoPath()} {
		if err := os.Remove(filepath.Join(dir, stale)); err != nil && !os.IsNotExist(err) {
			return "", errors.Wrapf(err, "remove %s", stale)
		}
	}
	script := filepath.Join(dir, cmd.Script)
	if err := os.WriteFile(script, []byte(content), 0o644); err != nil {
		return "", errors.Wrap(err, "write script")
	}
	return dir, nil
}

// Remove deletes the directory of a job.
func (w *Workspace) Remove(jobID string) error {
	if jobID == "" {
		return nil
	}
	dir, err := w.Dir(jobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
