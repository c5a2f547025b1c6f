package render

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrRenderFailed  = errors.New("render issue: manim exited with an error")
	ErrVideoNotFound = errors.New("render issue: no video was produced")
)

// Runner executes a program in dir and returns its combined output.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Output is a finished render.
type Output struct {
	Dir    string
	Script string
	Video  string
	Log    string
	Took   time.Duration
}

// Renderer writes a script into the workspace and runs manim on it.
type Renderer struct {
	Workspace *Workspace
	Runner    Runner
	Timeout   time.Duration
}

func NewRenderer(workspace *Workspace, timeout time.Duration) *Renderer {
	return &Renderer{Workspace: workspace, Runner: ExecRunner{}, Timeout: timeout}
}

// Render writes content as the script of jobID and renders it. The video is
// moved next to the script. The directory of a failed job is removed; the
// returned Output still carries its log.
func (r *Renderer) Render(ctx context.Context, jobID string, cmd Command, content string) (*Output, error) {
	out, err := r.render(ctx, jobID, cmd, content)
	if err != nil && out != nil {
		if rerr := r.Workspace.Remove(jobID); rerr != nil {
			log.Warn().Err(rerr).Str("job", jobID).Msg("[RENDER] Could not remove job directory")
		}
	}
	return out, err
}

func (r *Renderer) render(ctx context.Context, jobID string, cmd Command, content string) (*Output, error) {
	cmd = cmd.withDefaults()
	dir, err := r.Workspace.Write(jobID, cmd, content)
	if err != nil {
		return nil, err
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	log.Debug().Str("job", jobID).Str("command", cmd.String()).Msg("[RENDER] Running manim")
	start := time.Now()
	out, err := r.Runner.Run(ctx, dir, cmd.Binary, cmd.Args()...)
	res := &Output{
		Dir:    dir,
		Script: filepath.Join(dir, cmd.Script),
		Log:    string(out),
		Took:   time.Since(start),
	}
	if err != nil {
		if ctx.Err() != nil {
			return res, errors.Wrapf(ErrRenderFailed, "timed out after %s", res.Took.Round(time.Second))
		}
		return res, errors.Wrap(ErrRenderFailed, lastLines(res.Log, 20))
	}

	produced := filepath.Join(dir, cmd.VideoPath())
	if _, err := os.Stat(produced); err != nil {
		found, ok := findVideo(dir, cmd)
		if !ok {
			return res, errors.Wrapf(ErrVideoNotFound, "expected %s", cmd.VideoPath())
		}
		produced = found
	}
	res.Video = filepath.Join(dir, cmd.OutputName())
	if err := os.Rename(produced, res.Video); err != nil {
		return res, errors.Wrap(err, "move video")
	}
	return res, nil
}

// findVideo looks for the video under any quality directory.
func findVideo(dir string, cmd Command) (string, bool) {
	pattern := filepath.Join(dir, cmd.MediaDir, "videos", "*", "*", cmd.OutputName())
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1], true
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
