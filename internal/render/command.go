// Package render turns scene scripts into videos with the manim CLI.
package render

import (
	"path"
	"path/filepath"
	"strings"
)

// Command describes one manim invocation. The zero value plus a scene name
// renders "<Scene>.py" to mp4 in the working directory at default quality.
type Command struct {
	Binary   string `json:"binary,omitempty"`
	Script   string `json:"script,omitempty"`
	Scene    string `json:"scene"`
	Format   string `json:"format,omitempty"`
	MediaDir string `json:"media_dir,omitempty"`
	// Quality is one of l, m, h, p, k. Empty leaves it to manim (h).
	Quality string `json:"quality,omitempty"`
}

// qualityDirs are the folder names manim writes each quality to.
var qualityDirs = map[string]string{
	"l": "480p15",
	"m": "720p30",
	"h": "1080p60",
	"p": "1440p60",
	"k": "2160p60",
}

// NewCommand returns the default command for scene:
// manim <scene>.py <scene> --format=mp4 --media_dir .
func NewCommand(scene string) Command {
	return Command{Scene: scene}.withDefaults()
}

func (c Command) withDefaults() Command {
	if c.Binary == "" {
		c.Binary = "manim"
	}
	if c.Scene == "" {
		c.Scene = "GenScene"
	}
	if c.Script == "" {
		c.Script = c.Scene + ".py"
	}
	if c.Format == "" {
		c.Format = "mp4"
	}
	if c.MediaDir == "" {
		c.MediaDir = "."
	}
	if _, ok := qualityDirs[c.Quality]; !ok {
		c.Quality = ""
	}
	return c
}

// Args are the arguments passed to the binary.
func (c Command) Args() []string {
	c = c.withDefaults()
	args := []string{c.Script, c.Scene, "--format=" + c.Format, "--media_dir", c.MediaDir}
	if c.Quality != "" {
		args = append(args, "-q"+c.Quality)
	}
	return args
}

// String is the command line as a user would type it.
func (c Command) String() string {
	c = c.withDefaults()
	return c.Binary + " " + strings.Join(c.Args(), " ")
}

// VideoPath is where manim writes the video, relative to the working
// directory: <media>/videos/<script stem>/<quality dir>/<Scene>.<format>.
func (c Command) VideoPath() string {
	c = c.withDefaults()
	dir := qualityDirs["h"]
	if c.Quality != "" {
		dir = qualityDirs[c.Quality]
	}
	stem := strings.TrimSuffix(path.Base(filepath.ToSlash(c.Script)), path.Ext(c.Script))
	return filepath.Join(c.MediaDir, "videos", stem, dir, c.Scene+"."+c.Format)
}

// OutputName is the file the video is moved to once rendered.
func (c Command) OutputName() string {
	c = c.withDefaults()
	return c.Scene + "." + c.Format
}

// ScriptName is the file name of the script.
func (c Command) ScriptName() string {
	return c.withDefaults().Script
}
