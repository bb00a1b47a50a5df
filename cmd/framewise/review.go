package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/framewise/framewise/internal/config"
	"github.com/framewise/framewise/internal/logging"
	"github.com/framewise/framewise/internal/markup"
	"github.com/framewise/framewise/internal/pipeline"
	"github.com/framewise/framewise/internal/review"
	"github.com/framewise/framewise/internal/session"
)

func renderFrame(c *cli.Context) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level := "warn"
	if cfg.LogLevel() == "debug" {
		level = "debug"
	}
	logger := logging.NewStderr(level)

	ffCfg := pipeline.DefaultConfig(logger)
	ffCfg.FFmpegPath = cfg.FFmpegPath()
	ffCfg.FFprobePath = cfg.FFprobePath()

	sess := session.New(session.Options{
		FFmpeg:   pipeline.NewRealFFmpeg(ffCfg),
		Renderer: markup.New(review.Style{Color: cfg.MarkupColor(), Width: cfg.MarkupWidth()}),
		Logger:   logger,
	})
	defer sess.Close()

	if _, err := sess.LoadReview(c.Context, c.String("review")); err != nil {
		return err
	}

	fv, err := sess.Frame(c.Context, c.Int("frame"))
	if err != nil {
		return err
	}
	img := fv.Image
	if !c.Bool("no-overlay") {
		img = sess.Render(fv)
	}
	if w := c.Int("width"); w > 0 {
		img = markup.Fit(img, w, 0)
	}

	out := c.String("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := markup.EncodePNG(f, img); err != nil {
		f.Close()
		os.Remove(out)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s -> %s\n", session.Label(fv.Index, sess.State().Video.FPS), out)
	return nil
}

func listCheckpoints(c *cli.Context) error {
	r, err := review.Load(c.String("review"))
	if err != nil {
		return err
	}
	printCheckpoints(c.App.Writer, r)
	return nil
}

func printCheckpoints(w io.Writer, r *review.Review) {
	cps := session.BuildCheckpoints(review.NewStore(r), r.FPS)
	if len(cps) == 0 {
		fmt.Fprintln(w, "no annotated frames")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FRAME\tMARKUPS\tCOMMENT")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", cp.Label, cp.Markups, firstLine(cp.Comment))
	}
	tw.Flush()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i] + " ..."
		}
	}
	return s
}
