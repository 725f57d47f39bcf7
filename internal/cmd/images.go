package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/goalrun/internal/container"
	"github.com/felixgeelhaar/goalrun/internal/errors"
)

func newImagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage the container image cache",
		Long: `Manage the image cache used when container.pull is enabled. The cache state
is kept in container.imageCacheDir.`,
	}
	cmd.AddCommand(newImagesPrewarmCmd(), newImagesPruneCmd())
	return cmd
}

func newImagesPrewarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "prewarm SPEC...",
		Short:   "Pull the images of container specs ahead of goal execution",
		Example: `  goalrun images prewarm build.yaml deploy.yaml`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImageCache(cmd, func(ctx context.Context, a *app, images *container.ImageCache) error {
				var refs []string
				policy := container.ImagePolicy{Allowlist: a.cfg.Container.ImageAllowlist}
				for _, path := range args {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read container spec: %w", err)
					}
					spec, err := container.ParseSpec(data, container.FormatFromPath(path))
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					for _, c := range spec.Containers {
						if err := policy.Check(c.Image); err != nil {
							return err
						}
						refs = append(refs, c.Image)
					}
				}

				failures := images.Prewarm(ctx, refs, a.cfg.Container.PullConcurrency)
				for _, ref := range refs {
					if err, failed := failures[ref]; failed {
						fmt.Fprintf(a.out, "  ✗ %s: %v\n", ref, err)
						continue
					}
					fmt.Fprintf(a.out, "  ✓ %s\n", ref)
				}
				if len(failures) > 0 {
					return errors.New(errors.ErrCodeContainerPrepare, fmt.Sprintf("failed to pull %d image(s)", len(failures)))
				}
				return nil
			})
		},
	}
}

func newImagesPruneCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Forget cached images unused for longer than --max-age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withImageCache(cmd, func(ctx context.Context, a *app, images *container.ImageCache) error {
				age := maxAge
				if age <= 0 {
					age = a.cfg.Container.ImageMaxAge
				}
				pruned := images.Prune(age)
				sort.Strings(pruned)
				for _, ref := range pruned {
					fmt.Fprintf(a.out, "  pruned %s\n", ref)
				}
				fmt.Fprintf(a.out, "%d image(s) pruned\n", len(pruned))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "prune images unused for this long (default container.imageMaxAge)")
	return cmd
}

func withImageCache(cmd *cobra.Command, fn func(ctx context.Context, a *app, images *container.ImageCache) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.WithError(err).Warn("shutdown incomplete")
		}
	}()

	if a.cfg.Container.ImageCacheDir == "" {
		return errors.NewConfigInvalidError("container.imageCacheDir is required to manage the image cache")
	}
	rt := container.NewDockerRuntime(a.processes, a.cfg.Process.Timeout, a.logger)
	images := container.NewImageCache(a.cfg.Container.ImageCacheDir, a.cfg.Container.ImageMaxAge, rt, a.logger, a.metrics)
	if err := images.LoadManifest(); err != nil {
		return err
	}
	return fn(ctx, a, images)
}
