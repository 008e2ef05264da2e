package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zisofs/ziso/pkg/zso"
)

var compressCommand = &cli.Command{
	Name:      "compress",
	Aliases:   []string{"c"},
	Usage:     "compress a raw image into a ZSO or CSO container",
	ArgsUsage: "<in.iso> <out.zso>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "container format, zso (lz4) or cso (deflate)",
		},
		&cli.IntFlag{
			Name:    "block-size",
			Aliases: []string{"b"},
			Usage:   "block size in bytes, a power of two",
		},
		&cli.IntFlag{
			Name:    "level",
			Aliases: []string{"l"},
			Usage:   "compression level, 0 for the method default, 1-9 otherwise",
		},
		&cli.IntFlag{
			Name:    "threshold",
			Aliases: []string{"t"},
			Usage:   "store a block verbatim when compression keeps at least `PERCENT` of its size",
		},
		&cli.IntFlag{
			Name:    "align",
			Aliases: []string{"a"},
			Usage:   "alignment shift 0-6, -1 picks the smallest that fits",
			Value:   zso.AlignAuto,
		},
		&cli.StringFlag{
			Name:    "pad",
			Aliases: []string{"p"},
			Usage:   "alignment filler character",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("expected <in.iso> <out.zso> arguments, got %d", c.NArg())
		}
		srcPath, dstPath := c.Args().Get(0), c.Args().Get(1)

		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if c.IsSet("format") {
			cfg.Format = c.String("format")
		}
		if c.IsSet("block-size") {
			cfg.BlockSize = uint32(c.Int("block-size"))
		}
		if c.IsSet("level") {
			cfg.Level = c.Int("level")
		}
		if c.IsSet("threshold") {
			cfg.Threshold = c.Int("threshold")
		}
		if c.IsSet("align") {
			cfg.Align = c.Int("align")
		}
		if c.IsSet("pad") {
			cfg.Pad = c.String("pad")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		opts := cfg.Options()
		opts.Progress = logProgress("compress")

		logrus.Infof("compressing %s to %s", srcPath, dstPath)
		stats, err := zso.EncodeFile(srcPath, dstPath, opts)
		if err != nil {
			return err
		}

		logrus.Infof("%d blocks (%d compressed, %d stored), %s in, %s out, ratio %.1f%%",
			stats.Blocks, stats.CompressedBlocks, stats.StoredBlocks,
			units.HumanSize(float64(stats.BytesIn)),
			units.HumanSize(float64(stats.BytesOut)),
			100*stats.Ratio())
		return nil
	},
}

// logProgress returns a per-block callback that logs whole percent steps
func logProgress(verb string) func(block, total uint32) {
	last := uint32(0)
	return func(block, total uint32) {
		if total == 0 {
			return
		}
		pct := 100 * block / total
		if pct > last {
			last = pct
			logrus.Debugf("%s %d%%", verb, pct)
		}
	}
}
