package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zisofs/ziso/pkg/zso"
)

var decompressCommand = &cli.Command{
	Name:      "decompress",
	Aliases:   []string{"d"},
	Usage:     "restore a ZSO or CSO container to a raw image",
	ArgsUsage: "<in.zso> <out.iso>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("expected <in.zso> <out.iso> arguments, got %d", c.NArg())
		}
		srcPath, dstPath := c.Args().Get(0), c.Args().Get(1)

		logrus.Infof("decompressing %s to %s", srcPath, dstPath)
		stats, err := zso.DecodeFile(srcPath, dstPath)
		if err != nil {
			return err
		}

		logrus.Infof("%d blocks (%d compressed), %s restored from %s",
			stats.Blocks, stats.CompressedBlocks,
			units.HumanSize(float64(stats.BytesOut)),
			units.HumanSize(float64(stats.BytesIn)))
		return nil
	},
}
