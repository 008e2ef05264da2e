package main

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"

	"github.com/zisofs/ziso/pkg/zso"
	"github.com/zisofs/ziso/pkg/zso/header"
)

var infoCommand = &cli.Command{
	Name:      "info",
	Usage:     "print container header details",
	ArgsUsage: "<file.zso>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("expected a <file.zso> argument, got %d", c.NArg())
		}
		path := c.Args().Get(0)

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil {
			return err
		}

		r, err := zso.NewReader(f)
		if err != nil {
			return err
		}
		h := r.Header()

		fmt.Printf("format:      %s (%s blocks)\n", formatName(h.Magic), r.Method())
		fmt.Printf("version:     %d\n", h.Version)
		fmt.Printf("image size:  %s (%d bytes)\n", units.HumanSize(float64(h.TotalBytes)), h.TotalBytes)
		fmt.Printf("block size:  %d bytes\n", h.BlockSize)
		fmt.Printf("blocks:      %d\n", h.BlockCount())
		fmt.Printf("align shift: %d (%d byte boundaries)\n", h.Align, 1<<h.Align)
		fmt.Printf("file size:   %s (%d bytes), ratio %.1f%%\n",
			units.HumanSize(float64(stat.Size())), stat.Size(),
			100*float64(stat.Size())/float64(h.TotalBytes))
		return nil
	},
}

func formatName(magic uint32) string {
	switch magic {
	case header.MagicZSO:
		return "zso"
	case header.MagicCSO:
		return "cso"
	default:
		return fmt.Sprintf("unknown(0x%08x)", magic)
	}
}
