package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/zisofs/ziso/pkg/zso"
)

var verifyCommand = &cli.Command{
	Name:      "verify",
	Usage:     "decode every block and report the image digest",
	ArgsUsage: "<file.zso>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "against",
			Usage: "compare the digest with the raw image at `FILE`",
		},
	},
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

		digest := xxhash.New()
		stats, err := zso.Decode(digest, f)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		sum := digest.Sum64()
		logrus.Infof("%d blocks decoded, image digest xxh64:%016x", stats.Blocks, sum)

		if against := c.String("against"); against != "" {
			raw, err := os.Open(against)
			if err != nil {
				return err
			}
			defer raw.Close()

			want := xxhash.New()
			if _, err := io.Copy(want, raw); err != nil {
				return err
			}
			if want.Sum64() != sum {
				return fmt.Errorf("digest mismatch: container decodes to xxh64:%016x, %s has xxh64:%016x",
					sum, against, want.Sum64())
			}
			logrus.Infof("digest matches %s", against)
		}
		return nil
	},
}
