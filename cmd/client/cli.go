package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

var writeCmd = &cli.Command{
	Name:  "write",
	Usage: "Write a local file to the cluster",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file-path",
			Required: true,
			Usage:    "Path to file you want to write",
		},
		&cli.StringFlag{
			Name:     "dfs-path",
			Required: true,
			Usage:    "Path where you want to store your file",
		},
	},
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}

		defer c.Close()

		content, err := os.ReadFile(ctx.String("file-path"))
		if err != nil {
			return err
		}

		metadata, err := c.WriteFile(ctx.Context, ctx.String("dfs-path"), content)
		if err != nil {
			return err
		}

		log.Infow("write", "path", metadata.Path, "bytes", metadata.Size, "chunks", metadata.NumChunks)
		return nil
	},
}

var readCmd = &cli.Command{
	Name:  "read",
	Usage: "Read a file from the cluster",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "dfs-path",
			Required: true,
			Usage:    "Path of the file on the cluster",
		},
		&cli.StringFlag{
			Name:  "out",
			Usage: "Local file to write to, stdout if empty",
		},
	},
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}

		defer c.Close()

		data, err := c.ReadFile(ctx.Context, ctx.String("dfs-path"))
		if err != nil {
			return err
		}

		if out := ctx.String("out"); out != "" {
			return os.WriteFile(out, data, 0644)
		}

		_, err = os.Stdout.Write(data)
		return err
	},
}

var listCmd = &cli.Command{
	Name:  "list",
	Usage: "List all files",
	Action: func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}

		defer c.Close()

		files, err := c.ListFiles(ctx.Context)
		if err != nil {
			return err
		}

		for _, file := range files {
			fmt.Printf("%s\t%d\t%d\t%s\t%s\n", file.Path, file.Size, file.NumChunks, file.Redundancy, file.ID)
		}

		return nil
	},
}
