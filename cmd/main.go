package main

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/theos-os/imager/builder"
	"github.com/theos-os/imager/utilities/compression"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "imager",
		Usage: "Build and inspect bootable exFAT and FAT disk images",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "log layout decisions"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "only log errors"},
		},
		Before: setLogLevel,
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "Build an image from a boot sector template and a directory",
				Action:    buildImage,
				ArgsUsage: "BOOT_SECTOR SOURCE_DIR",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "write the image to `FILE` instead of stdout",
					},
					&cli.Uint64Flag{
						Name:    "seed",
						Usage:   "seed for the volume serial number and GUID (default: current time)",
						EnvVars: []string{"IMAGER_SEED"},
					},
					&cli.StringFlag{
						Name:    "label",
						Usage:   "volume label",
						Value:   builder.DefaultLabel,
						EnvVars: []string{"IMAGER_LABEL"},
					},
					&cli.StringFlag{
						Name:    "timestamp",
						Usage:   "RFC3339 `TIME` stored in every directory entry (default: now)",
						EnvVars: []string{"IMAGER_TIMESTAMP"},
					},
					&cli.StringFlag{
						Name:  "manifest",
						Usage: "write a CSV listing of where every file was placed to `FILE`",
					},
					&cli.BoolFlag{
						Name:  "compress",
						Usage: "compress the image with RLE8 and gzip",
					},
				},
			},
			{
				Name:      "inspect",
				Usage:     "Print the boot sector and directory tree of an image",
				Action:    inspectImage,
				ArgsUsage: "IMAGE",
			},
			{
				Name:      "decompress",
				Usage:     "Expand an image written with build --compress",
				Action:    decompressImage,
				ArgsUsage: "INPUT OUTPUT",
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func setLogLevel(context *cli.Context) error {
	switch {
	case context.Bool("debug"):
		log.SetLevel(log.DebugLevel)
	case context.Bool("quiet"):
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	return nil
}

// requireArgs fails with the command's usage if it didn't get exactly `count`
// positional arguments.
func requireArgs(context *cli.Context, count int) error {
	if context.NArg() == count {
		return nil
	}
	cli.ShowSubcommandHelp(context)
	return cli.Exit(
		fmt.Sprintf("%s: expected %d arguments, got %d", context.Command.Name, count, context.NArg()),
		2)
}

func buildOptions(context *cli.Context) (builder.Options, error) {
	options := builder.Options{
		Fs:           afero.NewOsFs(),
		TemplatePath: context.Args().Get(0),
		SourceDir:    context.Args().Get(1),
		Label:        context.String("label"),
		Timestamp:    time.Now(),
	}

	if context.IsSet("seed") {
		seed := context.Uint64("seed")
		if seed > math.MaxUint32 {
			return options, cli.Exit(fmt.Sprintf("seed %d doesn't fit in 32 bits", seed), 2)
		}
		options.Seed = uint32(seed)
	} else {
		options.Seed = uint32(time.Now().Unix())
	}

	if context.IsSet("timestamp") {
		timestamp, err := time.Parse(time.RFC3339, context.String("timestamp"))
		if err != nil {
			return options, cli.Exit(fmt.Sprintf("invalid timestamp: %s", err), 2)
		}
		options.Timestamp = timestamp
	}
	return options, nil
}

func buildImage(context *cli.Context) error {
	err := requireArgs(context, 2)
	if err != nil {
		return err
	}
	options, err := buildOptions(context)
	if err != nil {
		return err
	}
	log.Debugf("building with seed %d", options.Seed)

	result, err := builder.Build(options)
	if err != nil {
		return err
	}

	output := context.String("output")
	switch {
	case output == "" || output == "-":
		err = writeToStdout(result, context.Bool("compress"))
	case context.Bool("compress"):
		err = builder.WriteCompressedImage(options.Fs, output, result)
	default:
		err = builder.WriteImage(options.Fs, output, result)
	}
	if err != nil {
		return err
	}

	manifestPath := context.String("manifest")
	if manifestPath != "" {
		err = builder.WriteManifestFile(options.Fs, manifestPath, result.Placements)
		if err != nil {
			return err
		}
	}

	log.Infof(
		"built %s image of %s holding %d files in %d directories",
		result.FileSystemType,
		humanize.IBytes(uint64(len(result.Image))),
		result.Files,
		result.Directories)
	return nil
}

func writeToStdout(result *builder.Result, compress bool) error {
	if compress {
		_, err := compression.CompressImage(bytes.NewReader(result.Image), os.Stdout)
		return err
	}
	_, err := os.Stdout.Write(result.Image)
	return err
}

func inspectImage(context *cli.Context) error {
	err := requireArgs(context, 1)
	if err != nil {
		return err
	}

	stream, err := builder.LoadImage(afero.NewOsFs(), context.Args().First())
	if err != nil {
		return err
	}
	_, err = builder.Inspect(stream, os.Stdout)
	return err
}

func decompressImage(context *cli.Context) error {
	err := requireArgs(context, 2)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	sourceFile, err := fs.Open(context.Args().Get(0))
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	outFile, err := fs.Create(context.Args().Get(1))
	if err != nil {
		return err
	}
	defer outFile.Close()

	nWritten, err := compression.DecompressImage(sourceFile, outFile)
	if err != nil {
		return err
	}
	log.Infof("expanded image to %s", humanize.IBytes(uint64(nWritten)))
	return nil
}
