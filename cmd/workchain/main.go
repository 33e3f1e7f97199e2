package main

import (
	"log"
	"os"

	"github.com/hamba/cmd"
	"github.com/nrwiersma/workchain/behavior"
	"gopkg.in/urfave/cli.v2"
)

import _ "github.com/joho/godotenv/autoload"

const (
	flagDataDir           = "data-dir"
	flagStorage           = "storage"
	flagWorkers           = "workers"
	flagConstraintTimeout = "constraint-timeout"
	flagCharging          = "charging"
	flagDelay             = "delay"
	flagImage             = "image"
	flagBlurLevel         = "blur-level"
	flagName              = "name"
	flagAddr              = "addr"
	flagChainFile         = "chain-file"
)

var version = "¯\\_(ツ)_/¯"

var orchestratorFlags = cmd.Flags{
	&cli.StringFlag{
		Name:    flagDataDir,
		Usage:   "The path under which to store images and state.",
		Value:   "/tmp/workchain",
		EnvVars: []string{"WORKCHAIN_DATA_DIR"},
	},
	&cli.StringFlag{
		Name:    flagStorage,
		Usage:   "The state storage to use (memory, bolt or sqlite).",
		Value:   "bolt",
		EnvVars: []string{"WORKCHAIN_STORAGE"},
	},
	&cli.IntFlag{
		Name:    flagWorkers,
		Usage:   "The number of jobs that can run at the same time.",
		Value:   4,
		EnvVars: []string{"WORKCHAIN_WORKERS"},
	},
	&cli.DurationFlag{
		Name:    flagConstraintTimeout,
		Usage:   "How long a job may wait for its constraints. Zero waits forever.",
		EnvVars: []string{"WORKCHAIN_CONSTRAINT_TIMEOUT"},
	},
	&cli.BoolFlag{
		Name:    flagCharging,
		Usage:   "Whether the device is charging.",
		Value:   true,
		EnvVars: []string{"WORKCHAIN_CHARGING"},
	},
	&cli.DurationFlag{
		Name:    flagDelay,
		Usage:   "The simulated delay of each image job.",
		Value:   behavior.DefaultDelay,
		EnvVars: []string{"WORKCHAIN_DELAY"},
	},
}

var commands = []*cli.Command{
	{
		Name:  "run",
		Usage: "Blur an image and save the result",
		Flags: cmd.Flags{
			&cli.StringFlag{
				Name:    flagImage,
				Usage:   "The path or file uri of the png image to blur.",
				EnvVars: []string{"WORKCHAIN_IMAGE"},
			},
			&cli.IntFlag{
				Name:    flagBlurLevel,
				Usage:   "The number of times to blur the image.",
				Value:   1,
				EnvVars: []string{"WORKCHAIN_BLUR_LEVEL"},
			},
		}.Merge(orchestratorFlags).Merge(cmd.CommonFlags),
		Action: runBlur,
	},
	{
		Name:  "cancel",
		Usage: "Cancel a chain",
		Flags: cmd.Flags{
			&cli.StringFlag{
				Name:    flagName,
				Usage:   "The name of the chain to cancel.",
				Value:   behavior.ChainName,
				EnvVars: []string{"WORKCHAIN_NAME"},
			},
		}.Merge(orchestratorFlags).Merge(cmd.CommonFlags),
		Action: runCancel,
	},
	{
		Name:  "serve",
		Usage: "Run the orchestrator http server",
		Flags: cmd.Flags{
			&cli.StringFlag{
				Name:    flagAddr,
				Usage:   "The address to listen on.",
				Value:   ":8080",
				EnvVars: []string{"WORKCHAIN_ADDR"},
			},
			&cli.StringFlag{
				Name:    flagChainFile,
				Usage:   "A chain definition to submit at start.",
				EnvVars: []string{"WORKCHAIN_CHAIN_FILE"},
			},
		}.Merge(orchestratorFlags).Merge(cmd.CommonFlags),
		Action: runServe,
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "workchain",
		Version:  version,
		Commands: commands,
	}
}

func main() {
	app := newApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
