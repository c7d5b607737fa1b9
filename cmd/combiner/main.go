package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/urfave/cli"

	"github.com/RichardKnop/combiner"
	"github.com/RichardKnop/combiner/combine"
	"github.com/RichardKnop/combiner/config"
	"github.com/RichardKnop/combiner/log"
	"github.com/RichardKnop/combiner/tasks"
)

func main() {
	// keep stdout for results
	log.Quiet(os.Stderr)

	// Run the CLI app
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.ERROR.Print(err)
		os.Exit(1)
	}
}

func newApp(stdout io.Writer) *cli.App {
	var (
		configPath string
		remote     bool
	)

	// Initialise a CLI app
	app := cli.NewApp()
	app.Name = "combiner"
	app.Usage = "combine two numbers as (a + b) + (a * b) + 2.6548"
	app.Version = "0.0.0"
	app.Writer = stdout
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "c",
			Value:       "",
			Destination: &configPath,
			Usage:       "Path to a configuration file",
		},
		cli.BoolFlag{
			Name:        "remote",
			Destination: &remote,
			Usage:       "Leave sent tasks to external workers instead of starting one in process",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:            "combine",
			Usage:           "combine two operands in process",
			ArgsUsage:       "A B",
			SkipFlagParsing: true,
			Action: func(c *cli.Context) error {
				a, b, err := operands(c)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}

				combined, err := combine.CombineArgs(a, b)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}

				value, err := tasks.Float64(combined)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				fmt.Fprintln(c.App.Writer, formatFloat(value))
				return nil
			},
		},
		{
			Name:            "send",
			Usage:           "send a combine task through the configured broker and result backend",
			ArgsUsage:       "A B",
			SkipFlagParsing: true,
			Action: func(c *cli.Context) error {
				a, b, err := operands(c)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}

				if err := send(c.App.Writer, configPath, !remote, a, b); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
		{
			Name:  "worker",
			Usage: "launch a worker that processes combine tasks from the configured broker",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "consumer-tag",
					Value: "combiner_worker",
					Usage: "Consumer tag reported to the broker",
				},
				cli.IntFlag{
					Name:  "concurrency",
					Value: 0,
					Usage: "Maximum number of tasks processed at once, 0 means no limit",
				},
			},
			Action: func(c *cli.Context) error {
				if err := runWorker(configPath, c.String("consumer-tag"), c.Int("concurrency")); err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
	}

	return app
}

// operands reads the two positional arguments. Flag parsing is skipped on the
// commands so negative numbers reach here.
func operands(c *cli.Context) (tasks.Arg, tasks.Arg, error) {
	if c.NArg() != 2 {
		return tasks.Arg{}, tasks.Arg{}, fmt.Errorf("expected 2 operands, got %d", c.NArg())
	}

	a, err := parseOperand("a", c.Args().Get(0))
	if err != nil {
		return tasks.Arg{}, tasks.Arg{}, err
	}
	b, err := parseOperand("b", c.Args().Get(1))
	if err != nil {
		return tasks.Arg{}, tasks.Arg{}, err
	}
	return a, b, nil
}

// parseOperand tags a numeric operand as float64. Text that is not a number
// at all is passed on as a string so the combiner reports the mismatch.
// Numbers no float64 can carry, and NaN or infinities which JSON cannot
// encode, are rejected here so combine and send behave alike.
func parseOperand(name, raw string) (tasks.Arg, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if errors.Is(err, strconv.ErrRange) {
		return tasks.Arg{}, fmt.Errorf("operand %s: %s is out of range for float64", name, raw)
	}
	if err != nil {
		return tasks.Arg{Name: name, Type: tasks.TagString, Value: raw}, nil
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return tasks.Arg{}, fmt.Errorf("operand %s: %s is not a finite number", name, raw)
	}
	return tasks.NewFloat64Arg(name, value), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.NewFromYaml(configPath)
	}

	return config.NewFromEnvironment()
}

func startServer(configPath string) (*combiner.Server, error) {
	cnf, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	// Create server instance
	server, err := combiner.NewServer(cnf)
	if err != nil {
		return nil, err
	}

	// Register tasks
	if err := server.RegisterCombine(); err != nil {
		return nil, err
	}

	return server, nil
}

func runWorker(configPath, consumerTag string, concurrency int) error {
	server, err := startServer(configPath)
	if err != nil {
		return err
	}

	worker := server.NewWorker(consumerTag, concurrency)
	if err := worker.Launch(); err != nil && err != combiner.ErrWorkerQuitGracefully {
		return err
	}
	return nil
}

func send(w io.Writer, configPath string, localWorker bool, a, b tasks.Arg) error {
	server, err := startServer(configPath)
	if err != nil {
		return err
	}

	if localWorker {
		server.GetConfig().NoUnixSignals = true

		// The argument is a consumer tag
		worker := server.NewWorker("combiner_send", 1)
		worker.LaunchAsync(make(chan error, 1))
		defer worker.Quit()
	}

	asyncResult, combined, err := server.Combine(context.Background(), a, b)
	if asyncResult != nil {
		state := asyncResult.GetState()
		fmt.Fprintf(w, "task %s %s\n", state.TaskUUID, state.State)
	}
	if err != nil {
		return err
	}

	value, err := tasks.Float64(combined)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, formatFloat(value))
	return nil
}
