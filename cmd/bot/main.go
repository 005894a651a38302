package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"groupbot/internal/app"
	"groupbot/internal/clock"
	"groupbot/internal/config"
	"groupbot/internal/task/trigger"
)

var version = "dev"

type CLI struct {
	Config  string           `short:"c" help:"Configuration file path (json or yaml)" default:"config.yaml" type:"path"`
	EnvFile string           `name:"env-file" help:"Optional .env file loaded before the config" default:".env"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run   RunCmd   `cmd:"" default:"1" help:"Run the bot (default)"`
	Check CheckCmd `cmd:"" help:"Validate the configuration and list hazards"`
	Next  NextCmd  `cmd:"" help:"Print the next firings of every schedule"`
}

// AfterApply loads the env file; a missing file is fine.
func (c *CLI) AfterApply() error {
	if c.EnvFile == "" {
		return nil
	}
	if err := godotenv.Load(c.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("env file: %w", err)
	}
	return nil
}

type RunCmd struct {
	StopTimeout time.Duration `name:"stop-timeout" help:"Upper bound for graceful shutdown" default:"10s"`
}

func (r *RunCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(config.NewManager(cli.Config), app.Options{})
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), r.StopTimeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return stopErr
}

type CheckCmd struct{}

func (CheckCmd) Run(cli *CLI) error {
	cfg, err := config.NewManager(cli.Config).Parse()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	hazards := config.Hazards(s)
	for _, h := range hazards {
		fmt.Println("warning:", h)
	}
	fmt.Printf("ok: %s (%d managed groups, %d promotion targets, %d triggers, %d warnings)\n",
		cli.Config, len(s.Daily.Groups), len(s.Promotions.Targets), len(s.Promotions.Triggers), len(hazards))
	return nil
}

type NextCmd struct {
	Count int `short:"n" help:"Firings per schedule" default:"3"`
}

func (n *NextCmd) Run(cli *CLI) error {
	cfg, err := config.NewManager(cli.Config).Parse()
	if err != nil {
		return err
	}
	s, err := config.Resolve(cfg)
	if err != nil {
		return err
	}
	zone, err := clock.Load(s.Timezone)
	if err != nil {
		return err
	}

	fmt.Printf("timezone %s, now %s\n", s.Timezone, zone.Now().Format(time.DateTime))
	fmt.Printf("daily: close %s, open %s\n", s.Daily.Close, s.Daily.Open)
	for i, spec := range s.Promotions.Triggers {
		t, err := trigger.New(fmt.Sprintf("promo.%d", i+1), spec, zone)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%s):\n", t.Name(), spec)
		for _, at := range t.Preview(n.Count) {
			fmt.Println("  ", at.Format(time.DateTime))
		}
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("groupbot"),
		kong.Description("Opens, closes and promotes chat groups on a schedule."),
		kong.Vars{"version": version},
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
