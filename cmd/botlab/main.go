package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

var (
	version = "dev"
	cli     struct {
		Globals

		Invoke  InvokeCmd  `cmd:"" help:"Run one invocation and exit"`
		Serve   ServeCmd   `cmd:"" help:"Run schedules, timers and the message bus until stopped"`
		Publish PublishCmd `cmd:"" help:"Publish a datastream message on the bus"`
		State   StateCmd   `cmd:"" help:"Print the persisted organization"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := kong.Parse(&cli,
		kong.Name("botlab"),
		kong.Description("Event-driven microservice host for one organization."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	err := cmd.Run(&cli.Globals)
	cmd.FatalIfErrorf(err)
}
