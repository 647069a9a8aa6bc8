package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/client"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/config"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/export"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/handlers"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/logging"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
	"gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
	"go.uber.org/zap"
)

// runner carries what every command needs. It is filled in by the Before hook of the root
// command.
type runner struct {
	config  *config.Config
	logger  *zap.Logger
	session *client.Session
	results *handlers.TerminalResults
}

// Usage examples on the command line:
// > go run . list
// > go run . --endpoint http://localhost:8080/_vti_bin/listdata.svc get --id 2
// > LISTDATA_TIMEOUT=5s go run . demo
func main() {
	r := &runner{results: handlers.NewTerminalResults(os.Stdout)}
	app := &cli.Command{
		Name:  "contacts",
		Usage: "Work with the contacts list of a list-data service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Usage: "Base URL of the list-data service",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Timeout of a single round trip",
			},
		},
		Before:   r.setup,
		After:    r.teardown,
		Commands: r.commands(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		handlers.NewTerminalResults(os.Stderr).ShowError(err)
		os.Exit(1)
	}
}

func (r *runner) commands() []*cli.Command {
	idFlag := func() cli.Flag {
		return &cli.Int64Flag{Name: "id", Usage: "Id of the contact", Value: 1}
	}
	return []*cli.Command{
		{
			Name:   "list",
			Usage:  "List all contacts",
			Action: r.button(handlers.GetAllItems),
		},
		{
			Name:  "get",
			Usage: "Show one contact and where it was pulled from",
			Flags: []cli.Flag{
				idFlag(),
				&cli.BoolFlag{Name: "cache", Usage: "Answer from the local cache if possible", Value: true},
			},
			Action: r.button(handlers.GetOneItem),
		},
		{
			Name:  "update",
			Usage: "Change the last name of a contact",
			Flags: []cli.Flag{
				idFlag(),
				&cli.StringFlag{Name: "last-name", Usage: "The new last name", Value: handlers.DefaultOptions().NewLastName},
			},
			Action: r.button(handlers.UpdateFirstItem),
		},
		{
			Name:  "create",
			Usage: "Create a contact",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "first-name", Value: handlers.DefaultOptions().NewContact.FirstName},
				&cli.StringFlag{Name: "last-name", Value: handlers.DefaultOptions().NewContact.LastName},
				&cli.StringFlag{Name: "email", Value: handlers.DefaultOptions().NewContact.EmailAddress},
			},
			Action: r.button(handlers.CreateItem),
		},
		{
			Name:   "delete",
			Usage:  "Delete the last contact of the list",
			Action: r.button(handlers.DeleteItem),
		},
		{
			Name:   "demo",
			Usage:  "Run all flows on one session",
			Action: r.demo,
		},
		{
			Name:  "export",
			Usage: "Write all contacts to a spreadsheet",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "out", Usage: "Path of the xlsx file", Value: "contacts.xlsx"},
			},
			Action: r.export,
		},
		{
			Name:  "bench",
			Usage: "Measure the latency of single-contact requests",
			Flags: []cli.Flag{
				&cli.IntSliceFlag{Name: "sizes", Usage: "Number of requests per row", Value: []int{100, 500, 1000}},
			},
			Action: r.bench,
		},
	}
}

// setup loads the configuration, applies the global flags and opens the session.
func (r *runner) setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("endpoint") {
		cfg.Client.Endpoint = cmd.String("endpoint")
	}
	timeout, err := cfg.Client.TimeoutDuration()
	if err != nil {
		return ctx, err
	}
	if cmd.IsSet("timeout") {
		timeout = cmd.Duration("timeout")
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return ctx, err
	}
	store, err := metadata.NewContactStore()
	if err != nil {
		return ctx, err
	}
	session, err := client.NewSession(
		client.DataService{ServiceName: cfg.Client.Endpoint},
		store,
		metadata.ContactTypeName,
		client.WithTimeout(timeout),
		client.WithLogger(logger),
	)
	if err != nil {
		return ctx, err
	}

	cfg.Client.Timeout = timeout.String()
	r.config, r.logger, r.session = cfg, logger, session
	return ctx, nil
}

func (r *runner) teardown(ctx context.Context, cmd *cli.Command) error {
	if r.logger != nil {
		_ = r.logger.Sync()
	}
	return nil
}

// options translates the flags of a command into handler options.
func options(cmd *cli.Command) handlers.Options {
	o := handlers.DefaultOptions()
	if cmd.IsSet("id") {
		o.Key = cmd.Int64("id")
	}
	if cmd.IsSet("cache") {
		o.CacheFirst = cmd.Bool("cache")
	}
	switch cmd.Name {
	case "update":
		o.NewLastName = cmd.String("last-name")
	case "create":
		o.NewContact.FirstName = cmd.String("first-name")
		o.NewContact.LastName = cmd.String("last-name")
		o.NewContact.EmailAddress = cmd.String("email")
	}
	return o
}

// button runs one flow. The handlers render the error already, so only the exit code is left.
func (r *runner) button(b handlers.Button) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		h := handlers.New(r.session, r.results, options(cmd), r.logger)
		if err := h.Handle(ctx, b); err != nil {
			return cli.Exit("", 1)
		}
		return nil
	}
}

// demo runs all flows on one session, so that the cache provenance becomes visible.
func (r *runner) demo(ctx context.Context, cmd *cli.Command) error {
	h := handlers.New(r.session, r.results, handlers.DefaultOptions(), r.logger)
	var errs []error
	for _, b := range []handlers.Button{
		handlers.GetAllItems,
		handlers.GetOneItem,
		handlers.UpdateFirstItem,
		handlers.GetOneItem,
		handlers.CreateItem,
		handlers.GetAllItems,
		handlers.DeleteItem,
		handlers.GetAllItems,
	} {
		fmt.Fprintf(os.Stdout, "\n> %s\n", b)
		if err := <-h.Trigger(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if r.session.HasChanges() {
		r.logger.Warn("discarding unsaved changes")
		r.session.RejectChanges()
	}
	fmt.Fprintf(os.Stdout, "\n> cached entities\n")
	r.results.Show(handlers.FormatContacts(r.session.CachedEntities()))

	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("demo finished with errors", zap.Int("failed", len(errs)))
		return cli.Exit("", 1)
	}
	return nil
}

// export writes the current collection to an xlsx file.
func (r *runner) export(ctx context.Context, cmd *cli.Command) error {
	entities, err := r.session.Query(ctx, client.Query{})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	props, err := r.session.EntityType().ParseSelect("")
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	contacts := make([]model.Contact, 0, len(entities))
	for _, e := range entities {
		contacts = append(contacts, e.Contact())
	}

	path := cmd.String("out")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := export.WriteWorkbook(f, contacts, props); err != nil {
		f.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	r.results.Show(fmt.Sprintf("%d contacts written to %s", len(contacts), path))
	return nil
}
