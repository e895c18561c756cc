package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
	"github.com/hamed0406/servicewatch/internal/monitor"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every service in the services file can be monitored",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}
}

func runValidate(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("services")
	out := cmd.OutOrStdout()

	reg, err := config.LoadServices(path)
	if err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Fprintln(out, "✖", e)
		}
		return errors.New("services file is invalid")
	}

	d := monitor.NewDispatcher(reg, discard{}, nil, zap.NewNop())
	var errs error
	for _, uri := range reg.URIs() {
		m, err := d.New(uri)
		if err != nil {
			fmt.Fprintln(out, "✖", err)
			errs = multierr.Append(errs, err)
			continue
		}
		fmt.Fprintf(out, "✔ %s  %s every %s\n", uri, m.Params().Address(), m.Interval())
	}
	if errs != nil {
		return fmt.Errorf("%d of %d services failed", len(multierr.Errors(errs)), len(reg.URIs()))
	}
	return nil
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <uri>",
		Short: "Probe one configured service once and print the observation",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbe,
	}
	cmd.Flags().Bool("debug", false, "Log the probe lifecycle to stderr")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("services")
	debug, _ := cmd.Flags().GetBool("debug")

	reg, err := config.LoadServices(path)
	if err != nil {
		return err
	}
	log := zap.NewNop()
	if debug {
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	sink := &printSink{w: cmd.OutOrStdout()}
	m, err := monitor.NewDispatcher(reg, sink, &net.Dialer{}, log).New(args[0])
	if err != nil {
		return err
	}
	if err := m.Run(cmd.Context()); err != nil {
		return err
	}
	if !sink.seen {
		return errors.New("probe deferred; no observation reported")
	}
	if sink.status != domain.StatusOK {
		return fmt.Errorf("service status %s", sink.status)
	}
	return nil
}

// printSink writes each observation as indented JSON.
type printSink struct {
	w      io.Writer
	seen   bool
	status domain.Status
}

func (p *printSink) Record(_ context.Context, o domain.Observation) error {
	p.seen = true
	p.status = o.Outcome.Status()
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(o)
}

type discard struct{}

func (discard) Record(context.Context, domain.Observation) error { return nil }
