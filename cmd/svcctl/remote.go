package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hamed0406/servicewatch/internal/config"
	"github.com/hamed0406/servicewatch/internal/domain"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

type monitorRow struct {
	URI      string          `json:"uri"`
	Type     string          `json:"type"`
	Address  string          `json:"address"`
	Interval float64         `json:"interval_s"`
	Stage    string          `json:"stage"`
	Last     *domain.Outcome `json:"last"`
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the monitors of a running monitord",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows []monitorRow
			if err := call(cmd, http.MethodGet, "/api/monitors", nil, &rows); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "URI\tADDRESS\tEVERY\tSTAGE\tSTATUS\tREASON")
			for _, r := range rows {
				status, reason := "-", ""
				if r.Last != nil {
					status, reason = string(r.Last.Status()), string(r.Last.Reason)
				}
				fmt.Fprintf(tw, "%s\t%s\t%gs\t%s\t%s\t%s\n", r.URI, r.Address, r.Interval, r.Stage, status, reason)
			}
			return tw.Flush()
		},
	}
}

func newAddCmd() *cobra.Command {
	var sc config.ServiceConfig
	cmd := &cobra.Command{
		Use:   "add <uri>",
		Short: "Register a service with a running monitord",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc.URI = strings.TrimSpace(args[0])
			if _, err := domain.ParseServiceURI(sc.URI); err != nil {
				return err
			}
			var row monitorRow
			if err := call(cmd, http.MethodPost, "/api/monitors", sc, &row); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", row.URI, row.Address)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&sc.Interval, "interval", 0, "Seconds between probes")
	f.IntVar(&sc.Port, "port", 0, "Service port")
	f.IntVar(&sc.Timeout, "timeout", 0, "Probe timeout in seconds")
	f.StringVar(&sc.Path, "path", "", "HTTP request path")
	f.StringVar(&sc.Pattern, "pattern", "", "Regular expression the HTTP body must match")
	f.StringVar(&sc.Username, "username", "", "FTP user")
	f.StringVar(&sc.Password, "password", "", "FTP password")
	f.StringVar(&sc.MailFrom, "mail-from", "", "Envelope sender for smtp_mail")
	f.StringVar(&sc.MailTo, "mail-to", "", "Recipient for smtp_mail")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <uri>",
		Short: "Unregister a service from a running monitord",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(cmd, http.MethodDelete, "/api/monitors?uri="+url.QueryEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

// call sends body as JSON and decodes a 2xx reply into out.
func call(cmd *cobra.Command, method, path string, body, out any) error {
	base, _ := cmd.Flags().GetString("api")
	key, _ := cmd.Flags().GetString("key")

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), method, strings.TrimRight(base, "/")+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("contact api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("api: %s", e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
