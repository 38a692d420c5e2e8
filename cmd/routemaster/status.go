package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	rmhttp "github.com/dropDatabas3/routemaster/internal/http"
)

type statusReport struct {
	Cluster  *rmhttp.ClusterStatus `json:"cluster"`
	Policies []rmhttp.PolicyStatus `json:"policies"`
}

func runStatus(ctx context.Context, w io.Writer, baseURL, out string, timeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := &http.Client{Timeout: timeout}
	cl, err := rmhttp.FetchCluster(ctx, c, baseURL)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	pols, err := rmhttp.FetchPolicies(ctx, c, baseURL)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	rep := statusReport{Cluster: cl, Policies: pols}
	if out == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return printStatus(w, rep)
}

func printStatus(w io.Writer, rep statusReport) error {
	fmt.Fprintf(w, "cluster=%s running=%t\n\n", rep.Cluster.ID, rep.Cluster.Running)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tLEADER\tLOCAL\tMEMBERS")
	for _, v := range rep.Cluster.Views {
		ids := make([]string, 0, len(v.Members))
		for _, m := range v.Members {
			ids = append(ids, m.ID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", v.Namespace, orDash(v.Leader), v.LocalLeader, strings.Join(ids, ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAMESPACE\tSTATE\tREFS\tSTARTED\tSTOPPED")
	for _, p := range rep.Policies {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.Namespace, p.State, p.RefCount,
			orDash(strings.Join(p.Started, ",")), orDash(strings.Join(p.Stopped, ",")))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
