package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/krisbrooking/Rowbot-sub000/pkg/metrics"
	"github.com/krisbrooking/Rowbot-sub000/pkg/pipeline"
)

func writeSummaries(w io.Writer, output string, summaries []pipeline.PipelineSummary) error {
	if output == "json" {
		if summaries == nil {
			summaries = []pipeline.PipelineSummary{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PIPELINE\tCLUSTER\tGROUP\tINSERTED\tUPDATED\tEXCEPTIONS\tDURATION\tSTATUS")
	for _, s := range summaries {
		exceptions := 0
		for _, b := range s.Blocks {
			exceptions += b.ExceptionCount()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Name, s.Cluster, s.Group, s.Inserted(), s.Updated(), exceptions,
			s.Duration.Round(time.Millisecond), status(s))
	}
	return tw.Flush()
}

func status(s pipeline.PipelineSummary) string {
	switch {
	case s.Skipped:
		return "skipped: " + strings.Join(s.Errors, "; ")
	case s.HasExceptions():
		return "exceptions"
	}
	return "ok"
}

// serveMetrics exposes the Prometheus registry when metrics are enabled. The
// returned function stops the server.
func (a *App) serveMetrics() func() {
	if !a.cfg.Metrics.Enabled {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.log.Info("serving metrics",
			zap.String("address", srv.Addr), zap.String("path", a.cfg.Metrics.Path))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}
