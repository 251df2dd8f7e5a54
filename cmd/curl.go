/*
Copyright © 2024 Dave Rawks <dave@rawks.io>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hipchat/curler/internal/curler"
	"github.com/hipchat/curler/internal/obslog"
	"github.com/hipchat/curler/internal/supervisor"
	"github.com/spf13/cobra"
)

type curlConfig struct {
	BaseURLs       string
	JobQueue       string
	GearmandServer string
	NumWorkers     int
	Verbose        bool
	MetricsAddr    string
}

var curlCfg curlConfig

var curlCmd = &cobra.Command{
	Use:   "curl",
	Short: "Run the curler worker daemon",
	Long: `curl registers as a Gearman worker for a named job queue and, for each
job it is handed, POSTs the job's "data" object to a randomly chosen
backend base URL, returning the HTTP response (or an error document) as
the job's result.

Job payloads must be a JSON object with a "method" string, appended as a
path segment to the chosen base URL, and a "data" object, re-serialized
and form-encoded as the POST body.

Examples:
  gearhulk curl -u http://svc-a:8080,http://svc-b:8080 -q curler -g localhost:4730 -n 5
  gearhulk curl -u http://localhost:9000 -g gearmand-1:4730,gearmand-2:4730 -v`,
	RunE: runCurl,
}

func init() {
	rootCmd.AddCommand(curlCmd)

	curlCmd.Flags().StringVarP(&curlCfg.BaseURLs, "base-urls", "u", "", "comma-separated backend base URLs to POST jobs to (required)")
	curlCmd.Flags().StringVarP(&curlCfg.JobQueue, "job-queue", "q", "curler", "Gearman function name to register and grab jobs from")
	curlCmd.Flags().StringVarP(&curlCfg.GearmandServer, "gearmand-server", "g", "localhost:4730", "comma-separated host:port Gearman job servers")
	curlCmd.Flags().IntVarP(&curlCfg.NumWorkers, "num-workers", "n", 5, "number of concurrent worker drivers per broker connection")
	curlCmd.Flags().BoolVarP(&curlCfg.Verbose, "verbose", "v", false, "log per-request POST data")
	curlCmd.Flags().StringVar(&curlCfg.MetricsAddr, "metrics-addr", ":9090", "address to serve /metrics and pprof debug endpoints on")
}

func runCurl(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(curlCfg.BaseURLs) == "" {
		return fmt.Errorf("--base-urls is required")
	}

	obslog.InitLogging()
	defer obslog.FlushLogs()
	defer obslog.HandleCrash()

	baseURLs := splitNonEmpty(curlCfg.BaseURLs, ",")
	brokers := splitNonEmpty(curlCfg.GearmandServer, ",")

	adapter := curler.New(baseURLs, nil)
	adapter.Verbose = curlCfg.Verbose

	sv := supervisor.New(supervisor.Config{
		Brokers:    brokers,
		Function:   curlCfg.JobQueue,
		Handler:    adapter.Handle,
		NumWorkers: curlCfg.NumWorkers,
		Logf:       log.Printf,
	})

	go serveDebugMux(curlCfg.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Println("shutdown signal received, draining in-flight jobs...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		sv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Printf("curler starting: queue=%s brokers=%v base-urls=%v num-workers=%d",
		curlCfg.JobQueue, brokers, baseURLs, curlCfg.NumWorkers)

	if err := sv.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("supervisor exited: %v", err)
	}
	return nil
}

func serveDebugMux(addr string) {
	log.Printf("debug/metrics server listening on %s", addr)
	if err := http.ListenAndServe(addr, obslog.DebugMux()); err != nil {
		log.Printf("debug/metrics server stopped: %v", err)
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
