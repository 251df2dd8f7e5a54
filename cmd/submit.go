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
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/hipchat/curler/client"
	"github.com/hipchat/curler/internal/wire"
	"github.com/spf13/cobra"
)

type submitConfig struct {
	ServerAddr string
	Priority   string
	Background bool
	Timeout    time.Duration
}

var submitCfg submitConfig

// submitCmd is a debug/administrative command only: the curler daemon
// never submits jobs in production (see curlCmd). It exists because the
// Gearman wire client supports job submission for completeness, and it's
// useful to be able to poke a broker by hand.
var submitCmd = &cobra.Command{
	Use:   "submit <function>",
	Short: "Submit one job to a Gearman server (debug/administrative use only)",
	Long: `submit is a debug and administrative command: it is not part of the
deployed curler daemon ("gearhulk curl"), which only acts as a worker. It
exists because the Gearman wire client supports job submission for
completeness, and is occasionally useful for poking a broker by hand.

Reads one job's data from stdin and, for a foreground submission, prints
the result (or error) to stdout. Background submissions print the job
handle instead of waiting for a result.

Example:
  echo '{"method":"ping","data":{"x":1}}' | gearhulk submit curler`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitCfg.ServerAddr, "server", "127.0.0.1:4730", "Gearman server address")
	submitCmd.Flags().StringVar(&submitCfg.Priority, "priority", "normal", "job priority: low, normal, high")
	submitCmd.Flags().BoolVar(&submitCfg.Background, "background", false, "submit as a background job (don't wait for a result)")
	submitCmd.Flags().DurationVar(&submitCfg.Timeout, "timeout", 30*time.Second, "time to wait for a result")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	function := args[0]

	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	conn, err := net.DialTimeout("tcp", submitCfg.ServerAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", submitCfg.ServerAddr, err)
	}
	sess := wire.NewSession(conn)
	defer sess.Close()

	c := client.New(sess)
	c.ErrorHandler = func(e error) {
		fmt.Fprintf(os.Stderr, "client error: %v\n", e)
	}

	submitFn, bgFn := pickSubmitFuncs(c, submitCfg.Priority)

	ctx, cancel := context.WithTimeout(context.Background(), submitCfg.Timeout)
	defer cancel()

	if submitCfg.Background {
		h, err := bgFn(ctx, function, data, "")
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		fmt.Println(h.Handle())
		return nil
	}

	h, err := submitFn(ctx, function, data, "")
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	result, err := h.Wait(ctx)
	if err != nil {
		return fmt.Errorf("job %s: %w", h.Handle(), err)
	}
	fmt.Println(string(result))
	return nil
}

type submitFunc func(ctx context.Context, function string, data []byte, uniqueID string) (*client.JobHandle, error)

func pickSubmitFuncs(c *client.Client, priority string) (fg, bg submitFunc) {
	switch priority {
	case "low":
		return c.SubmitLow, c.SubmitBackgroundLow
	case "high":
		return c.SubmitHigh, c.SubmitBackgroundHigh
	default:
		return c.Submit, c.SubmitBackground
	}
}
