/*
Curler bridges a Gearman job queue to an HTTP backend. It registers as a
worker for a named function on one or more Gearman job servers and, for
every job it is handed, POSTs that job's data to a randomly chosen
backend base URL, reporting the HTTP response back to the broker as the
job's result.

The worker and client packages underneath the daemon are usable
independently:

	import "github.com/hipchat/curler/worker"
	import "github.com/hipchat/curler/client"

See the cmd package for the "curl" (run the daemon) and "submit"
(administrative job submission) subcommands.
*/
package main
