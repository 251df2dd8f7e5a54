// Package curler implements the job adapter (C6): the worker.JobFunc that
// validates an incoming job's JSON payload, POSTs its "data" object to a
// randomly chosen backend base URL, and shapes the result into the reply
// document a Gearman submitter expects back.
package curler

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/hipchat/curler/internal/obslog"
	"github.com/hipchat/curler/worker"
)

// HTTPDoer is the only thing the adapter demands of an HTTP client: do the
// request, return a response or an error. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter is the curler job handler. It implements worker.JobFunc via
// Handle.
type Adapter struct {
	BaseURLs []string
	Client   HTTPDoer
	Verbose  bool
	Logger   *log.Logger
}

// New builds an Adapter. client may be nil, in which case http.DefaultClient
// is used.
func New(baseURLs []string, client HTTPDoer) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{BaseURLs: baseURLs, Client: client, Logger: log.Default()}
}

// Handle implements worker.JobFunc. It never returns an error: every
// outcome it can serialize — bad input, HTTP failure, internal panic — is
// folded into the reply document and reported as WORK_COMPLETE, per the
// adapter's own contract that "the work was done, here is its report."
func (a *Adapter) Handle(job worker.Job) ([]byte, error) {
	start := time.Now()
	doc := a.process(job)
	elapsed := time.Since(start)
	a.logResult(job, doc, elapsed)
	a.recordMetrics(doc, elapsed)

	out, err := marshalPretty(doc)
	if err != nil {
		// doc is always built from plain strings/ints; this should be
		// unreachable, but a failure here must still produce a valid
		// WORK_COMPLETE payload.
		out, _ = marshalPretty(errorReply(job.Handle(), "Internal curler error. Check the logs.", job.Data()))
	}
	return out, nil
}

func (a *Adapter) process(job worker.Job) (doc map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			a.logf("ERROR: panic handling job %s: %v\n%s", job.Handle(), r, debug.Stack())
			doc = errorReply(job.Handle(), "Internal curler error. Check the logs.", job.Data())
		}
	}()

	a.logf("Got job: %s", job.Handle())
	a.logVerbose("data=%s", job.Data())

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(job.Data(), &obj); err != nil {
		return errorReply(job.Handle(), "Job data is not valid JSON", job.Data())
	}

	methodRaw, ok := obj["method"]
	var method string
	if !ok || json.Unmarshal(methodRaw, &method) != nil {
		return errorReply(job.Handle(), `Missing "method" property in job data`, job.Data())
	}

	dataRaw, ok := obj["data"]
	if !ok {
		return errorReply(job.Handle(), `Missing "data" property in job data`, job.Data())
	}

	var dataVal any
	if err := json.Unmarshal(dataRaw, &dataVal); err != nil {
		return errorReply(job.Handle(), `Missing "data" property in job data`, job.Data())
	}
	dataJSON, err := json.Marshal(dataVal)
	if err != nil {
		return errorReply(job.Handle(), "Job data is not valid JSON", job.Data())
	}

	base := a.pickBaseURL()
	target := strings.TrimSuffix(base, "/") + "/" + method

	status, body, err := a.post(target, dataJSON, job.Handle())
	if err != nil {
		return errorReply(job.Handle(), fmt.Sprintf("POST failed: %v", err), job.Data())
	}
	return httpReply(job.Handle(), target, status, body)
}

func (a *Adapter) pickBaseURL() string {
	return a.BaseURLs[rand.IntN(len(a.BaseURLs))]
}

func (a *Adapter) post(target string, dataJSON []byte, handle string) (status int, body string, err error) {
	form := url.Values{
		"data":       {string(dataJSON)},
		"job_handle": {handle},
	}
	encoded := form.Encode()
	a.logVerbose("POSTing to %s, data=%s", target, dataJSON)

	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(encoded))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.Client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	a.logVerbose("POST complete: status=%d, response=%s", resp.StatusCode, respBody)
	return resp.StatusCode, string(respBody), nil
}

func (a *Adapter) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}

func (a *Adapter) logVerbose(format string, args ...any) {
	if a.Verbose {
		a.logf("VERBOSE: "+format, args...)
	}
}

func (a *Adapter) logResult(job worker.Job, doc map[string]any, elapsed time.Duration) {
	if errMsg, ok := doc["error"]; ok {
		a.logf("ERROR: %v", errMsg)
	}
	a.logf("Completed job: %s, time=%dms, status=%v", job.Handle(), elapsed.Milliseconds(), doc["status"])
}

func (a *Adapter) recordMetrics(doc map[string]any, elapsed time.Duration) {
	outcome := "ok"
	if _, ok := doc["error"]; ok {
		outcome = "error"
	}
	obslog.JobsProcessed.WithLabelValues(outcome).Inc()
	obslog.JobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
