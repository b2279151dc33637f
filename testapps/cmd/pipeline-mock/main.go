// pipeline-mock serves a scripted generation run over SSE for smoke-testing
// the pipewatch CLI without a real pipeline server.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

func main() {
	var addr string
	var interval time.Duration
	var fail bool
	var refinements int
	flag.StringVar(&addr, "addr", ":8741", "Listen address")
	flag.DurationVar(&interval, "interval", 200*time.Millisecond, "Delay between events")
	flag.BoolVar(&fail, "fail", false, "End the run with run.failed instead of run.completed")
	flag.IntVar(&refinements, "refinements", 1, "Number of refinement cycles")
	flag.Parse()

	http.HandleFunc("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		runID := fmt.Sprintf("run-%d", time.Now().UnixMilli())
		seq := 0
		emit := func(format string, args ...any) bool {
			seq++
			ts := time.Now().UTC().Format(time.RFC3339Nano)
			prefix := fmt.Sprintf(`{"run_id":%q,"seq":%d,"ts":%q,`, runID, seq, ts)
			if _, err := fmt.Fprintf(w, "data: %s%s\n\n", prefix, fmt.Sprintf(format, args...)); err != nil {
				return false
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return false
			case <-time.After(interval):
				return true
			}
		}

		ok = emit(`"type":"run.started","payload":{"run_id":%q}}`, runID) &&
			emit(`"type":"stage.started","stage":"planning"}`) &&
			emit(`"type":"tool.started","stage":"planning","payload":{"name":"retrieve_context"}}`) &&
			emit(`"type":"tool.completed","stage":"planning","payload":{"name":"retrieve_context"}}`) &&
			emit(`"type":"stage.completed","stage":"planning"}`) &&
			emit(`"type":"stage.started","stage":"validation"}`) &&
			emit(`"type":"quality.scored","stage":"validation","payload":{"score":62,"decision":"refine"}}`)
		if !ok {
			return
		}
		for i := 0; i < refinements; i++ {
			if !emit(`"type":"refinement.started","stage":"refinement"}`) ||
				!emit(`"type":"refinement.completed","stage":"refinement"}`) {
				return
			}
		}
		ok = emit(`"type":"quality.scored","stage":"validation","payload":{"score":88,"decision":"accept"}}`) &&
			emit(`"type":"stage.completed","stage":"validation"}`) &&
			emit(`"type":"stage.started","stage":"execution"}`)
		if !ok {
			return
		}

		// keep-alive ping between phases
		_, _ = fmt.Fprint(w, ": ping\n\n")
		flusher.Flush()

		if fail {
			emit(`"type":"run.failed","payload":{"error":"execution timeout"}}`)
			return
		}
		emit(`"type":"run.completed","payload":{"plan":{"id":"plan-1","title":"Generated plan"},"scorecard":{"stages":5,"tools":1}}}`)
	})

	log.Printf("pipeline-mock listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}
