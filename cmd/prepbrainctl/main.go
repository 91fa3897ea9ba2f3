// Command prepbrainctl is a small admin client for the prepbrain API.
//
// Usage:
//
//	prepbrainctl status
//	prepbrainctl drafts [status]
//	prepbrainctl approve <draft-id>
//	prepbrainctl hold <draft-id> <reason>
//	prepbrainctl reject <draft-id> <reason>
//	prepbrainctl ingest <filename> [source-type]
//	prepbrainctl jobs
//	prepbrainctl order <free text>
//	prepbrainctl pending
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

func baseURL() string {
	if url := os.Getenv("PREPBRAIN_API_URL"); url != "" {
		return strings.TrimRight(url, "/")
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(baseURL()).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
}

func printJSON(body []byte) {
	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(string(out))
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func run(resp *resty.Response, err error) {
	if err != nil {
		fail("request failed: %v", err)
	}
	if resp.IsError() {
		fmt.Fprintf(os.Stderr, "HTTP %d\n", resp.StatusCode())
		printJSON(resp.Body())
		os.Exit(1)
	}
	printJSON(resp.Body())
}

func usage() {
	fail("usage: prepbrainctl <status|drafts|approve|hold|reject|ingest|jobs|order|pending> [args]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	client := newClient()
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "status":
		run(client.R().Get("/api/v1/status"))
	case "drafts":
		req := client.R()
		if len(args) > 0 {
			req.SetQueryParam("status", args[0])
		}
		run(req.Get("/api/v1/drafts"))
	case "approve":
		if len(args) < 1 {
			fail("usage: prepbrainctl approve <draft-id>")
		}
		run(client.R().Post("/api/v1/drafts/" + args[0] + "/approve"))
	case "hold", "reject":
		if len(args) < 2 {
			fail("usage: prepbrainctl %s <draft-id> <reason>", cmd)
		}
		run(client.R().
			SetBody(map[string]string{"reason": strings.Join(args[1:], " ")}).
			Post("/api/v1/drafts/" + args[0] + "/" + cmd))
	case "ingest":
		if len(args) < 1 {
			fail("usage: prepbrainctl ingest <filename> [source-type]")
		}
		sourceType := "restaurant_recipes"
		if len(args) > 1 {
			sourceType = args[1]
		}
		run(client.R().
			SetBody(map[string]string{
				"source_filename": args[0],
				"source_type":     sourceType,
			}).
			Post("/api/v1/ingest"))
	case "jobs":
		run(client.R().Get("/api/v1/ingest/jobs"))
	case "order":
		if len(args) < 1 {
			fail("usage: prepbrainctl order <free text>")
		}
		run(client.R().
			SetBody(map[string]interface{}{"text": strings.Join(args, " ")}).
			Post("/api/v1/orders"))
	case "pending":
		run(client.R().Get("/api/v1/orders/pending"))
	default:
		usage()
	}
}
