// Command sse_load opens many concurrent subscriptions to the price stream
// and reports connection and event counts.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "sse_load",
		Usage: "load test the /api/prices/stream endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8000/api/prices/stream", Usage: "SSE endpoint URL"},
			&cli.IntFlag{Name: "conns", Value: 500, Usage: "number of concurrent subscriptions"},
			&cli.DurationFlag{Name: "dur", Value: time.Minute, Usage: "test duration (0 for until interrupted)"},
			&cli.DurationFlag{Name: "ramp", Usage: "spread connection starts across this window"},
			&cli.Uint64Flag{Name: "after", Usage: "resume cursor sent as Last-Event-ID (0 to follow from latest)"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	conns := c.Int("conns")
	if conns <= 0 {
		return cli.Exit(fmt.Sprintf("invalid conns: %d", conns), 2)
	}

	ramp := c.Duration("ramp")
	if ramp == 0 && conns > 100 {
		// 1s per 500 connections
		ramp = max(time.Duration(conns/500)*time.Second, time.Second)
		log.Printf("no ramp-up given, using %s", ramp)
	}

	target := c.String("url")
	log.Printf("starting SSE load: url=%s conns=%d duration=%s ramp=%s", target, conns, c.Duration("dur"), ramp)

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     conns + 100,
			MaxIdleConns:        conns + 100,
			MaxIdleConnsPerHost: conns + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if d := c.Duration("dur"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	sub := subscriber{client: client, url: target, after: c.Uint64("after")}
	var st stats
	start := time.Now()

	var interval time.Duration
	if ramp > 0 {
		interval = ramp / time.Duration(conns)
	}

	var wg sync.WaitGroup
	for i := 0; i < conns && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				continue
			case <-time.After(interval):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.subscribe(ctx, &st)
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("status: %s elapsed=%s", st.String(), time.Since(start).Truncate(time.Second))
			}
		}
	}()

	wg.Wait()

	elapsed := max(time.Since(start), time.Millisecond)
	fmt.Printf("done: %s elapsed=%s events/s=%.2f\n",
		st.String(), elapsed.Truncate(time.Millisecond), float64(st.events.Load())/elapsed.Seconds())
	return nil
}
