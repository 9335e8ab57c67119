package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ananthvk/respd/internal/client"
	"github.com/ananthvk/respd/internal/server"
	"github.com/urfave/cli/v2"
)

func addressFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "address",
		Aliases: []string{"a"},
		Value:   "127.0.0.1:6379",
		Usage:   "server address",
		EnvVars: []string{"RESPD_ADDRESS"},
	}
}

func pingCommand() *cli.Command {
	return &cli.Command{
		Name:      "ping",
		Usage:     "Send PING to a server and print the reply",
		ArgsUsage: "[message]",
		Flags: []cli.Flag{
			addressFlag(),
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			conn, err := client.Dial(ctx, c.String("address"), 0)
			if err != nil {
				return err
			}
			defer conn.Close()

			var message []byte
			if c.Args().Present() {
				message = []byte(c.Args().First())
			}
			reply, err := conn.Ping(ctx, message)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, reply)
			return nil
		},
	}
}

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Send PING requests from concurrent clients and report the throughput",
		Flags: []cli.Flag{
			addressFlag(),
			&cli.IntFlag{
				Name:  "clients",
				Value: server.DefaultConfig().Workers,
				// Clients beyond the server's worker count wait in its queue until another client
				// disconnects, and their requests time out
				Usage: "number of concurrent clients, at most the number of server workers",
			},
			&cli.IntFlag{Name: "requests", Value: 10000, Usage: "total number of requests"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "timeout of a single request"},
		},
		Action: benchAction,
	}
}

func benchAction(c *cli.Context) error {
	clients := c.Int("clients")
	requests := c.Int("requests")
	if clients <= 0 || requests <= 0 {
		return fmt.Errorf("clients and requests must be positive")
	}

	ctx := c.Context
	pool := client.NewPool(ctx, c.String("address"), clients, c.Duration("timeout"))
	defer pool.Close(ctx)

	var remaining atomic.Int64
	remaining.Store(int64(requests))
	var failed atomic.Int64
	var firstErr error
	var errOnce sync.Once

	start := time.Now()
	var wg sync.WaitGroup
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for remaining.Add(-1) >= 0 {
				if err := pool.Ping(ctx); err != nil {
					failed.Add(1)
					errOnce.Do(func() { firstErr = err })
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Fprintf(c.App.Writer, "%d requests, %d clients, %d failed in %s (%.0f requests/s)\n",
		requests, clients, failed.Load(), elapsed.Round(time.Millisecond), float64(requests)/elapsed.Seconds())
	if firstErr != nil {
		if errors.Is(firstErr, context.DeadlineExceeded) || errors.Is(firstErr, os.ErrDeadlineExceeded) {
			return fmt.Errorf("%d requests failed, first error: %w (is --clients larger than the server's --workers?)", failed.Load(), firstErr)
		}
		return fmt.Errorf("%d requests failed, first error: %w", failed.Load(), firstErr)
	}
	return nil
}
