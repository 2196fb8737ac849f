// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/reviewmill"
	"github.com/poiesic/reviewmill/blob"
	"github.com/poiesic/reviewmill/config"
	"github.com/poiesic/reviewmill/core"
	"github.com/poiesic/reviewmill/logging"
	"github.com/poiesic/reviewmill/search"
	"github.com/urfave/cli/v2"
)

const shipTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// session carries state from Before to the commands and After.
type session struct {
	cfg     *config.Config
	blobs   blob.Store
	shipper *logging.Shipper
	extra   []reviewmill.Option
}

func newApp(extra ...reviewmill.Option) *cli.App {
	rt := &session{extra: extra}
	return &cli.App{
		Name:  "reviewmill",
		Usage: "Ingest product reviews and search them semantically",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file (defaults to $" + config.PathEnv + ")",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Set logging format (text, json)",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory",
			},
		},
		Before: rt.setup,
		After:  rt.teardown,
		Commands: []*cli.Command{
			{
				Name:      "scrape",
				Usage:     "Fetch, classify and index the reviews of one product",
				ArgsUsage: "[url]",
				Action:    rt.scrapeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "mode",
						Aliases: []string{"m"},
						Usage:   "Source resolution mode (scrape, mock, random)",
						Value:   string(core.ModeScrape),
					},
					&cli.BoolFlag{
						Name:  "force-refresh",
						Usage: "Bypass the page cache",
					},
				},
			},
			{
				Name:   "products",
				Usage:  "List ingested products",
				Action: rt.productsCommand,
			},
			{
				Name:      "product",
				Usage:     "Show a product with its reviews and images",
				ArgsUsage: "<id>",
				Action:    rt.productCommand,
			},
			{
				Name:      "stats",
				Usage:     "Show review statistics for a product",
				ArgsUsage: "<id>",
				Action:    rt.statsCommand,
			},
			{
				Name:      "sentiment",
				Usage:     "List reviews with a sentiment label",
				ArgsUsage: "<positive|negative|neutral>",
				Action:    rt.sentimentCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of reviews",
						Value: 20,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Find reviews similar to a query",
				ArgsUsage: "<query...>",
				Action:    rt.searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"k"},
						Usage:   "Number of results",
						Value:   5,
					},
					&cli.Uint64Flag{
						Name:  "product",
						Usage: "Only return reviews of this product id",
					},
					&cli.StringFlag{
						Name:  "sentiment",
						Usage: "Only return reviews with this sentiment label",
					},
				},
			},
			{
				Name:  "index",
				Usage: "Inspect and maintain the vector index",
				Subcommands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "Show index statistics",
						Action: rt.indexStatsCommand,
					},
					{
						Name:   "check",
						Usage:  "Compare the index with the review store",
						Action: rt.indexCheckCommand,
					},
					{
						Name:   "rebuild",
						Usage:  "Re-embed every stored review",
						Action: rt.indexRebuildCommand,
					},
				},
			},
		},
	}
}

// setup loads the configuration, applies flag overrides and installs the
// process logger.
func (rt *session) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}
	if c.IsSet("db") {
		cfg.Storage.Path = c.String("db")
		cfg.Storage.InMemory = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg

	var w io.Writer = c.App.ErrWriter
	if w == nil {
		w = os.Stderr
	}
	if cfg.Logging.Ship {
		if rt.blobs, err = reviewmill.OpenBlobStore(c.Context, cfg.Blob); err != nil {
			return fmt.Errorf("failed to open blob store for log shipping: %w", err)
		}
		if rt.shipper, err = logging.NewShipper(rt.blobs); err != nil {
			return err
		}
		w = io.MultiWriter(w, rt.shipper)
	}
	_, err = logging.Setup(cfg.Logging.Level, cfg.Logging.Format, w)
	return err
}

// teardown uploads shipped logs.
func (rt *session) teardown(c *cli.Context) error {
	if rt.shipper == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shipTimeout)
	defer cancel()
	if err := rt.shipper.Close(ctx); err != nil {
		return fmt.Errorf("failed to ship logs: %w", err)
	}
	return nil
}

func (rt *session) open(c *cli.Context) (*reviewmill.Service, error) {
	opts := []reviewmill.Option{
		reviewmill.WithConfig(rt.cfg),
		reviewmill.WithLogger(slog.Default()),
		reviewmill.WithProgress(c.App.ErrWriter),
	}
	if rt.blobs != nil {
		opts = append(opts, reviewmill.WithBlobStore(rt.blobs))
	}
	svc, err := reviewmill.New(c.Context, append(opts, rt.extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open service: %w", err)
	}
	return svc, nil
}

// withService opens the service for one command and always closes it.
func (rt *session) withService(c *cli.Context, fn func(*reviewmill.Service) error) (err error) {
	svc, err := rt.open(c)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(svc)
}

func (rt *session) scrapeCommand(c *cli.Context) error {
	mode, err := core.ParseScrapeMode(c.String("mode"))
	if err != nil {
		return err
	}
	req := reviewmill.ScrapeRequest{
		URL:          c.Args().First(),
		Mode:         mode,
		ForceRefresh: c.Bool("force-refresh"),
	}

	return rt.withService(c, func(svc *reviewmill.Service) error {
		resp, err := svc.Scrape(c.Context, req)
		if resp != nil {
			w := c.App.Writer
			fmt.Fprintf(w, "State: %s\n", resp.State)
			if resp.ProductID != 0 {
				fmt.Fprintf(w, "Product: %d (%s)\n", resp.ProductID, resp.URL)
			}
			fmt.Fprintf(w, "Reviews: %d\n", resp.ReviewsCount)
			fmt.Fprintf(w, "Anomalies: %d\n", resp.AnomalyCount)
			for kind, n := range resp.AnomalyCounts {
				fmt.Fprintf(w, "  %s: %d\n", kind, n)
			}
			if resp.PartialFailure {
				fmt.Fprintln(w, "Partial failure: some content could not be fetched, stored or indexed")
			}
			fmt.Fprintf(w, "Elapsed: %s\n", resp.ProcessingTime.Round(time.Millisecond))
		}
		return err
	})
}

func (rt *session) productsCommand(c *cli.Context) error {
	return rt.withService(c, func(svc *reviewmill.Service) error {
		products, err := svc.ListProducts(c.Context)
		if err != nil {
			return err
		}
		for _, p := range products {
			fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\n", p.Id, p.Name, p.URL)
		}
		return nil
	})
}

func (rt *session) productCommand(c *cli.Context) error {
	id, err := productID(c)
	if err != nil {
		return err
	}
	return rt.withService(c, func(svc *reviewmill.Service) error {
		detail, err := svc.GetProduct(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, detail)
	})
}

func (rt *session) statsCommand(c *cli.Context) error {
	id, err := productID(c)
	if err != nil {
		return err
	}
	return rt.withService(c, func(svc *reviewmill.Service) error {
		stats, err := svc.ProductStats(c.Context, id)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, stats)
	})
}

func (rt *session) sentimentCommand(c *cli.Context) error {
	label := core.SentimentLabel(strings.ToLower(c.Args().First()))
	return rt.withService(c, func(svc *reviewmill.Service) error {
		reviews, err := svc.ReviewsBySentiment(c.Context, label, c.Int("limit"))
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, reviews)
	})
}

func (rt *session) searchCommand(c *cli.Context) error {
	q := search.Query{
		Text:      strings.Join(c.Args().Slice(), " "),
		Limit:     c.Int("limit"),
		ProductID: core.ID(c.Uint64("product")),
		Sentiment: core.SentimentLabel(strings.ToLower(c.String("sentiment"))),
	}
	return rt.withService(c, func(svc *reviewmill.Service) error {
		resp, err := svc.SearchFiltered(c.Context, q)
		if err != nil {
			return err
		}
		w := c.App.Writer
		fmt.Fprintf(w, "Found %d hits in %s\n", resp.TotalResults, resp.ProcessingTime.Round(time.Microsecond))
		for i, hit := range resp.Results {
			label := "-"
			if hit.Review.Sentiment != nil {
				label = string(hit.Review.Sentiment.Label)
			}
			fmt.Fprintf(w, "%d: [%0.3f] (%d, %s, %d/5) %s\n", i, hit.Score, hit.ReviewID, label,
				hit.Review.Rating, strings.ReplaceAll(hit.Review.Text(), "\n", " / "))
		}
		return nil
	})
}

func (rt *session) indexStatsCommand(c *cli.Context) error {
	return rt.withService(c, func(svc *reviewmill.Service) error {
		stats, err := svc.SearchStats(c.Context)
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, stats)
	})
}

func (rt *session) indexCheckCommand(c *cli.Context) error {
	return rt.withService(c, func(svc *reviewmill.Service) error {
		cerr, err := svc.CheckIndex(c.Context)
		if err != nil {
			return err
		}
		if cerr != nil {
			return cerr
		}
		fmt.Fprintln(c.App.Writer, "Index is consistent")
		return nil
	})
}

func (rt *session) indexRebuildCommand(c *cli.Context) error {
	return rt.withService(c, func(svc *reviewmill.Service) error {
		stats, err := svc.RebuildIndex(c.Context)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "Rebuilt index: %d reviews, %d indexed, %d skipped in %s\n",
			stats.Reviews, stats.Indexed, stats.Skipped, stats.Elapsed.Round(time.Millisecond))
		return nil
	})
}

func productID(c *cli.Context) (core.ID, error) {
	arg := c.Args().First()
	if arg == "" {
		return 0, fmt.Errorf("%w: product id is required", core.ErrValidation)
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid product id %q", core.ErrValidation, arg)
	}
	return core.ID(id), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
