package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/db/queue"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errUsage = errors.New("invalid usage")

// publisher is the part of queue.BazaarPullPublisher the client needs
type publisher interface {
	Publish(pull *core.BazaarPull) error
	Close() error
}

var newPublisher = func(brokers []string, topic string) (publisher, error) {
	return queue.NewBazaarPullPublisher(brokers, topic)
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			printUsage(os.Stderr)
		}
		log.Fatal().Err(err).Msg("Command failed")
	}
}

// client talks to the order book HTTP API
type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func run(ctx context.Context, args []string, out io.Writer) error {
	global := flag.NewFlagSet("client", flag.ContinueOnError)
	addr := global.String("addr", "http://localhost:8080", "The server base URL")
	if err := global.Parse(args); err != nil {
		return err
	}
	args = global.Args()
	if len(args) == 0 {
		return errUsage
	}
	c := &client{baseURL: strings.TrimRight(*addr, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	command, rest := args[0], args[1:]
	switch command {
	case "book":
		if len(rest) != 1 {
			return fmt.Errorf("%w: book <itemTag>", errUsage)
		}
		var book core.OrderBook
		if err := c.do(ctx, http.MethodGet, "/orderbook/"+url.PathEscape(rest[0]), nil, &book); err != nil {
			return err
		}
		return printBook(out, rest[0], &book)
	case "batch":
		if len(rest) == 0 {
			return fmt.Errorf("%w: batch <itemTag>...", errUsage)
		}
		var books map[string]*core.OrderBook
		if err := c.do(ctx, http.MethodPost, "/orderbook/batch", rest, &books); err != nil {
			return err
		}
		tags := make([]string, 0, len(books))
		for tag := range books {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			if err := printBook(out, tag, books[tag]); err != nil {
				return err
			}
		}
		return nil
	case "add":
		order, err := parseOrder(rest)
		if err != nil {
			return err
		}
		if err := c.do(ctx, http.MethodPost, "/orderbook", order, nil); err != nil {
			return err
		}
		log.Info().Str("item", order.ItemID).Str("side", order.Side().String()).
			Float64("price", order.PricePerUnit).Int64("amount", order.Amount).
			Time("timestamp", order.Timestamp).Msg("Order added")
		return nil
	case "remove":
		fs := flag.NewFlagSet("remove", flag.ContinueOnError)
		item := fs.String("item", "", "Item tag")
		user := fs.String("user", "", "User id")
		ts := fs.String("ts", "", "Order timestamp (RFC3339)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *item == "" || *user == "" || *ts == "" {
			return fmt.Errorf("%w: remove -item <tag> -user <id> -ts <timestamp>", errUsage)
		}
		q := url.Values{"itemTag": {*item}, "userId": {*user}, "timestamp": {*ts}}
		if err := c.do(ctx, http.MethodDelete, "/orderbook?"+q.Encode(), nil, nil); err != nil {
			return err
		}
		log.Info().Str("item", *item).Str("user_id", *user).Msg("Order removed")
		return nil
	case "update":
		if len(rest) != 1 {
			return fmt.Errorf("%w: update <file.json>", errUsage)
		}
		var update core.OrderBookUpdate
		if err := readJSON(rest[0], &update); err != nil {
			return err
		}
		var accepted bool
		if err := c.do(ctx, http.MethodPost, "/orderbook/update", &update, &accepted); err != nil {
			return err
		}
		if accepted {
			fmt.Fprintln(out, color.GreenString("update applied"))
		} else {
			fmt.Fprintln(out, color.YellowString("update rejected (stale or future timestamp)"))
		}
		return nil
	case "publish":
		fs := flag.NewFlagSet("publish", flag.ContinueOnError)
		brokers := fs.String("brokers", "localhost:9092", "Comma separated Kafka brokers")
		topic := fs.String("topic", "bazaar-pulls", "Snapshot topic")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: publish [-brokers b] [-topic t] <pull.json>", errUsage)
		}
		var pull core.BazaarPull
		if err := readJSON(fs.Arg(0), &pull); err != nil {
			return err
		}
		if pull.Timestamp.IsZero() {
			pull.Timestamp = time.Now()
		}
		p, err := newPublisher(strings.Split(*brokers, ","), *topic)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := p.Publish(&pull); err != nil {
			return err
		}
		log.Info().Int("products", len(pull.Products)).Str("topic", *topic).Msg("Published bazaar pull")
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func parseOrder(args []string) (*core.Order, error) {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	item := fs.String("item", "", "Item tag")
	side := fs.String("side", "sell", "Order side: buy or sell")
	price := fs.Float64("price", 0, "Price per unit")
	amount := fs.Int64("amount", 1, "Amount")
	user := fs.String("user", "", "User id (empty for a synthetic order)")
	player := fs.String("player", "", "Player name")
	ts := fs.String("ts", "", "Order timestamp (RFC3339), defaults to now")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *item == "" {
		return nil, fmt.Errorf("%w: add -item <tag> -side buy|sell -price p [-amount n] [-user id]", errUsage)
	}

	order := &core.Order{
		ItemID:       *item,
		PricePerUnit: *price,
		Amount:       *amount,
		Timestamp:    time.Now().UTC(),
	}
	switch strings.ToLower(*side) {
	case "sell":
		order.IsSell = true
	case "buy":
	default:
		return nil, fmt.Errorf("%w: side must be buy or sell", errUsage)
	}
	if *ts != "" {
		t, err := time.Parse(time.RFC3339Nano, *ts)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp: %w", err)
		}
		order.Timestamp = t
	}
	if *user != "" {
		order.UserID = core.StringPtr(*user)
		name := *player
		if name == "" {
			name = *user
		}
		order.PlayerName = core.StringPtr(name)
	}
	return order, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func printBook(out io.Writer, itemTag string, book *core.OrderBook) error {
	cyan := color.New(color.FgCyan).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()

	sells := append([]*core.Order(nil), book.Sell...)
	sort.SliceStable(sells, func(i, j int) bool { return sells[i].PricePerUnit > sells[j].PricePerUnit })
	buys := append([]*core.Order(nil), book.Buy...)
	sort.SliceStable(buys, func(i, j int) bool { return buys[i].PricePerUnit > buys[j].PricePerUnit })

	fmt.Fprintln(out, cyan(itemTag))
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", cyan("Price"), cyan("Amount"), cyan("User"), cyan("Side"))
	row := func(o *core.Order, side string) {
		user := o.User()
		if o.IsSynthetic() {
			user = "-"
		} else if o.HasBeenNotified {
			user += "*"
		}
		fmt.Fprintf(w, "%.1f\t%d\t%s\t%s\t\n", o.PricePerUnit, o.Amount, user, side)
	}
	for _, o := range sells {
		row(o, red("ASK"))
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", "-----", "------", "----", "----")
	for _, o := range buys {
		row(o, green("BID"))
	}
	return w.Flush()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: client [-addr URL] <command> [args]")
	fmt.Fprintln(w, "  book <itemTag>")
	fmt.Fprintln(w, "  batch <itemTag>...")
	fmt.Fprintln(w, "  add -item <tag> -side buy|sell -price <p> [-amount n] [-user id] [-player name] [-ts RFC3339]")
	fmt.Fprintln(w, "  remove -item <tag> -user <id> -ts <RFC3339>")
	fmt.Fprintln(w, "  update <update.json>")
	fmt.Fprintln(w, "  publish [-brokers host:port,...] [-topic t] <pull.json>")
	fmt.Fprintln(w, "\nExamples:")
	fmt.Fprintln(w, "  add -item ENCHANTED_DIAMOND -side sell -price 1234.5 -amount 64 -user 3f2a")
	fmt.Fprintln(w, "  book ENCHANTED_DIAMOND")
}
