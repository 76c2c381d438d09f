package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushcode/pkg/engine"
	"github.com/crystal-mush/mushcode/pkg/eval"
	"github.com/crystal-mush/mushcode/pkg/events"
	"github.com/crystal-mush/mushcode/pkg/gamedb"
	"github.com/crystal-mush/mushcode/pkg/markup"
)

const minimalWorld = `
objects:
  - ref: 0
    name: Room Zero
    type: room
    owner: 1
  - ref: 1
    name: Wizard
    type: player
    location: 0
    flags: [WIZARD]
`

// result is one evaluated line, as printed with -json.
type result struct {
	Line     int      `json:"line,omitempty"`
	Input    string   `json:"input"`
	Output   string   `json:"output"`
	Expected *string  `json:"expected,omitempty"`
	Pass     *bool    `json:"pass,omitempty"`
	Notify   []string `json:"notify,omitempty"`
}

type harness struct {
	eng      *engine.Engine
	out      *events.Recorder
	player   gamedb.DBRef
	commands bool
}

func main() {
	worldPath := flag.String("world", "", "Path to a YAML world file")
	player := flag.Int("player", 1, "DBRef number to use as player context")
	expr := flag.String("e", "", "Expression to evaluate (non-interactive mode)")
	batch := flag.String("batch", "", "File with expressions to evaluate (one per line)")
	commands := flag.Bool("commands", false, "Run input as command lists instead of expressions")
	asJSON := flag.Bool("json", false, "Print results as JSON lines")
	flag.Parse()

	var (
		db  *gamedb.Database
		err error
	)
	if *worldPath != "" {
		fmt.Fprintf(os.Stderr, "Loading world from %s...\n", *worldPath)
		db, err = gamedb.LoadWorldFile(*worldPath)
	} else {
		db, err = gamedb.LoadWorld(strings.NewReader(minimalWorld))
		fmt.Fprintf(os.Stderr, "Using minimal test world (no -world given)\n")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading world: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	h := &harness{
		eng:      engine.New(db, bus, engine.Options{}),
		out:      &events.Recorder{},
		player:   gamedb.DBRef(*player),
		commands: *commands,
	}
	bus.SubscribeGlobal(h.out)

	emit := func(r result) {
		if *asJSON {
			data, err := json.Marshal(r)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
				return
			}
			fmt.Println(string(data))
			return
		}
		switch {
		case r.Pass != nil:
			status := "PASS"
			if !*r.Pass {
				status = "FAIL"
			}
			fmt.Printf("[%s] Line %d: %s\n", status, r.Line, r.Input)
			if !*r.Pass {
				fmt.Printf("  Expected: %s\n", *r.Expected)
				fmt.Printf("  Got:      %s\n", r.Output)
			}
		case r.Line > 0:
			fmt.Printf("Line %d: %s => %s\n", r.Line, r.Input, r.Output)
		default:
			fmt.Println(r.Output)
		}
		for _, n := range r.Notify {
			fmt.Printf("  [notify] %s\n", n)
		}
	}

	ctx := context.Background()
	if *expr != "" {
		emit(h.run(ctx, *expr))
		return
	}

	if *batch != "" {
		f, err := os.Open(*batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening batch file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()

		failed := 0
		scanner := bufio.NewScanner(f)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			// Format: expression | expected_result (optional)
			parts := strings.SplitN(line, " | ", 2)
			r := h.run(ctx, parts[0])
			r.Line = lineNum
			if len(parts) == 2 {
				pass := r.Output == parts[1]
				r.Expected, r.Pass = &parts[1], &pass
				if !pass {
					failed++
				}
			}
			emit(r)
		}
		if failed > 0 {
			os.Exit(1)
		}
		return
	}

	fmt.Println("MUSHcode Eval Engine Test Harness")
	fmt.Printf("Player context: #%d\n", *player)
	fmt.Println("Type MUSH expressions to evaluate. Ctrl+C to exit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("mush> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		emit(h.run(ctx, line))
	}
}

// run evaluates one input line and drains anything it queued.
func (h *harness) run(ctx context.Context, input string) result {
	r := result{Input: input}
	if h.commands {
		cs, err := h.eng.RunTopLevelCommand(ctx, h.player, input)
		if err != nil {
			r.Output = "ERROR: " + err.Error()
			return r
		}
		r.Output = cs.Text.Plain()
		h.out.Take() // already in the result
	} else {
		scope := h.eng.Ev.NewScope()
		ps := eval.NewState(h.player, h.player).WithScope(scope)
		cs, err := h.eng.Ev.Evaluate(ctx, markup.New(input), ps)
		if err != nil {
			cs, err = h.eng.Ev.Abort(err, ps)
		}
		if err != nil {
			r.Output = "ERROR: " + err.Error()
			return r
		}
		r.Output = cs.Text.Plain()
		deliveries, deferred := scope.Take()
		for _, d := range deliveries {
			r.Notify = append(r.Notify, fmt.Sprintf("#%d: %s", d.To, d.Text.Plain()))
		}
		for _, d := range deferred {
			r.Notify = append(r.Notify, fmt.Sprintf("queued for #%d: %s", d.Executor, d.Command))
		}
	}
	for range 100 {
		if h.eng.Queue.ProcessReady(ctx) == 0 {
			break
		}
	}
	for _, ev := range h.out.Take() {
		r.Notify = append(r.Notify, fmt.Sprintf("#%d: %s", ev.Player, ev.Text.Plain()))
	}
	return r
}
