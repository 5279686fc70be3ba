package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"nca-go/internal/chat"
	"nca-go/internal/stream"
	"nca-go/internal/transcript"
)

// printer writes transcript snapshots as plain text, printing only what
// is new since the previous snapshot.
type printer struct {
	mu        sync.Mutex
	w         io.Writer
	done      int // messages fully printed
	reasoning int // bytes of the open message's reasoning already printed
	content   int // bytes of the open message's content already printed
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w}
}

// skip marks the first n messages as already shown.
func (p *printer) skip(n int) {
	p.mu.Lock()
	p.done, p.reasoning, p.content = n, 0, 0
	p.mu.Unlock()
}

func (p *printer) update(msgs []transcript.Message, streaming bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := p.done; i < len(msgs); i++ {
		m := msgs[i]
		last := i == len(msgs)-1
		switch m.Role {
		case transcript.RoleUser:
			// echoed by the terminal already
		case transcript.RoleToolCall:
			fmt.Fprintf(p.w, "\n[Tool Call] %s\n", m.Content)
		case transcript.RoleToolResult:
			fmt.Fprintf(p.w, "[Tool Result] %s\n", m.Content)
		case transcript.RoleAssistant:
			p.assistant(m)
		}

		if last && streaming && m.Role == transcript.RoleAssistant {
			// still growing
			return
		}
		if m.Role == transcript.RoleAssistant {
			fmt.Fprintln(p.w)
		}
		p.done = i + 1
		p.reasoning, p.content = 0, 0
	}
}

func (p *printer) assistant(m transcript.Message) {
	if len(m.Reasoning) > p.reasoning {
		if p.reasoning == 0 {
			fmt.Fprint(p.w, "\n(thinking) ")
		}
		fmt.Fprint(p.w, m.Reasoning[p.reasoning:])
		p.reasoning = len(m.Reasoning)
	}
	if len(m.Content) > p.content {
		if p.content == 0 {
			fmt.Fprint(p.w, "\nAssistant: ")
		}
		fmt.Fprint(p.w, m.Content[p.content:])
		p.content = len(m.Content)
	}
}

func runREPL(ctx context.Context, c *chat.Chat, resume bool, stdin io.Reader, stdout, stderr io.Writer) int {
	out := newPrinter(stdout)
	c.OnUpdate = out.update
	c.OnError = func(err error) {
		fmt.Fprintf(stderr, "\nError: %v\n", err)
	}
	c.OnComplete = func(res chat.Result) {
		if n := res.Stats.Dropped(); n > 0 {
			fmt.Fprintf(stderr, "(%d frames dropped)\n", n)
		}
	}

	fmt.Fprintln(stdout, "\nnca-go")
	fmt.Fprintf(stdout, "Conversation: %s\n", c.Session().ID)

	if resume {
		n, err := c.Load(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: could not load history: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(stdout, "(%d earlier messages)\n", n)
		}
	}
	out.skip(c.Transcript().Len())

	fmt.Fprintln(stdout, "Type your message and press Enter. Type 'exit' or 'quit' to quit.")
	fmt.Fprintln(stdout)

	// Set up signal handling: Ctrl+C stops a streaming answer, or quits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	quit := make(chan struct{})
	go func() {
		for range sigCh {
			if c.IsRunning() {
				c.Cancel()
				continue
			}
			close(quit)
			return
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(stdout, "> ")
		var line string
		select {
		case <-quit:
			fmt.Fprintln(stdout, "\nGoodbye!")
			return 0
		case l, ok := <-lines:
			if !ok {
				return 0
			}
			line = l
		}

		input := strings.TrimSpace(line)
		if input == "exit" || input == "quit" {
			fmt.Fprintln(stdout, "Goodbye!")
			return 0
		}
		if input == "" {
			continue
		}

		// Failures are reported through OnError.
		if _, err := c.Send(ctx, input); errors.Is(err, stream.ErrCancelled) {
			fmt.Fprintln(stdout, "\n(cancelled)")
		}
		out.skip(c.Transcript().Len())
	}
}
