package cli

import (
	"io"
	"sync"

	"github.com/chzyer/readline"
)

// Console is a readline prompt that other goroutines can print above
// without clobbering the line being typed.
type Console struct {
	rl *readline.Instance
	mu sync.Mutex
}

func NewConsole(prompt string) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "/bye",
	})
	if err != nil {
		return nil, err
	}
	return &Console{rl: rl}, nil
}

func (c *Console) Close() error { return c.rl.Close() }

func (c *Console) Readline() (string, error) {
	return c.rl.Readline()
}

func (c *Console) Println(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.rl.Stdout().Write([]byte("\r" + msg + "\n"))
	c.rl.Refresh()
}

// Writer is where progress bars and logs are drawn.
func (c *Console) Writer() io.Writer {
	return c.rl.Stderr()
}
