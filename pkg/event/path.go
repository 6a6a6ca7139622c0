package event

import (
	"fmt"
	"strconv"
	"strings"
)

// Path tracks the containers open at the current point of the stream.
type Path struct {
	stack []string
}

func (p *Path) Push(name string) {
	p.stack = append(p.stack, name)
}

// Pop closes the innermost container.
func (p *Path) Pop() error {
	if len(p.stack) == 0 {
		return ErrUnbalancedContainer
	}
	p.stack = p.stack[:len(p.stack)-1]
	return nil
}

func (p *Path) Depth() int { return len(p.stack) }

// Components returns a copy of the open container names, outermost first.
func (p *Path) Components() []string {
	out := make([]string, len(p.stack))
	copy(out, p.stack)
	return out
}

// Key encodes the open containers as a sequence of quoted names, so every
// distinct path, empty names included, has a distinct key. The root is "".
func (p *Path) Key() string {
	var b strings.Builder
	for _, c := range p.stack {
		b.WriteString(strconv.Quote(c))
	}
	return b.String()
}

// SplitKey reverses Path.Key.
func SplitKey(key string) ([]string, error) {
	var out []string
	for key != "" {
		quoted, err := strconv.QuotedPrefix(key)
		if err != nil {
			return nil, fmt.Errorf("malformed path key %q: %w", key, err)
		}
		c, err := strconv.Unquote(quoted)
		if err != nil {
			return nil, fmt.Errorf("malformed path key %q: %w", key, err)
		}
		out = append(out, c)
		key = key[len(quoted):]
	}
	return out, nil
}
