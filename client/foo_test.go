package client

import (
	"context"
	"errors"
	"time"
)

// Foo is the reference target the proxy tests load into a worker.
type Foo struct {
	Baz   string
	Greet func(name string) string
}

func newFoo() (any, error) {
	return &Foo{
		Baz:   "baz value",
		Greet: func(name string) string { return "hello " + name },
	}, nil
}

func (f *Foo) Foo() string { return "foo" }

func (f *Foo) Bar() string { return "bar" }

func (f *Foo) AsyncFoo() <-chan string {
	ch := make(chan string, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		ch <- "async foo"
	}()
	return ch
}

func (f *Foo) Identity(args ...any) []any { return args }

func (f *Foo) Raise() error { return errors.New("Inner error message") }

func (f *Foo) Add(a, b int) int { return a + b }

func (f *Foo) Sum(nums ...int) int {
	total := 0
	for _, n := range nums {
		total += n
	}
	return total
}

func (f *Foo) Sleep(ctx context.Context, ms int) (string, error) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return "slept", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Foo) Forever() <-chan int { return make(chan int) }
