package worker

import (
	"context"
	"errors"
	"time"
)

// Foo is the reference target used throughout the worker tests.
type Foo struct {
	Baz    string
	Greet  func(name string) string
	secret string
}

func newFoo() *Foo {
	return &Foo{
		Baz:    "baz value",
		Greet:  func(name string) string { return "hello " + name },
		secret: "hidden",
	}
}

func (f *Foo) Foo() string { return "foo" }

func (f *Foo) Bar() string { return "bar" }

func (f *Foo) AsyncFoo() <-chan string {
	ch := make(chan string, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		ch <- "async foo"
	}()
	return ch
}

func (f *Foo) Identity(args ...any) []any { return args }

func (f *Foo) Raise(msg string) error { return errors.New(msg) }

func (f *Foo) Add(a, b int) int { return a + b }

func (f *Foo) Sleep(ctx context.Context, ms int) (string, error) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return "slept", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (f *Foo) Panic() { panic("kaboom") }

func (f *Foo) AsyncFail() <-chan error {
	ch := make(chan error, 1)
	ch <- errors.New("async boom")
	return ch
}

func (f *Foo) Closed() <-chan int {
	ch := make(chan int)
	close(ch)
	return ch
}

func (f *Foo) Forever() <-chan int { return make(chan int) }

// Tuple has an unsupported signature and is not a member.
func (f *Foo) Tuple() (int, int, int) { return 1, 2, 3 }
