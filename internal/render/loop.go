package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"go.uber.org/atomic"
)

// ErrStopped is returned when posting to a loop that is no longer running.
var ErrStopped = errors.New("render loop stopped")

// Renderer paints a state. It is called only from the loop goroutine.
type Renderer interface {
	Render(State)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(State)

func (f RendererFunc) Render(s State) { f(s) }

// Guard reports whether posted work is still wanted once the loop reaches
// it. A nil Guard always passes.
type Guard func() bool

func (g Guard) allows() bool { return g == nil || g() }

// Recorder receives render outcomes; *metrics.Collector implements it.
type Recorder interface {
	RecordApplied(consumer string)
}

// Loop is the presentation context: a single goroutine that owns a Holder
// and the renderer. Background code hands it work with Apply, Fail and
// Dismiss; nothing on the loop calls back into the background.
type Loop struct {
	name     string
	holder   *Holder
	renderer Renderer
	metrics  Recorder

	tasks   chan func()
	stopped chan struct{}
	current atomic.Value
}

// NewLoop creates a loop for the named consumer. metrics may be nil.
func NewLoop(name string, renderer Renderer, metrics Recorder) *Loop {
	l := &Loop{
		name:     name,
		holder:   NewHolder(),
		renderer: renderer,
		metrics:  metrics,
		tasks:    make(chan func(), 64),
		stopped:  make(chan struct{}),
	}
	l.current.Store(l.holder.State())
	return l
}

// Name identifies the consumer.
func (l *Loop) Name() string { return l.name }

// Run processes posted work until ctx is done. The initial placeholder state
// is rendered first.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	l.render(l.holder.State())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-l.tasks:
			l.safely(task)
		}
	}
}

// Apply posts a candidate for merging into the holder. It is discarded if
// guard no longer passes when the loop gets to it.
func (l *Loop) Apply(ctx context.Context, guard Guard, c Candidate) error {
	return l.post(ctx, func() {
		if !guard.allows() {
			log.Printf("render[%s]: dropping superseded update", l.name)
			return
		}
		if st, changed := l.holder.ApplyOrFallback(c); changed {
			l.render(st)
		}
		if l.metrics != nil {
			l.metrics.RecordApplied(l.name)
		}
	})
}

// Fail posts a failed cycle, guarded like Apply.
func (l *Loop) Fail(ctx context.Context, guard Guard, reason error) error {
	return l.post(ctx, func() {
		if !guard.allows() {
			return
		}
		log.Printf("render[%s]: no usable snapshot: %v", l.name, reason)
		if st, changed := l.holder.MarkFailure(); changed {
			l.render(st)
		}
	})
}

// Dismiss posts an explicit dismissal of the advisory.
func (l *Loop) Dismiss(ctx context.Context) error {
	return l.post(ctx, func() {
		if st, changed := l.holder.Dismiss(); changed {
			l.render(st)
		}
	})
}

// Current returns the last rendered state. It is safe from any goroutine.
func (l *Loop) Current() State {
	return l.current.Load().(State)
}

func (l *Loop) post(ctx context.Context, task func()) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- task:
		return nil
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) render(st State) {
	l.current.Store(st)
	if l.renderer != nil {
		l.renderer.Render(st)
	}
}

func (l *Loop) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: render[%s]: recovered: %v", l.name, r)
		}
	}()
	task()
}

// LogRenderer writes every state to the standard logger. The companion CLI
// uses it in place of a display.
type LogRenderer struct {
	Name string
}

func (r LogRenderer) Render(s State) {
	line := fmt.Sprintf("INFO: render[%s]: icon=%s label=%q max=%s min=%s", r.Name, s.Icon, s.Label, s.MaxTemp, s.MinTemp)
	if missing := (AllFields &^ s.Real).Names(); len(missing) > 0 {
		line += " placeholders=" + strings.Join(missing, ",")
	}
	if s.Advisory != "" {
		line += fmt.Sprintf(" advisory=%q", s.Advisory)
	}
	log.Print(line)
}
