package stages

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"recmig/internal/config"
	"recmig/internal/pipeline"
	"recmig/internal/record"
)

func init() {
	pipeline.Register("breakpoint", func(env *pipeline.Env, st config.Stage) (pipeline.Stage, error) {
		return NewBreakpoint(env, st), nil
	})
}

// Breakpoint prints each record matching its condition and, when stdin is a
// terminal, waits for Enter. Without a terminal it logs and continues.
// Debugging aid only.
type Breakpoint struct {
	base
	interactive bool
	in          *bufio.Reader
}

func NewBreakpoint(env *pipeline.Env, st config.Stage) *Breakpoint {
	b := &Breakpoint{base: newBase(env, st)}
	if f, ok := env.Stdin.(*os.File); ok {
		fd := f.Fd()
		b.interactive = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	if env.Stdin != nil {
		b.in = bufio.NewReader(env.Stdin)
	}
	return b
}

func (b *Breakpoint) dump(rec *record.Record) {
	fmt.Fprintf(b.env.Stdout, "-- breakpoint %s at %s (type=%s)\n", b.name, rec.Identity(), rec.Type)
	for _, f := range rec.Fields() {
		v, _ := rec.Get(f)
		if v == nil {
			fmt.Fprintf(b.env.Stdout, "   %-20s null\n", f)
			continue
		}
		fmt.Fprintf(b.env.Stdout, "   %-20s %q\n", f, record.Text(v))
	}
}

func (b *Breakpoint) Apply(ctx context.Context, in pipeline.Seq) pipeline.Seq {
	return each(ctx, in, func(rec *record.Record) (*record.Record, error) {
		if !b.holds(rec, nil) {
			return rec, nil
		}
		b.dump(rec)
		if !b.interactive || b.in == nil {
			b.log.Info("breakpoint: hit, not a terminal; continuing", "record", rec.Identity())
			return rec, nil
		}
		fmt.Fprint(b.env.Stdout, "press Enter to continue ")
		if _, err := b.in.ReadString('\n'); err != nil {
			b.log.Warn("breakpoint: stdin closed; continuing", "err", err)
			b.interactive = false
		}
		return rec, nil
	})
}
