package workchain

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/hamba/pkg/log"
	"github.com/hamba/pkg/stats"
	"github.com/nrwiersma/workchain/work"
)

// Observer observes job statuses by tag.
type Observer interface {
	Subscribe(ctx context.Context, tag string) <-chan []work.Status
}

// Config configures an application.
type Config struct {
	Observer Observer
	Tag      string
	Out      io.Writer
	Logger   log.Logger
	Statter  stats.Statter
}

// Application prints the statuses of the jobs with a tag as they change.
type Application struct {
	obs Observer
	tag string
	out io.Writer

	cancel context.CancelFunc
	doneCh chan struct{}

	logger  log.Logger
	statter stats.Statter
}

// NewApplication creates an instance of Application.
func NewApplication(cfg Config) *Application {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Null
	}
	if cfg.Statter == nil {
		cfg.Statter = stats.Null
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		obs:     cfg.Observer,
		tag:     cfg.Tag,
		out:     cfg.Out,
		cancel:  cancel,
		doneCh:  make(chan struct{}),
		logger:  cfg.Logger,
		statter: cfg.Statter,
	}

	go app.printStatuses(ctx)

	return app
}

func (a *Application) printStatuses(ctx context.Context) {
	defer close(a.doneCh)

	for statuses := range a.obs.Subscribe(ctx, a.tag) {
		a.statter.Inc("app.snapshots", 1, 1.0)

		if err := PrintStatuses(a.out, statuses); err != nil {
			a.logger.Error("Error printing statuses", "error", err)
		}
	}
}

// PrintStatuses writes the statuses as a table.
func PrintStatuses(w io.Writer, statuses []work.Status) error {
	tw := tabwriter.NewWriter(w, 10, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "")
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", "Job", "Chain", "Stage", "Kind", "State", "Output")
	for _, st := range statuses {
		out := st.Error
		if st.State == work.Succeeded {
			out = formatData(st.Output)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", st.JobID, st.ChainName, st.Stage, st.Kind, st.State, out)
	}
	fmt.Fprintln(tw, "")
	return tw.Flush()
}

func formatData(d work.Data) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + d.String(k)
	}
	return strings.Join(pairs, " ")
}

// Close stops printing and waits for the printer to finish.
func (a *Application) Close() error {
	a.cancel()
	<-a.doneCh
	return nil
}
