package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mengeric/jobprogress/config"
	"github.com/mengeric/jobprogress/server"
	"github.com/mengeric/jobprogress/stream"
)

var (
	ErrJobFailed        = errors.New("job failed")
	ErrConnectionFailed = errors.New("connection failed")
)

func buildWatchCommand(g *globalFlags) *cobra.Command {
	var serverURL, token string
	cmd := &cobra.Command{
		Use:   "watch <jobId>",
		Short: "Follow a job's progress stream until it completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = "http://localhost:" + strconv.Itoa(cfg.Server.Port)
			}
			if token == "" {
				token = cfg.Server.APIToken
			}
			ctx, stop := server.WithSignalCancel(cmd.Context())
			defer stop()
			return runWatch(ctx, cmd.OutOrStdout(), serverURL, token, args[0], cfg.Client)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "service base URL (default http://localhost:<server.port>)")
	cmd.Flags().StringVar(&token, "token", "", "API token (default server.apiToken)")
	return cmd
}

// runWatch 打印事件直到终态：complete 返回 nil，error 返回 ErrJobFailed，重连耗尽返回 ErrConnectionFailed。
func runWatch(ctx context.Context, out io.Writer, base, token, jobID string, cc config.ClientConfig) error {
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	endpoint := strings.TrimRight(base, "/") + "/api/jobs/" + url.PathEscape(jobID) + "/stream"
	s := stream.New(endpoint, stream.Handlers{
		OnProgress: func(p stream.Progress) {
			fmt.Fprintf(out, "progress %d/%d %s\n", p.Current, p.Total, p.Message)
		},
		OnComplete: func(c stream.Complete) {
			fmt.Fprintf(out, "complete total=%d output=%s\n", c.Total, c.OutputURL)
			finish(nil)
		},
		OnError: func(e stream.JobError) {
			fmt.Fprintf(out, "error %s: %s\n", e.Code, e.Message)
			finish(fmt.Errorf("%w: %s", ErrJobFailed, e.Code))
		},
		OnNotice: func(n stream.Notice) {
			fmt.Fprintf(out, "notice: %s\n", n.Message)
			if n.Kind == stream.NoticeFailed {
				finish(fmt.Errorf("%w: %v", ErrConnectionFailed, n.Err))
			}
		},
	},
		stream.WithOptions(stream.Options{Backoff: cc.Backoff, SilenceTimeout: cc.SilenceTimeout, SilenceCheckEvery: cc.SilenceCheckEvery}),
		stream.WithDialer(stream.HTTPDialer{Token: token}),
	)
	defer s.Close()
	if err := s.Connect(); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
