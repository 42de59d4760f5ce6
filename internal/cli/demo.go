package cli

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/labring/testreport/internal/server"
	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
	"github.com/labring/testreport/pkg/config"
	"github.com/labring/testreport/pkg/launch"
	"github.com/labring/testreport/pkg/logging"
)

type demoOptions struct {
	paramsFile string
	endpoint   string
	project    string
	launch     string
	suites     int
	tests      int
	parallel   int
	failEvery  int
}

var demoOpts demoOptions

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Report a synthetic launch",
	Long: `Report a synthetic launch of nested suites and tests. Without an endpoint
an in-process collector is started and the collected launch is printed.`,
	RunE: runDemo,
}

func init() {
	flags := demoCmd.Flags()
	flags.StringVarP(&demoOpts.paramsFile, "params", "p", "", "listener parameters YAML file")
	flags.StringVar(&demoOpts.endpoint, "endpoint", "", "collector base URL (in-process collector when empty)")
	flags.StringVar(&demoOpts.project, "project", "demo", "project name")
	flags.StringVar(&demoOpts.launch, "launch", "rpctl demo", "launch name")
	flags.IntVar(&demoOpts.suites, "suites", 3, "number of suites")
	flags.IntVar(&demoOpts.tests, "tests", 4, "tests per suite")
	flags.IntVar(&demoOpts.parallel, "parallel", 2, "suites run concurrently")
	flags.IntVar(&demoOpts.failEvery, "fail-every", 5, "every n-th test fails and is retried (0 disables)")
}

func demoParameters(cmd *cobra.Command) (*config.ListenerParameters, error) {
	params, err := config.LoadListenerParameters(demoOpts.paramsFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		params.Endpoint = demoOpts.endpoint
	}
	if flags.Changed("project") || params.Project == "" {
		params.Project = demoOpts.project
	}
	if flags.Changed("launch") || params.Launch == "" {
		params.Launch = demoOpts.launch
	}
	return params, nil
}

func runDemo(cmd *cobra.Command, _ []string) error {
	params, err := demoParameters(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var local *server.Server
	served := make(chan error, 1)
	if params.Endpoint == "" {
		local, err = startLocalCollector(ctx, params, served)
		if err != nil {
			return err
		}
	}

	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}

	c, err := client.NewHTTPClient(params.ClientConfig(slog.Default()))
	if err != nil {
		return err
	}

	var logFailures atomic.Int64
	l := launch.New(c, params, launch.NewStartLaunchRQ(params),
		launch.WithLogErrorHandler(func(err error) {
			logFailures.Add(1)
		}),
	)

	g := new(errgroup.Group)
	g.SetLimit(max(demoOpts.parallel, 1))
	for i := range demoOpts.suites {
		g.Go(func() error {
			runSuite(l, i, demoOpts)
			return nil
		})
	}
	_ = g.Wait()

	if err := l.Finish(ctx, nil); err != nil {
		return fmt.Errorf("failed to finish launch: %w", err)
	}

	launchID, ok, err := l.Start().Wait(ctx)
	switch {
	case err != nil:
		return err
	case !ok:
		fmt.Fprintln(cmd.OutOrStdout(), "Reporting is disabled, nothing was sent")
	case local != nil:
		details, err := local.Store().LaunchDetails(launchID)
		if err != nil {
			return err
		}
		printLaunch(cmd.OutOrStdout(), details)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "Launch %s reported to %s\n", launchID, params.Endpoint)
	}

	if n := logFailures.Load(); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d log batches failed to deliver\n", n)
	}

	if local != nil {
		cancel()
		return <-served
	}
	return nil
}

// startLocalCollector serves a collector on a loopback port and points params at it
func startLocalCollector(ctx context.Context, params *config.ListenerParameters, served chan<- error) (*server.Server, error) {
	cfg := config.NewCollectorConfig()
	cfg.Token = params.UUID
	cfg.EnsureToken()
	params.UUID = cfg.Token

	srv, err := server.New(cfg)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start local collector: %w", err)
	}
	params.Endpoint = "http://" + ln.Addr().String()

	go func() {
		served <- runServer(ctx, ln, srv)
	}()
	return srv, nil
}

// runSuite reports one suite. Every failEvery-th test fails with a screenshot
// and is retried.
func runSuite(l launch.Launch, index int, o demoOptions) {
	suite := l.StartTestItem(nil, nil, &common.StartTestItemRQ{
		Name: fmt.Sprintf("suite-%d", index+1),
		Type: common.ItemTypeSuite,
	})
	l.Log(suite, logging.Message(common.LevelDebug, "suite setup"))

	for t := range o.tests {
		n := index*o.tests + t + 1
		name := fmt.Sprintf("test-%d", n)

		test := l.StartTestItem(suite, nil, &common.StartTestItemRQ{
			Name:       name,
			Type:       common.ItemTypeTest,
			Parameters: []common.Parameter{{Key: "n", Value: strconv.Itoa(n)}},
		})
		l.Log(test, logging.Message(common.LevelInfo, "running "+name))

		if o.failEvery <= 0 || n%o.failEvery != 0 {
			l.FinishTestItem(test, &common.FinishTestItemRQ{Status: common.StatusPassed})
			continue
		}

		l.Log(test, logging.Attachment(common.LevelError, "assertion failed", &common.File{
			Name:        name + ".png",
			ContentType: "image/png",
			Content:     screenshot(n),
		}))
		l.FinishTestItem(test, &common.FinishTestItemRQ{Status: common.StatusFailed})

		retry := l.StartTestItem(suite, test, &common.StartTestItemRQ{Name: name, Type: common.ItemTypeTest})
		l.Log(retry, logging.Message(common.LevelInfo, "retrying "+name))
		l.FinishTestItem(retry, &common.FinishTestItemRQ{Status: common.StatusPassed})
	}

	l.FinishTestItem(suite, nil)
}

// screenshot renders a small colored PNG
func screenshot(seed int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := range 32 {
		for x := range 32 {
			img.Set(x, y, color.RGBA{R: uint8(x * 8), G: uint8(y * 8), B: uint8(seed * 40), A: 255})
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
