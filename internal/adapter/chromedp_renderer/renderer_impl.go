package chromedp_renderer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/wiki-archiver/internal/entity"
	"github.com/user/wiki-archiver/internal/repository"
)

// Options configures the browser session.
type Options struct {
	// ReadyTimeout bounds the wait for WaitSelector to become visible.
	ReadyTimeout time.Duration
	// PageTimeout bounds a whole render, navigation included.
	PageTimeout  time.Duration
	WaitSelector string
	Headless     bool
	ExecPath     string
	UserAgent    string
	ProxyServer  string
}

// ChromedpRenderer renders pages in one long-lived headless Chrome tab.
type ChromedpRenderer struct {
	opts          Options
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
	logger        *zap.Logger
}

// NewChromedpRenderer starts the browser. Startup failures wrap repository.ErrRendererInit.
func NewChromedpRenderer(opts Options, logger *zap.Logger) (*ChromedpRenderer, error) {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 60 * time.Second
	}
	if opts.WaitSelector == "" {
		opts.WaitSelector = "body"
	}

	execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		execOpts = append(execOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ProxyServer != "" {
		execOpts = append(execOpts, chromedp.ProxyServer(opts.ProxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), execOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	// Run with no actions launches the browser and opens the tab.
	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", repository.ErrRendererInit, err)
	}
	logger.Info("browser session started", zap.Bool("headless", opts.Headless))

	return &ChromedpRenderer{
		opts:          opts,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        logger,
	}, nil
}

// Render navigates to url, waits for the ready selector and returns the outer HTML.
// A browser that has exited yields an error wrapping repository.ErrRendererGone.
func (r *ChromedpRenderer) Render(ctx context.Context, url string) (*entity.RenderedPage, error) {
	if err := r.sessionErr(); err != nil {
		return nil, err
	}
	taskCtx, cancel := context.WithTimeout(r.browserCtx, r.opts.PageTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var status atomic.Int64
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			status.CompareAndSwap(0, e.Response.Status)
		}
	})

	start := time.Now()
	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		r.waitReady(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if gone := r.sessionErr(); gone != nil {
			return nil, gone
		}
	}
	code := int(status.Load())
	if err := Classify(url, code, err); err != nil {
		return nil, err
	}

	r.logger.Debug("chromedp render complete",
		zap.String("url", url),
		zap.Int("status", code),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()),
		zap.Int("html_bytes", len(html)),
	)
	return &entity.RenderedPage{
		URL:        url,
		HTML:       html,
		StatusCode: code,
		FetchedAt:  time.Now(),
	}, nil
}

func (r *ChromedpRenderer) sessionErr() error {
	if err := r.browserCtx.Err(); err != nil {
		return fmt.Errorf("%w: %v", repository.ErrRendererGone, context.Cause(r.browserCtx))
	}
	return nil
}

func (r *ChromedpRenderer) waitReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		readyCtx, cancel := context.WithTimeout(ctx, r.opts.ReadyTimeout)
		defer cancel()
		return chromedp.WaitVisible(r.opts.WaitSelector, chromedp.ByQuery).Do(readyCtx)
	})
}

// Close shuts the browser down. It is safe to call more than once.
func (r *ChromedpRenderer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = chromedp.Cancel(r.browserCtx)
		r.browserCancel()
		r.allocCancel()
		r.logger.Info("browser session closed")
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Classify maps a render outcome to a *repository.FetchError, or nil on success.
// 404 and 410 documents count as not found and 5xx as transport failures;
// other statuses are returned as rendered.
func Classify(url string, status int, err error) error {
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return &repository.FetchError{Kind: repository.FetchTimeout, URL: url, StatusCode: status, Err: err}
	case err != nil:
		return &repository.FetchError{Kind: repository.FetchTransport, URL: url, StatusCode: status, Err: fmt.Errorf("chromedp run: %w", err)}
	case status == http.StatusNotFound || status == http.StatusGone:
		return &repository.FetchError{Kind: repository.FetchNotFound, URL: url, StatusCode: status, Err: errors.New(http.StatusText(status))}
	case status >= http.StatusInternalServerError:
		return &repository.FetchError{Kind: repository.FetchTransport, URL: url, StatusCode: status, Err: errors.New(http.StatusText(status))}
	default:
		return nil
	}
}
