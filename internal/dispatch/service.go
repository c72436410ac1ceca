package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrej220/boardrun/internal/device"
	"github.com/andrej220/boardrun/internal/lg"
	"github.com/andrej220/boardrun/internal/report"
	"github.com/andrej220/boardrun/internal/runner"
	"github.com/andrej220/boardrun/internal/transport"
)

// JobSlack is added to a command timeout to bound the whole job, which
// includes opening the device and writing the report.
const JobSlack = time.Minute

// Source yields requests, e.g. a Consumer[Request].
type Source interface {
	Read(ctx context.Context) (Request, error)
}

// lane serializes the requests of one device; the device is opened on first
// use and reopened after a transport failure.
type lane struct {
	token chan struct{}
	dev   *device.Device
}

// Service runs requests from a Source on configured devices and reports
// every result.
type Service struct {
	devices map[string]device.Config
	ropts   []runner.Option
	sink    report.Sink
	pool    *Pool[Request]
	logger  lg.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

func NewService(devices []device.Config, sink report.Sink, pool *Pool[Request], logger lg.Logger, ropts ...runner.Option) *Service {
	if logger == nil {
		logger = lg.Discard
	}
	m := make(map[string]device.Config, len(devices))
	for _, d := range devices {
		m[d.Name] = d
	}
	return &Service{
		devices: m,
		ropts:   ropts,
		sink:    sink,
		pool:    pool,
		logger:  logger,
		lanes:   make(map[string]*lane),
	}
}

// Serve reads requests until ctx is done, then waits for running jobs and
// closes the devices.
func (s *Service) Serve(ctx context.Context, src Source) error {
	defer s.closeDevices()
	defer s.pool.Stop()

	for {
		req, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrBadMessage) {
				s.logger.Warn("skipping message", lg.Err(err))
				continue
			}
			s.logger.Error("read request", lg.Err(err))
			if sleepCtx(ctx, time.Second) != nil {
				return nil
			}
			continue
		}
		s.logger.Debug("received request", lg.Any("request", req))
		if err := s.Submit(ctx, req); err != nil {
			if errors.Is(err, ErrStopped) || ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("request rejected", lg.String("exuid", req.ExecutionUID.String()), lg.Err(err))
		}
	}
}

// Submit queues one request on the pool.
func (s *Service) Submit(ctx context.Context, req Request) error {
	if req.ExecutionUID == uuid.Nil {
		req.ExecutionUID = uuid.New()
	}
	if _, ok := s.devices[req.Device]; !ok {
		return fmt.Errorf("unknown device %q", req.Device)
	}
	if err := req.Command.Validate(); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	jobCtx, cancel := context.WithTimeout(ctx, req.Command.Timeout+JobSlack)
	jobCtx = lg.Attach(jobCtx, s.logger.With(
		lg.String("exuid", req.ExecutionUID.String()),
		lg.String("device", req.Device),
	))
	err := s.pool.Submit(Job[Request]{
		Payload:     req,
		Fn:          s.handle,
		Ctx:         jobCtx,
		CleanupFunc: cancel,
	})
	if err != nil {
		cancel()
	}
	return err
}

func (s *Service) lane(name string) *lane {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[name]
	if !ok {
		l = &lane{token: make(chan struct{}, 1)}
		s.lanes[name] = l
	}
	return l
}

func (s *Service) handle(ctx context.Context, req Request) error {
	l := s.lane(req.Device)
	select {
	case l.token <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.token }()

	logger := lg.FromContext(ctx)
	if l.dev == nil {
		dev, err := device.Open(ctx, s.devices[req.Device], s.logger, s.ropts...)
		if err != nil {
			return err
		}
		l.dev = dev
	}

	res, err := l.dev.Run(ctx, req.Command)
	if err != nil {
		if errors.Is(err, runner.ErrTransport) || errors.Is(err, transport.ErrConnection) {
			logger.Warn("dropping device after transport failure", lg.Err(err))
			_ = l.dev.Close()
			l.dev = nil
		}
		return err
	}
	rec := report.FromResult(req.ExecutionUID.String(), req.Device, req.Command.Command, res)
	if err := s.sink.Write(ctx, rec); err != nil {
		// the command already ran; a retry would run it again
		logger.Error("report write failed", lg.Err(err))
	}
	return nil
}

func (s *Service) closeDevices() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, l := range s.lanes {
		if l.dev != nil {
			if err := l.dev.Close(); err != nil {
				s.logger.Warn("close device", lg.String("device", name), lg.Err(err))
			}
			l.dev = nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return nil
}
