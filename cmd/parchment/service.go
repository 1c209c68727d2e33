package main

import (
	"context"
	"fmt"

	"parchment/pkg/config"
	"parchment/pkg/manuscript"
	"parchment/pkg/metrics"
	"parchment/pkg/rpc"
	"parchment/pkg/words"
)

// pageService is the set of page operations shared by a local manuscript
// and a remote server.
type pageService interface {
	Append(ctx context.Context, values []uint64) (rpc.Page, error)
	Get(ctx context.Context, number uint64) (rpc.Page, error)
	Delete(ctx context.Context, number uint64) error
	List(ctx context.Context) ([]manuscript.EntryStatus, error)
	Recycled(ctx context.Context) ([]manuscript.IndexEntry, error)
	Close() error
}

func openManuscript(cfg config.Config, c metrics.Collector) (*manuscript.Manuscript, error) {
	backend, err := words.ParseBackend(cfg.Storage.Backend)
	if err != nil {
		return nil, err
	}
	return manuscript.Open(cfg.Storage.Path,
		manuscript.WithBackend(backend),
		manuscript.WithCacheCapacity(cfg.Storage.CacheCapacity),
		manuscript.WithWaitTimeout(cfg.Storage.WaitTimeout()),
		manuscript.WithMetrics(c),
	)
}

// connect returns a remote service when g.Remote is set and a local one
// otherwise.
func connect(g *Globals) (pageService, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	initLogger(&cfg)

	if g.Remote != "" {
		return remoteService{rpc.NewClient(g.Remote)}, nil
	}
	m, err := openManuscript(cfg, metrics.Nop{})
	if err != nil {
		return nil, err
	}
	return localService{m}, nil
}

type remoteService struct {
	*rpc.Client
}

func (remoteService) Close() error { return nil }

type localService struct {
	m *manuscript.Manuscript
}

func view(p manuscript.Page, values []uint64) rpc.Page {
	return rpc.Page{Number: p.Number(), Offset: p.Offset(), Length: p.Length(), Values: values}
}

func (s localService) Append(_ context.Context, values []uint64) (rpc.Page, error) {
	p, err := s.m.Append(manuscript.NewPage{Values: values})
	if err != nil {
		return rpc.Page{}, err
	}
	return view(p, nil), nil
}

func (s localService) Get(_ context.Context, number uint64) (rpc.Page, error) {
	p, err := s.m.Get(number)
	if err != nil {
		return rpc.Page{}, err
	}
	values, err := p.Values()
	if err != nil {
		return rpc.Page{}, err
	}
	return view(p, values), nil
}

func (s localService) Delete(_ context.Context, number uint64) error {
	p, err := s.m.Get(number)
	if err != nil {
		return fmt.Errorf("resolve page %d: %w", number, err)
	}
	return s.m.Delete(p)
}

func (s localService) List(context.Context) ([]manuscript.EntryStatus, error) {
	return s.m.Entries()
}

func (s localService) Recycled(context.Context) ([]manuscript.IndexEntry, error) {
	return s.m.Recycled(), nil
}

func (s localService) Close() error {
	return s.m.Close()
}
