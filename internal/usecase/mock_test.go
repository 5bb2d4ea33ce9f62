package usecase

import (
	"context"
	"io"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/bbscout/dbbackup/internal/adapter/compressor"
	"github.com/bbscout/dbbackup/internal/domain"
)

func newTestGzip() *compressor.GzipCompressor {
	c, err := compressor.NewGzip(-1)
	if err != nil {
		panic(err)
	}
	return c
}

var (
	_ domain.RemoteStore  = (*MockStore)(nil)
	_ domain.DumpExecutor = (*MockDumper)(nil)
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) EnsureDir(ctx context.Context, dest domain.Destination) error {
	args := m.Called(ctx, dest)
	return args.Error(0)
}

func (m *MockStore) Upload(ctx context.Context, localPath string, dest domain.Destination, name string) error {
	args := m.Called(ctx, localPath, dest, name)
	return args.Error(0)
}

func (m *MockStore) List(ctx context.Context, dest domain.Destination) ([]string, error) {
	args := m.Called(ctx, dest)
	names, _ := args.Get(0).([]string)
	return names, args.Error(1)
}

func (m *MockStore) Delete(ctx context.Context, dest domain.Destination, name string) error {
	args := m.Called(ctx, dest, name)
	return args.Error(0)
}

type MockDumper struct {
	mock.Mock
}

func (m *MockDumper) Dump(ctx context.Context, conn domain.ConnectionSpec, w io.Writer) error {
	args := m.Called(ctx, conn, w)
	return args.Error(0)
}

func (m *MockDumper) Ping(ctx context.Context, conn domain.ConnectionSpec) error {
	args := m.Called(ctx, conn)
	return args.Error(0)
}

// recordingStore keeps objects in memory and records every call in order.
type recordingStore struct {
	mu      sync.Mutex
	objects map[string]bool
	calls   []string
	failOn  map[string]error
}

func newRecordingStore(names ...string) *recordingStore {
	s := &recordingStore{objects: make(map[string]bool), failOn: make(map[string]error)}
	for _, name := range names {
		s.objects[name] = true
	}
	return s
}

func (s *recordingStore) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.failOn[call]
}

func (s *recordingStore) EnsureDir(ctx context.Context, dest domain.Destination) error {
	return s.record("mkdir " + dest.String())
}

func (s *recordingStore) Upload(ctx context.Context, localPath string, dest domain.Destination, name string) error {
	if err := s.record("upload " + name); err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[name] = true
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) List(ctx context.Context, dest domain.Destination) ([]string, error) {
	if err := s.record("list " + dest.String()); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	return names, nil
}

func (s *recordingStore) Delete(ctx context.Context, dest domain.Destination, name string) error {
	if err := s.record("delete " + name); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.objects, name)
	s.mu.Unlock()
	return nil
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}
