package venue

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAdapter is a scriptable Adapter. connect and stream are consulted per
// call; nil funcs succeed and block until cancelled respectively.
type fakeAdapter struct {
	id      domain.VenueID
	markets []domain.Market
	discErr error

	connect func(ctx context.Context, n int) error
	stream  func(ctx context.Context, sink chan<- Event, n int) error

	mu          sync.Mutex
	connects    int
	streams     int
	disconnects int
	subscribed  [][]domain.Market
	subCh       chan []domain.Market
}

func newFake(id domain.VenueID) *fakeAdapter {
	return &fakeAdapter{id: id, subCh: make(chan []domain.Market, 16)}
}

func (f *fakeAdapter) Venue() domain.VenueID { return f.id }

func (f *fakeAdapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{Streaming: true}
}

func (f *fakeAdapter) Discover(context.Context) ([]domain.Market, error) {
	return f.markets, f.discErr
}

func (f *fakeAdapter) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	n := f.connects
	f.mu.Unlock()
	if f.connect != nil {
		return f.connect(ctx, n)
	}
	return nil
}

func (f *fakeAdapter) Subscribe(_ context.Context, markets []domain.Market) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, markets)
	f.mu.Unlock()
	select {
	case f.subCh <- markets:
	default:
	}
	return nil
}

func (f *fakeAdapter) Stream(ctx context.Context, sink chan<- Event) error {
	f.mu.Lock()
	f.streams++
	n := f.streams
	f.mu.Unlock()
	if f.stream != nil {
		return f.stream(ctx, sink, n)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeAdapter) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}
