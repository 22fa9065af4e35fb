package arrowexport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rezzubs/faultforge/internal/logger"
	"github.com/rezzubs/faultforge/internal/stats"
)

// DefaultPort is used when an address carries no port.
const DefaultPort = 3000

// DescriptorPath names the flight experiments are uploaded under.
var DescriptorPath = []string{"faultforge", "experiments"}

// FlightClient uploads experiments to an Arrow Flight endpoint.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

// NewFlightClient creates an unconnected client for host:port.
func NewFlightClient(host string, port int) *FlightClient {
	if port <= 0 {
		port = DefaultPort
	}
	return &FlightClient{
		addr:    fmt.Sprintf("%s:%d", host, port),
		timeout: 30 * time.Second,
	}
}

// NewFlightClientAddr creates an unconnected client for a host:port string.
func NewFlightClientAddr(addr string) *FlightClient {
	return &FlightClient{addr: addr, timeout: 30 * time.Second}
}

func (fc *FlightClient) Addr() string {
	return fc.addr
}

// Connect establishes the grpc connection. The transport is plaintext.
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddlewareCtx(ctx, fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

func (fc *FlightClient) Close() error {
	if fc.client != nil {
		err := fc.client.Close()
		fc.client = nil
		return err
	}
	return nil
}

// DoPut streams experiments as one record and waits for the server to
// acknowledge. It returns the number of rows sent.
func (fc *FlightClient) DoPut(ctx context.Context, experiments []*stats.Experiment) (int64, error) {
	if fc.client == nil {
		return 0, fmt.Errorf("client not connected, call Connect() first")
	}
	if len(experiments) == 0 {
		return 0, fmt.Errorf("no experiments provided")
	}

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	mem := memory.NewGoAllocator()
	rec := Record(mem, experiments)
	defer rec.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: DescriptorPath,
	})
	if err := w.Write(rec); err != nil {
		w.Close()
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return 0, fmt.Errorf("failed to close stream: %w", err)
	}

	// drain acknowledgements until the server ends the call
	for {
		if _, err := stream.Recv(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("DoPut failed: %w", err)
		}
	}

	logger.Log.Info("Sent experiments over Flight",
		"addr", fc.addr,
		"experiments", len(experiments),
		"rows", rec.NumRows())
	return rec.NumRows(), nil
}

// Sink receives uploaded rows. It is the storage side of Server.
type Sink interface {
	Put(path []string, rows []Row) error
}

// Server is a minimal Flight service accepting DoPut uploads of the
// experiment schema.
type Server struct {
	flight.BaseFlightServer
	sink Sink
}

func NewServer(sink Sink) *Server {
	return &Server{sink: sink}
}

func (s *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	r, err := flight.NewRecordReader(stream)
	if err != nil {
		return fmt.Errorf("open record stream: %w", err)
	}
	defer r.Release()

	// The descriptor travels with the schema message only.
	var path []string
	if desc := r.LatestFlightDescriptor(); desc != nil {
		path = desc.Path
	}
	rows, err := readRows(r)
	if err != nil {
		return err
	}
	if err := s.sink.Put(path, rows); err != nil {
		return err
	}
	logger.Log.Debug("Received experiments over Flight", "path", path, "rows", len(rows))
	return stream.Send(&flight.PutResult{AppMetadata: []byte(fmt.Sprint(len(rows)))})
}

// MemorySink keeps uploads in memory, keyed by descriptor path.
type MemorySink struct {
	mu   sync.RWMutex
	data map[string][]Row
}

func NewMemorySink() *MemorySink {
	return &MemorySink{data: make(map[string][]Row)}
}

func (m *MemorySink) Put(path []string, rows []Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.Join(path, "/")
	m.data[key] = append(m.data[key], rows...)
	return nil
}

// Rows returns a copy of everything stored under path.
func (m *MemorySink) Rows(path ...string) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data[strings.Join(path, "/")])
}

func (m *MemorySink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]Row)
}
