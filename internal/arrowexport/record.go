// Package arrowexport flattens experiments into Arrow records, one row per
// trial, for analysis outside of Go.
package arrowexport

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/rezzubs/faultforge/internal/stats"
)

// Schema is the layout of every exported record.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "scheme", Type: arrow.BinaryTypes.String},
	{Name: "category", Type: arrow.BinaryTypes.String},
	{Name: "dtype", Type: arrow.BinaryTypes.String},
	{Name: "total_bits", Type: arrow.PrimitiveTypes.Int64},
	{Name: "faults", Type: arrow.PrimitiveTypes.Int64},
	{Name: "ber", Type: arrow.PrimitiveTypes.Float64},
	{Name: "accuracy", Type: arrow.PrimitiveTypes.Float64},
}, nil)

// Row is one trial as exported.
type Row struct {
	Scheme    string
	Category  string
	DType     string
	TotalBits int64
	Faults    int64
	BER       float64
	Accuracy  float64
}

// Rows flattens experiments in order.
func Rows(experiments []*stats.Experiment) []Row {
	var rows []Row
	for _, x := range experiments {
		scheme := x.Metadata["scheme"]
		category := string(stats.CategoryOf(x.Metadata))
		for _, e := range x.Entries {
			rows = append(rows, Row{
				Scheme:    scheme,
				Category:  category,
				DType:     x.Metadata["dtype"],
				TotalBits: int64(x.TotalBits),
				Faults:    int64(e.FaultCount()),
				BER:       x.BitErrorRate(e),
				Accuracy:  e.Accuracy,
			})
		}
	}
	return rows
}

// Record builds a single record of every trial. The caller releases it.
func Record(mem memory.Allocator, experiments []*stats.Experiment) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	rows := Rows(experiments)
	scheme := b.Field(0).(*array.StringBuilder)
	category := b.Field(1).(*array.StringBuilder)
	dtype := b.Field(2).(*array.StringBuilder)
	totalBits := b.Field(3).(*array.Int64Builder)
	faults := b.Field(4).(*array.Int64Builder)
	ber := b.Field(5).(*array.Float64Builder)
	accuracy := b.Field(6).(*array.Float64Builder)
	b.Reserve(len(rows))

	for _, r := range rows {
		scheme.Append(r.Scheme)
		category.Append(r.Category)
		dtype.Append(r.DType)
		totalBits.Append(r.TotalBits)
		faults.Append(r.Faults)
		ber.Append(r.BER)
		accuracy.Append(r.Accuracy)
	}
	return b.NewRecord()
}

// WriteIPC writes experiments as an Arrow IPC stream with one record.
func WriteIPC(w io.Writer, experiments []*stats.Experiment) error {
	mem := memory.NewGoAllocator()
	rec := Record(mem, experiments)
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		return fmt.Errorf("write arrow record: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("close arrow stream: %w", err)
	}
	return nil
}

// ReadIPC reads back every row of a stream written by WriteIPC.
func ReadIPC(r io.Reader) ([]Row, error) {
	ir, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("open arrow stream: %w", err)
	}
	defer ir.Release()
	return readRows(ir)
}

type recordIterator interface {
	Next() bool
	Record() arrow.Record
	Err() error
}

func readRows(it recordIterator) ([]Row, error) {
	var rows []Row
	for it.Next() {
		more, err := decodeRecord(it.Record())
		if err != nil {
			return nil, err
		}
		rows = append(rows, more...)
	}
	if err := it.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read arrow stream: %w", err)
	}
	return rows, nil
}

func decodeRecord(rec arrow.Record) ([]Row, error) {
	if !rec.Schema().Equal(Schema) {
		return nil, fmt.Errorf("unexpected arrow schema: %s", rec.Schema())
	}
	scheme := rec.Column(0).(*array.String)
	category := rec.Column(1).(*array.String)
	dtype := rec.Column(2).(*array.String)
	totalBits := rec.Column(3).(*array.Int64)
	faults := rec.Column(4).(*array.Int64)
	ber := rec.Column(5).(*array.Float64)
	accuracy := rec.Column(6).(*array.Float64)

	rows := make([]Row, rec.NumRows())
	for i := range rows {
		rows[i] = Row{
			Scheme:    scheme.Value(i),
			Category:  category.Value(i),
			DType:     dtype.Value(i),
			TotalBits: totalBits.Value(i),
			Faults:    faults.Value(i),
			BER:       ber.Value(i),
			Accuracy:  accuracy.Value(i),
		}
	}
	return rows, nil
}
