package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/multierr"

	"github.com/angelmondragon/partner-dispatch/pkg/db/models"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
)

const (
	defaultExportLag  = time.Hour
	defaultBatchSize  = 5000
	defaultMaxBatches = 20
	writerParallelism = 4

	// DefaultStream names the watermark row when the caller does not.
	DefaultStream = "location_history"
)

// HistoryRow is the parquet layout of one location_history row.
type HistoryRow struct {
	ID         string   `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	PartnerID  string   `parquet:"name=partner_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Latitude   float64  `parquet:"name=latitude, type=DOUBLE"`
	Longitude  float64  `parquet:"name=longitude, type=DOUBLE"`
	Speed      *float64 `parquet:"name=speed, type=DOUBLE, repetitiontype=OPTIONAL"`
	Heading    *float64 `parquet:"name=heading, type=DOUBLE, repetitiontype=OPTIONAL"`
	DeliveryID *string  `parquet:"name=delivery_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	RecordedAt int64    `parquet:"name=recorded_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// historyStore is read-only: the export never mutates location_history.
type historyStore interface {
	FetchHistoryAfter(ctx context.Context, afterRecordedAt time.Time, afterID uuid.UUID, before time.Time, limit int) ([]models.LocationHistory, error)
}

type Params struct {
	Logger      *logger.Logger
	Store       historyStore
	Watermarks  WatermarkStore
	Destination Destination
	// Stream keys the watermark, one per destination.
	Stream string
	// ExportLag keeps the newest rows out of the export so a batch never
	// races in-flight pings.
	ExportLag  time.Duration
	BatchSize  int
	MaxBatches int
}

// Result summarizes one export pass.
type Result struct {
	Cutoff    time.Time
	Archived  int
	Files     []string
	Watermark Watermark
}

// Archiver copies location history older than the export lag into parquet
// files. Progress is a watermark kept in location_history_exports; the
// watermark only advances after a file is committed.
type Archiver struct {
	logg       *logger.Logger
	store      historyStore
	marks      WatermarkStore
	dest       Destination
	stream     string
	lag        time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

func NewArchiver(params Params) (*Archiver, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Store == nil {
		return nil, errors.New("history store required")
	}
	if params.Watermarks == nil {
		return nil, errors.New("watermark store required")
	}
	if params.Destination == nil {
		return nil, errors.New("destination required")
	}
	a := &Archiver{
		logg:       params.Logger,
		store:      params.Store,
		marks:      params.Watermarks,
		dest:       params.Destination,
		stream:     params.Stream,
		lag:        params.ExportLag,
		batchSize:  params.BatchSize,
		maxBatches: params.MaxBatches,
		now:        time.Now,
	}
	if a.stream == "" {
		a.stream = DefaultStream
	}
	if a.lag <= 0 {
		a.lag = defaultExportLag
	}
	if a.batchSize <= 0 {
		a.batchSize = defaultBatchSize
	}
	if a.maxBatches <= 0 {
		a.maxBatches = defaultMaxBatches
	}
	return a, nil
}

// Run exports up to maxBatches batches past the stored watermark. Whatever is
// left is picked up on the next run.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	res := Result{Cutoff: a.now().UTC().Add(-a.lag)}
	mark, err := a.marks.Load(ctx, a.stream)
	if err != nil {
		return res, fmt.Errorf("load watermark: %w", err)
	}
	res.Watermark = mark

	for i := 0; i < a.maxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := a.store.FetchHistoryAfter(ctx, mark.RecordedAt, mark.ID, res.Cutoff, a.batchSize)
		if err != nil {
			return res, fmt.Errorf("fetch history: %w", err)
		}
		if len(rows) == 0 {
			break
		}
		name := batchName(rows)
		if err := a.writeBatch(ctx, name, rows); err != nil {
			return res, fmt.Errorf("archive %s: %w", name, err)
		}
		last := rows[len(rows)-1]
		mark = Watermark{RecordedAt: last.RecordedAt, ID: last.ID}
		if err := a.marks.Save(ctx, a.stream, mark); err != nil {
			return res, fmt.Errorf("save watermark after %s: %w", name, err)
		}
		res.Watermark = mark
		res.Files = append(res.Files, name)
		res.Archived += len(rows)
		if len(rows) < a.batchSize {
			break
		}
	}
	return res, nil
}

func (a *Archiver) writeBatch(ctx context.Context, name string, rows []models.LocationHistory) (err error) {
	fw, err := a.dest.Create(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, fw.Discard())
		}
	}()

	pw, err := writer.NewParquetWriter(fw, new(HistoryRow), writerParallelism)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if err := pw.Write(toHistoryRow(row)); err != nil {
			return fmt.Errorf("write row %s: %w", row.ID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet file: %w", err)
	}
	return fw.Close()
}

// batchName partitions files by the day of the oldest row in the batch.
func batchName(rows []models.LocationHistory) string {
	first := rows[0]
	ts := first.RecordedAt.UTC()
	return fmt.Sprintf("dt=%s/%s-%s.parquet", ts.Format("2006-01-02"), ts.Format("150405"), first.ID)
}

func toHistoryRow(m models.LocationHistory) HistoryRow {
	row := HistoryRow{
		ID:         m.ID.String(),
		PartnerID:  m.PartnerID.String(),
		Latitude:   m.Latitude,
		Longitude:  m.Longitude,
		Speed:      m.Speed,
		Heading:    m.Heading,
		RecordedAt: m.RecordedAt.UTC().UnixMilli(),
	}
	if m.DeliveryID != nil {
		id := m.DeliveryID.String()
		row.DeliveryID = &id
	}
	return row
}
